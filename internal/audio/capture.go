package audio

import (
	"fmt"
	"math"
	"sync"
	"unsafe"

	"github.com/gen2brain/malgo"
)

// CapturedFrame is one 20 ms, 48 kHz mono PCM frame ready for Opus encoding.
type CapturedFrame struct {
	PCM []int16
}

// Capture owns a malgo capture device and assembles its callback output
// into fixed FrameSize chunks delivered over a channel, matching the
// teacher's pattern of bridging a callback-based device into channel-driven
// consumers (internal/call/media_linux.go's device negotiation, generalized
// here to a buffered emit instead of an RTP track write).
type Capture struct {
	device   *malgo.Device
	cfg      NegotiatedConfig
	resamp   *LinearResampler
	frameLen int

	mu      sync.Mutex
	pending []int16

	Frames chan CapturedFrame
}

// StartCapture opens and starts a capture device at the negotiated
// configuration, emitting fixed-size (frameLen) mono frames on Frames.
func StartCapture(ctx *malgo.AllocatedContext, deviceID *malgo.DeviceID, cfg NegotiatedConfig, frameLen int) (*Capture, error) {
	c := &Capture{
		cfg:      cfg,
		frameLen: frameLen,
		Frames:   make(chan CapturedFrame, 64),
	}
	if cfg.Resample {
		c.resamp = NewLinearResampler(cfg.Rate, TargetSampleRate)
	}

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceCfg.Capture.Format = malgo.FormatF32
	deviceCfg.Capture.Channels = uint32(cfg.Channels)
	deviceCfg.SampleRate = uint32(cfg.Rate)
	deviceCfg.PeriodSizeInMilliseconds = 20

	if deviceID != nil {
		deviceCfg.Capture.DeviceID = unsafe.Pointer(deviceID)
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, in []byte, frameCount uint32) {
			c.onData(in, frameCount)
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceCfg, callbacks)
	if err != nil {
		return nil, fmt.Errorf("audio capture: init device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("audio capture: start device: %w", err)
	}
	c.device = device
	return c, nil
}

// onData runs on the miniaudio callback thread; it must never block.
func (c *Capture) onData(in []byte, frameCount uint32) {
	samples := bytesToF32(in, int(frameCount)*c.cfg.Channels)
	mono := DownmixToMonoI16(samples, c.cfg.Channels)

	c.mu.Lock()
	if c.resamp != nil {
		f32 := make([]float32, len(mono))
		for i, s := range mono {
			f32[i] = float32(s) / 32767
		}
		out := c.resamp.Resample(f32, nil)
		resampled := make([]int16, len(out))
		for i, s := range out {
			resampled[i] = f32ToI16(s)
		}
		c.pending = append(c.pending, resampled...)
	} else {
		c.pending = append(c.pending, mono...)
	}

	for len(c.pending) >= c.frameLen {
		frame := make([]int16, c.frameLen)
		copy(frame, c.pending[:c.frameLen])
		c.pending = c.pending[c.frameLen:]
		select {
		case c.Frames <- CapturedFrame{PCM: frame}:
		default:
			// supervisor is lagging; drop this frame rather than block
			// the audio callback thread.
		}
	}
	c.mu.Unlock()
}

// Close stops and releases the capture device.
func (c *Capture) Close() {
	if c.device != nil {
		c.device.Stop()
		c.device.Uninit()
	}
}

func bytesToF32(b []byte, count int) []float32 {
	out := make([]float32, count)
	for i := 0; i < count; i++ {
		bits := uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}
