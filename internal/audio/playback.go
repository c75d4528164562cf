package audio

import (
	"fmt"
	"math"
	"sync"
	"time"
	"unsafe"

	"github.com/gen2brain/malgo"
)

// maxFIFOSeconds bounds the playback FIFO at 2 s of device samples,
// drop-oldest when exceeded, per spec.md §4.2.
const maxFIFOSeconds = 2 * time.Second

// Playback owns a malgo playback device and a FIFO of upmixed/resampled
// f32 samples the device callback drains on demand.
type Playback struct {
	device *malgo.Device
	cfg    NegotiatedConfig
	resamp *LinearResampler

	mu      sync.Mutex
	fifo    []float32
	fifoCap int
}

// StartPlayback opens and starts a playback device at the negotiated
// configuration. PushFrame feeds it mono 48 kHz PCM frames to up-mix,
// resample, and enqueue.
func StartPlayback(ctx *malgo.AllocatedContext, deviceID *malgo.DeviceID, cfg NegotiatedConfig) (*Playback, error) {
	p := &Playback{
		cfg:     cfg,
		fifoCap: int(maxFIFOSeconds.Seconds()) * cfg.Rate * cfg.Channels,
	}
	if cfg.Resample {
		p.resamp = NewLinearResampler(TargetSampleRate, cfg.Rate)
	}

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceCfg.Playback.Format = malgo.FormatF32
	deviceCfg.Playback.Channels = uint32(cfg.Channels)
	deviceCfg.SampleRate = uint32(cfg.Rate)
	deviceCfg.PeriodSizeInMilliseconds = 20

	if deviceID != nil {
		deviceCfg.Playback.DeviceID = unsafe.Pointer(deviceID)
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			p.onData(out, frameCount)
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceCfg, callbacks)
	if err != nil {
		return nil, fmt.Errorf("audio playback: init device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("audio playback: start device: %w", err)
	}
	p.device = device
	return p, nil
}

// PushFrame up-mixes and (if needed) resamples a mono 48 kHz PCM frame,
// then appends it to the FIFO, dropping the oldest samples if it would
// exceed the 2 s cap.
func (p *Playback) PushFrame(mono []int16) {
	var samples []float32
	if p.resamp != nil {
		f32 := UpmixFromMonoF32(mono, 1)
		resampled := p.resamp.Resample(f32, nil)
		samples = UpmixFromMonoF32(f32ToI16Slice(resampled), p.cfg.Channels)
	} else {
		samples = UpmixFromMonoF32(mono, p.cfg.Channels)
	}

	p.mu.Lock()
	p.fifo = append(p.fifo, samples...)
	if excess := len(p.fifo) - p.fifoCap; excess > 0 {
		p.fifo = p.fifo[excess:]
	}
	p.mu.Unlock()
}

// onData runs on the miniaudio callback thread; it must never block. It
// drains as many samples as are available and fills any remainder with
// silence, per spec.md §4.2.
func (p *Playback) onData(out []byte, frameCount uint32) {
	need := int(frameCount) * p.cfg.Channels

	p.mu.Lock()
	n := len(p.fifo)
	if n > need {
		n = need
	}
	samples := p.fifo[:n]
	p.fifo = p.fifo[n:]
	p.mu.Unlock()

	for i := 0; i < need; i++ {
		var v float32
		if i < len(samples) {
			v = samples[i]
		}
		putF32(out[i*4:], v)
	}
}

// Close stops and releases the playback device.
func (p *Playback) Close() {
	if p.device != nil {
		p.device.Stop()
		p.device.Uninit()
	}
}

func f32ToI16Slice(f32 []float32) []int16 {
	out := make([]int16, len(f32))
	for i, s := range f32 {
		out[i] = f32ToI16(s)
	}
	return out
}

func putF32(b []byte, v float32) {
	bits := math.Float32bits(v)
	b[0] = byte(bits)
	b[1] = byte(bits >> 8)
	b[2] = byte(bits >> 16)
	b[3] = byte(bits >> 24)
}
