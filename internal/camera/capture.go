package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync/atomic"

	"github.com/blackjack/webcam"
)

// Config selects the requested camera resolution and frame rate. Defaults
// match spec.md §9's supplemental camera defaults.
type Config struct {
	Width  int
	Height int
	FPS    int
}

// DefaultConfig matches the original implementation's camera defaults.
func DefaultConfig() Config {
	return Config{Width: 640, Height: 480, FPS: 30}
}

// mjpegFourCC is the V4L2 four-character-code for Motion-JPEG, the
// preferred capture format per spec.md §4.4.
const mjpegFourCC webcam.PixelFormat = 0x47504a4d // 'MJPG' little-endian

// StopHandle stops a running camera capture worker. It is safe to call
// Stop more than once.
type StopHandle struct {
	stopped atomic.Bool
	done    chan struct{}
}

// Stop requests the capture worker to exit and blocks until it has.
func (h *StopHandle) Stop() {
	if h.stopped.CompareAndSwap(false, true) {
		<-h.done
	}
}

// StartCapture opens camera device index 0 (by device path) at the closest
// supported mode to cfg, preferring MJPEG, and starts a background worker
// delivering frames over a bounded 4-slot channel with publish-drop
// backpressure (the newest frame is dropped when the consumer lags),
// per spec.md §4.4.
func StartCapture(devicePath string, cfg Config) (<-chan CapturedFrame, *StopHandle, error) {
	cam, err := webcam.Open(devicePath)
	if err != nil {
		return nil, nil, fmt.Errorf("camera: open %s: %w", devicePath, err)
	}

	format, width, height, err := selectFormat(cam, cfg)
	if err != nil {
		cam.Close()
		return nil, nil, err
	}
	if _, _, _, err := cam.SetImageFormat(format, uint32(width), uint32(height)); err != nil {
		cam.Close()
		return nil, nil, fmt.Errorf("camera: set format: %w", err)
	}

	if err := cam.StartStreaming(); err != nil {
		cam.Close()
		return nil, nil, fmt.Errorf("camera: start streaming: %w", err)
	}

	frames := make(chan CapturedFrame, 4)
	handle := &StopHandle{done: make(chan struct{})}

	go captureLoop(cam, format, width, height, frames, handle)

	return frames, handle, nil
}

func captureLoop(cam *webcam.Webcam, format webcam.PixelFormat, width, height int, out chan<- CapturedFrame, handle *StopHandle) {
	defer close(handle.done)
	defer cam.StopStreaming()
	defer cam.Close()

	for !handle.stopped.Load() {
		if err := cam.WaitForFrame(1); err != nil {
			continue
		}
		raw, err := cam.ReadFrame()
		if err != nil || len(raw) == 0 {
			continue
		}

		rgb, err := decodeToRGB(format, raw, width, height)
		if err != nil {
			continue
		}

		y, u, v := rgbToI420(rgb, width, height)
		rgba := rgbToRGBA(rgb, width, height)
		frame := CapturedFrame{Width: width, Height: height, Y: y, U: u, V: v, RGBA: rgba}

		select {
		case out <- frame:
		default:
			// Consumer is lagging; drop the newest frame (publish-drop),
			// matching spec.md §4.4's backpressure policy.
		}
	}
}

// decodeToRGB turns a captured frame into packed RGB888. MJPEG is decoded
// via the standard library's JPEG decoder; any other negotiated format is
// unsupported (real builds request MJPEG explicitly in selectFormat).
func decodeToRGB(format webcam.PixelFormat, raw []byte, width, height int) ([]byte, error) {
	if format != mjpegFourCC {
		return nil, fmt.Errorf("camera: unsupported pixel format %v", format)
	}
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("camera: jpeg decode: %w", err)
	}
	return imageToRGB(img, width, height), nil
}

func imageToRGB(img image.Image, width, height int) []byte {
	out := make([]byte, width*height*3)
	b := img.Bounds()
	for row := 0; row < height && row < b.Dy(); row++ {
		for col := 0; col < width && col < b.Dx(); col++ {
			r, g, bl, _ := img.At(b.Min.X+col, b.Min.Y+row).RGBA()
			idx := (row*width + col) * 3
			out[idx] = byte(r >> 8)
			out[idx+1] = byte(g >> 8)
			out[idx+2] = byte(bl >> 8)
		}
	}
	return out
}

// selectFormat picks the supported format/resolution closest to cfg,
// preferring MJPEG, per spec.md §4.4.
func selectFormat(cam *webcam.Webcam, cfg Config) (webcam.PixelFormat, int, int, error) {
	formats := cam.GetSupportedFormats()
	if len(formats) == 0 {
		return 0, 0, 0, fmt.Errorf("camera: device reports no supported formats")
	}

	format := mjpegFourCC
	if _, ok := formats[format]; !ok {
		for f := range formats {
			format = f
			break
		}
	}

	sizes := cam.GetSupportedFrameSizes(format)
	width, height := cfg.Width, cfg.Height
	if len(sizes) > 0 {
		width, height = closestSize(sizes, cfg.Width, cfg.Height)
	}
	return format, width, height, nil
}

func closestSize(sizes []webcam.FrameSize, wantW, wantH int) (int, int) {
	best := sizes[0]
	bestDist := sizeDistance(best, wantW, wantH)
	for _, s := range sizes[1:] {
		if d := sizeDistance(s, wantW, wantH); d < bestDist {
			best, bestDist = s, d
		}
	}
	return int(best.MaxWidth), int(best.MaxHeight)
}

func sizeDistance(s webcam.FrameSize, wantW, wantH int) int {
	dw := int(s.MaxWidth) - wantW
	dh := int(s.MaxHeight) - wantH
	if dw < 0 {
		dw = -dw
	}
	if dh < 0 {
		dh = -dh
	}
	return dw + dh
}
