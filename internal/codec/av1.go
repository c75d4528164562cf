package codec

import (
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"
)

// EncodedPacket is one AV1 packet emitted by Av1Encoder.
type EncodedPacket struct {
	Data       []byte
	IsKeyframe bool
	Timestamp  int64
}

// Av1Encoder wraps an FFmpeg libaom-av1 encoder configured for low-latency
// real-time capture, per spec.md §4.3: 8-bit I420, low_latency, target
// bitrate, max key-frame interval = fps*10, fastest speed preset, 2 threads.
type Av1Encoder struct {
	ctx        *astiav.CodecContext
	frame      *astiav.Frame
	width      int
	height     int
	frameCount int64
}

// NewAv1Encoder opens an AV1 encoder at width x height, fps, targeting
// bitrateKbps kbit/s.
func NewAv1Encoder(width, height int, fps, bitrateKbps int) (*Av1Encoder, error) {
	enc := astiav.FindEncoder(astiav.CodecIDAv1)
	if enc == nil {
		return nil, errors.New("av1 encoder: libaom-av1 not available in this ffmpeg build")
	}

	ctx := astiav.AllocCodecContext(enc)
	if ctx == nil {
		return nil, errors.New("av1 encoder: failed to allocate codec context")
	}

	ctx.SetWidth(width)
	ctx.SetHeight(height)
	ctx.SetPixelFormat(astiav.PixelFormatYuv420P)
	ctx.SetTimeBase(astiav.NewRational(1, fps))
	ctx.SetBitRate(int64(bitrateKbps) * 1000)
	ctx.SetGopSize(fps * 10) // max_key_frame_interval
	ctx.SetThreadCount(2)

	opts := astiav.NewDictionary()
	defer opts.Free()
	// libaom low-latency real-time tuning: fastest speed preset, no lag.
	_ = opts.Set("usage", "realtime", 0)
	_ = opts.Set("cpu-used", "9", 0) // fastest preset libaom exposes
	_ = opts.Set("lag-in-frames", "0", 0)

	if err := ctx.Open(enc, opts); err != nil {
		ctx.Free()
		return nil, fmt.Errorf("av1 encoder: open: %w", err)
	}

	frame := astiav.AllocFrame()
	frame.SetWidth(width)
	frame.SetHeight(height)
	frame.SetPixelFormat(astiav.PixelFormatYuv420P)

	return &Av1Encoder{ctx: ctx, frame: frame, width: width, height: height}, nil
}

// Encode submits one I420 frame (y, u, v planes sized for width x height)
// and drains any packets the encoder is ready to emit.
func (e *Av1Encoder) Encode(y, u, v []byte) ([]EncodedPacket, error) {
	if err := e.frame.AllocBuffer(32); err != nil {
		return nil, fmt.Errorf("av1 encoder: alloc frame buffer: %w", err)
	}
	if err := e.frame.Data().SetBytes(y, 0); err != nil {
		return nil, fmt.Errorf("av1 encoder: copy Y plane: %w", err)
	}
	if err := e.frame.Data().SetBytes(u, 1); err != nil {
		return nil, fmt.Errorf("av1 encoder: copy U plane: %w", err)
	}
	if err := e.frame.Data().SetBytes(v, 2); err != nil {
		return nil, fmt.Errorf("av1 encoder: copy V plane: %w", err)
	}
	e.frame.SetPts(e.frameCount)
	e.frameCount++

	if err := e.ctx.SendFrame(e.frame); err != nil {
		return nil, fmt.Errorf("av1 encoder: send frame: %w", err)
	}
	return e.drainPackets()
}

// Flush signals end-of-stream and drains any remaining buffered packets.
func (e *Av1Encoder) Flush() ([]EncodedPacket, error) {
	if err := e.ctx.SendFrame(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
		return nil, fmt.Errorf("av1 encoder: flush: %w", err)
	}
	return e.drainPackets()
}

func (e *Av1Encoder) drainPackets() ([]EncodedPacket, error) {
	var packets []EncodedPacket
	pkt := astiav.AllocPacket()
	defer pkt.Free()
	for {
		err := e.ctx.ReceivePacket(pkt)
		if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("av1 encoder: receive packet: %w", err)
		}
		data := make([]byte, len(pkt.Data()))
		copy(data, pkt.Data())
		packets = append(packets, EncodedPacket{
			Data:       data,
			IsKeyframe: pkt.Flags().Has(astiav.PacketFlagKey),
			Timestamp:  pkt.Pts(),
		})
		pkt.Unref()
	}
	return packets, nil
}

// Close releases the encoder's codec context and scratch frame.
func (e *Av1Encoder) Close() {
	e.frame.Free()
	e.ctx.Free()
}

// DecodedFrame is one AV1-decoded picture, converted to RGBA.
type DecodedFrame struct {
	Width  int
	Height int
	RGBA   []byte
}

// Av1Decoder wraps an FFmpeg libdav1d AV1 decoder with 2 threads and
// minimal frame delay, per spec.md §4.3.
type Av1Decoder struct {
	ctx   *astiav.CodecContext
	frame *astiav.Frame
}

// NewAv1Decoder opens an AV1 decoder.
func NewAv1Decoder() (*Av1Decoder, error) {
	dec := astiav.FindDecoder(astiav.CodecIDAv1)
	if dec == nil {
		return nil, errors.New("av1 decoder: libdav1d not available in this ffmpeg build")
	}
	ctx := astiav.AllocCodecContext(dec)
	if ctx == nil {
		return nil, errors.New("av1 decoder: failed to allocate codec context")
	}
	ctx.SetThreadCount(2)

	opts := astiav.NewDictionary()
	defer opts.Free()
	_ = opts.Set("framethreads", "2", 0)
	_ = opts.Set("max-frame-delay", "1", 0)

	if err := ctx.Open(dec, opts); err != nil {
		ctx.Free()
		return nil, fmt.Errorf("av1 decoder: open: %w", err)
	}
	return &Av1Decoder{ctx: ctx, frame: astiav.AllocFrame()}, nil
}

// Decode feeds one AV1 bitstream fragment and returns at most one decoded
// picture converted to RGBA. It returns (zero, false, nil) when the
// decoder needs more input before a picture is ready.
func (d *Av1Decoder) Decode(data []byte) (DecodedFrame, bool, error) {
	pkt := astiav.AllocPacket()
	defer pkt.Free()
	if err := pkt.FromBytes(data); err != nil {
		return DecodedFrame{}, false, fmt.Errorf("av1 decoder: load packet: %w", err)
	}

	if err := d.ctx.SendPacket(pkt); err != nil && !errors.Is(err, astiav.ErrEagain) {
		return DecodedFrame{}, false, fmt.Errorf("av1 decoder: send packet: %w", err)
	}

	err := d.ctx.ReceiveFrame(d.frame)
	if errors.Is(err, astiav.ErrEagain) {
		return DecodedFrame{}, false, nil
	}
	if err != nil {
		return DecodedFrame{}, false, fmt.Errorf("av1 decoder: receive frame: %w", err)
	}
	defer d.frame.Unref()

	w, h := d.frame.Width(), d.frame.Height()
	rgba := i420ToRGBA(d.frame.Data().Bytes(0), d.frame.Data().Bytes(1), d.frame.Data().Bytes(2),
		d.frame.Linesize(0), d.frame.Linesize(1), d.frame.Linesize(2), w, h)

	return DecodedFrame{Width: w, Height: h, RGBA: rgba}, true, nil
}

// Close releases the decoder's codec context and scratch frame.
func (d *Av1Decoder) Close() {
	d.frame.Free()
	d.ctx.Free()
}

// i420ToRGBA converts planar I420 (with possible row padding given by the
// stride arguments) to packed RGBA using BT.601 coefficients, per
// spec.md §4.3. Alpha is always 255.
func i420ToRGBA(y, u, v []byte, yStride, uStride, vStride, w, h int) []byte {
	out := make([]byte, w*h*4)
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			yv := float64(y[row*yStride+col])
			uv := float64(u[(row/2)*uStride+col/2]) - 128
			vv := float64(v[(row/2)*vStride+col/2]) - 128

			r := clamp255(yv + 1.402*vv)
			g := clamp255(yv - 0.344136*uv - 0.714136*vv)
			b := clamp255(yv + 1.772*uv)

			idx := (row*w + col) * 4
			out[idx] = r
			out[idx+1] = g
			out[idx+2] = b
			out[idx+3] = 255
		}
	}
	return out
}

func clamp255(v float64) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
