// Package codec wraps the Opus and AV1 codec libraries with the fixed
// parameters this engine always uses: 48 kHz mono 20 ms Opus frames, and
// low-latency AV1 tuned for real-time capture.
package codec

import (
	"fmt"

	"github.com/hraban/opus"
)

// SampleRate is the fixed Opus sample rate (Hz).
const SampleRate = 48000

// Channels is the fixed Opus channel count.
const Channels = 1

// FrameSize is the fixed Opus frame size in samples (20 ms at 48 kHz).
const FrameSize = 960

// maxEncodedBytes bounds a single compressed Opus frame.
const maxEncodedBytes = 4000

// OpusEncoder wraps a VoIP-tuned libopus encoder at 48 kHz mono, 20 ms
// frames, matching the teacher's media_linux.go opus.NewParams() usage but
// operating on raw PCM rather than an RTP track.
type OpusEncoder struct {
	enc *opus.Encoder
}

// NewOpusEncoder creates an Opus encoder at 48 kHz mono for VoIP.
func NewOpusEncoder() (*OpusEncoder, error) {
	enc, err := opus.NewEncoder(SampleRate, Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	return &OpusEncoder{enc: enc}, nil
}

// Encode compresses one FrameSize-sample PCM buffer. It returns the
// compressed payload and whether the encoder emitted a DTX (comfort-noise)
// frame for this buffer.
func (e *OpusEncoder) Encode(pcm []int16) (payload []byte, dtx bool, err error) {
	if len(pcm) != FrameSize {
		return nil, false, fmt.Errorf("opus encode: pcm length %d != %d", len(pcm), FrameSize)
	}
	out := make([]byte, maxEncodedBytes)
	n, err := e.enc.Encode(pcm, out)
	if err != nil {
		return nil, false, fmt.Errorf("opus encode: %w", err)
	}
	// libopus signals a DTX/comfort-noise frame with a very small payload;
	// the InDTX accessor mirrors the real encoder state when available.
	dtx = e.enc.InDTX()
	return out[:n], dtx, nil
}

// OpusDecoder wraps a libopus decoder at 48 kHz mono producing fixed
// FrameSize-sample output.
type OpusDecoder struct {
	dec *opus.Decoder
}

// NewOpusDecoder creates an Opus decoder at 48 kHz mono.
func NewOpusDecoder() (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec}, nil
}

// Decode decompresses one Opus payload into a fixed FrameSize-sample PCM
// buffer. A nil/empty payload is passed to libopus's built-in packet-loss
// concealment (decode-with-nil), keeping the decoder's internal state
// consistent across DTX gaps rather than special-casing silence, per
// SPEC_FULL.md §9.
func (d *OpusDecoder) Decode(payload []byte) ([]int16, error) {
	out := make([]int16, FrameSize)
	var n int
	var err error
	if len(payload) == 0 {
		n, err = d.dec.DecodePLC(out)
	} else {
		n, err = d.dec.Decode(payload, out)
	}
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}
	return out[:n], nil
}
