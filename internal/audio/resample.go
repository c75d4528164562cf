// Package audio negotiates device configuration, captures and plays back
// 48 kHz mono PCM over gen2brain/malgo, and provides the linear-interpolation
// resampler and mixing helpers the capture/playback callbacks share.
package audio

// TargetSampleRate is the fixed internal pipeline rate.
const TargetSampleRate = 48000

// LinearResampler converts a stream of float32 samples from one sample rate
// to another using linear interpolation, keeping a one-sample history and a
// fractional phase across calls so frame boundaries don't introduce clicks.
type LinearResampler struct {
	ratio   float64 // fromRate / toRate
	phase   float64
	prevSet bool
	prev    float32
}

// NewLinearResampler builds a resampler converting fromRate -> toRate.
func NewLinearResampler(fromRate, toRate int) *LinearResampler {
	return &LinearResampler{ratio: float64(fromRate) / float64(toRate)}
}

// Resample consumes in and appends resampled output samples to out,
// returning the extended slice. The internal phase carries across calls.
func (r *LinearResampler) Resample(in []float32, out []float32) []float32 {
	for _, s := range in {
		if !r.prevSet {
			r.prev = s
			r.prevSet = true
		}
		for r.phase < 1.0 {
			interp := r.prev + float32(r.phase)*(s-r.prev)
			out = append(out, interp)
			r.phase += r.ratio
		}
		r.phase -= 1.0
		r.prev = s
	}
	return out
}

// f32ToI16 converts one f32 sample to i16 by scaling by 32767 and clamping
// to ±32767, per spec.md §4.2.
func f32ToI16(s float32) int16 {
	v := s * 32767
	if v > 32767 {
		v = 32767
	}
	if v < -32767 {
		v = -32767
	}
	return int16(v)
}

// DownmixToMonoI16 converts an interleaved f32 frame of the given channel
// count to mono i16 samples by arithmetic mean across channels, then scaling
// to the i16 range.
func DownmixToMonoI16(interleaved []float32, channels int) []int16 {
	if channels <= 1 {
		out := make([]int16, len(interleaved))
		for i, s := range interleaved {
			out[i] = f32ToI16(s)
		}
		return out
	}
	frames := len(interleaved) / channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		base := i * channels
		for c := 0; c < channels; c++ {
			sum += interleaved[base+c]
		}
		out[i] = f32ToI16(sum / float32(channels))
	}
	return out
}

// UpmixFromMonoF32 copies each mono i16 sample, converted to ±1.0 f32, N
// times to produce an interleaved N-channel stream, per spec.md §4.2.
func UpmixFromMonoF32(mono []int16, channels int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(mono))
		for i, s := range mono {
			out[i] = float32(s) / 32767
		}
		return out
	}
	out := make([]float32, len(mono)*channels)
	for i, s := range mono {
		v := float32(s) / 32767
		base := i * channels
		for c := 0; c < channels; c++ {
			out[base+c] = v
		}
	}
	return out
}
