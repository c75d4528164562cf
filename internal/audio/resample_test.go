package audio

import "testing"

func TestDownmixUpmixRoundTrip(t *testing.T) {
	// Invariant 5 from spec.md §8: downmix(upmix(mono, N), N) ~= mono
	// within 1 LSB (integer rounding).
	mono := []int16{0, 100, -100, 32767, -32767, 1234}
	for _, channels := range []int{1, 2, 4} {
		up := UpmixFromMonoF32(mono, channels)
		down := DownmixToMonoI16(up, channels)
		if len(down) != len(mono) {
			t.Fatalf("channels=%d: got %d samples, want %d", channels, len(down), len(mono))
		}
		for i := range mono {
			diff := int(down[i]) - int(mono[i])
			if diff < -1 || diff > 1 {
				t.Errorf("channels=%d sample %d: got %d, want ~%d (diff %d)", channels, i, down[i], mono[i], diff)
			}
		}
	}
}

func TestDownmixMonoPassthrough(t *testing.T) {
	in := []float32{0.5, -0.5, 0}
	out := DownmixToMonoI16(in, 1)
	want := []int16{f32ToI16(0.5), f32ToI16(-0.5), 0}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d: got %d want %d", i, out[i], want[i])
		}
	}
}

func TestDownmixClamps(t *testing.T) {
	out := DownmixToMonoI16([]float32{2.0, -2.0}, 1)
	if out[0] != 32767 || out[1] != -32767 {
		t.Fatalf("expected clamping to +-32767, got %v", out)
	}
}

func TestLinearResamplerIdentity(t *testing.T) {
	r := NewLinearResampler(48000, 48000)
	in := []float32{0.1, 0.2, 0.3, 0.4}
	out := r.Resample(in, nil)
	if len(out) != len(in) {
		t.Fatalf("identity resample: got %d samples, want %d", len(out), len(in))
	}
}

func TestLinearResamplerDownsampleLength(t *testing.T) {
	// 48000 -> 24000 should roughly halve the sample count over a long run.
	r := NewLinearResampler(48000, 24000)
	in := make([]float32, 4800)
	out := r.Resample(in, nil)
	want := 2400
	if diff := absDiff(len(out), want); diff > 5 {
		t.Fatalf("downsample length: got %d, want ~%d", len(out), want)
	}
}

func TestLinearResamplerUpsampleLength(t *testing.T) {
	r := NewLinearResampler(24000, 48000)
	in := make([]float32, 2400)
	out := r.Resample(in, nil)
	want := 4800
	if diff := absDiff(len(out), want); diff > 5 {
		t.Fatalf("upsample length: got %d, want ~%d", len(out), want)
	}
}

func absDiff(got, want int) int {
	d := got - want
	if d < 0 {
		d = -d
	}
	return d
}
