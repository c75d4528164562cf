package session

import "testing"

func TestApplyInputProcessingGateZeroesQuietBuffer(t *testing.T) {
	quiet := make([]int16, 960)
	quiet[0] = 10 // well under the 0.01 normalized threshold at this length
	out := applyInputProcessing(quiet, 0.01, 1.0)
	for i, v := range out {
		if v != 0 {
			t.Fatalf("out[%d] = %d, want 0 (gate should zero the whole buffer)", i, v)
		}
	}
}

func TestApplyInputProcessingPassesThroughAtUnityGain(t *testing.T) {
	pcm := []int16{100, -200, 300}
	out := applyInputProcessing(pcm, 0, 1.0)
	for i := range pcm {
		if out[i] != pcm[i] {
			t.Fatalf("out[%d] = %d, want %d", i, out[i], pcm[i])
		}
	}
}

func TestApplyInputProcessingScalesAndClamps(t *testing.T) {
	pcm := []int16{20000, -20000}
	out := applyInputProcessing(pcm, 0, 2.0)
	if out[0] != 32767 {
		t.Fatalf("out[0] = %d, want clamped 32767", out[0])
	}
	if out[1] != -32767 {
		t.Fatalf("out[1] = %d, want clamped -32767", out[1])
	}
}

func TestClampI16Bounds(t *testing.T) {
	if clampI16(100000) != 32767 {
		t.Fatalf("expected positive clamp")
	}
	if clampI16(-100000) != -32767 {
		t.Fatalf("expected negative clamp")
	}
	if clampI16(42) != 42 {
		t.Fatalf("expected passthrough for in-range values")
	}
}
