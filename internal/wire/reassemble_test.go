package wire

import (
	"bytes"
	"math/rand"
	"testing"
	"time"
)

func TestReassemblerConvergence(t *testing.T) {
	data := make([]byte, 3600)
	for i := range data {
		data[i] = byte(i)
	}
	frames := FragmentVideo(9, 42, 0, 100, true, data)

	// Shuffle delivery order; all must arrive, none duplicated.
	order := rand.New(rand.NewSource(1)).Perm(len(frames))

	r := NewReassembler()
	var got ReassembledFrame
	var ok bool
	for _, idx := range order {
		f := frames[idx]
		got, ok = r.AddFragment(f.Header, f.Payload)
	}
	if !ok {
		t.Fatalf("expected completion after all fragments delivered")
	}
	if !bytes.Equal(got.Data, data) {
		t.Fatalf("reassembled data mismatch")
	}
	if !got.IsKeyframe {
		t.Fatalf("expected is_keyframe=true")
	}
	if got.UserID != 42 || got.Timestamp != 100 {
		t.Fatalf("unexpected key: user=%d ts=%d", got.UserID, got.Timestamp)
	}
	if r.Pending() != 0 {
		t.Fatalf("expected no pending entries after completion, got %d", r.Pending())
	}
}

func TestReassemblerKeyframeLatchedFromAnyFragment(t *testing.T) {
	r := NewReassembler()
	// First fragment, no keyframe flag.
	h1 := MediaHeader{UserID: 1, Timestamp: 5, Sequence: 0}
	r.AddFragment(h1, []byte("a"))

	// Second (last) fragment carries keyframe (unusual, but the flag should
	// still latch per spec: "is_keyframe is latched if any fragment carries it").
	h2 := MediaHeader{UserID: 1, Timestamp: 5, Sequence: 1, Flags: FlagKeyframe | FlagEndOfFrame}
	frame, ok := r.AddFragment(h2, []byte("b"))
	if !ok {
		t.Fatalf("expected completion")
	}
	if !frame.IsKeyframe {
		t.Fatalf("expected is_keyframe latched true")
	}
	if string(frame.Data) != "ab" {
		t.Fatalf("got data %q, want \"ab\"", frame.Data)
	}
}

func TestReassemblerTruncatedFrameReleasedOnGap(t *testing.T) {
	// Spec: gaps are not detected; if END_OF_FRAME arrives with fragments
	// missing, a truncated frame is still released.
	r := NewReassembler()
	h0 := MediaHeader{UserID: 1, Timestamp: 1, Sequence: 0}
	r.AddFragment(h0, []byte("first"))
	// sequence 1 lost
	h2 := MediaHeader{UserID: 1, Timestamp: 1, Sequence: 2, Flags: FlagEndOfFrame}
	frame, ok := r.AddFragment(h2, []byte("third"))
	if !ok {
		t.Fatalf("expected release despite gap")
	}
	if string(frame.Data) != "firstthird" {
		t.Fatalf("got %q", frame.Data)
	}
}

func TestReassemblerEvictStale(t *testing.T) {
	r := NewReassembler()
	base := time.Unix(1000, 0)
	r.now = func() time.Time { return base }

	h := MediaHeader{UserID: 1, Timestamp: 1, Sequence: 0}
	r.AddFragment(h, []byte("x"))
	if r.Pending() != 1 {
		t.Fatalf("expected 1 pending entry")
	}

	r.now = func() time.Time { return base.Add(StaleTimeout + time.Millisecond) }
	r.EvictStale(StaleTimeout)
	if r.Pending() != 0 {
		t.Fatalf("expected stale entry evicted, got %d pending", r.Pending())
	}
}

func TestReassemblerIndependentKeys(t *testing.T) {
	r := NewReassembler()
	ha := MediaHeader{UserID: 1, Timestamp: 1, Sequence: 0, Flags: FlagEndOfFrame}
	hb := MediaHeader{UserID: 2, Timestamp: 1, Sequence: 0, Flags: FlagEndOfFrame}

	fa, okA := r.AddFragment(ha, []byte("A"))
	fb, okB := r.AddFragment(hb, []byte("B"))
	if !okA || !okB {
		t.Fatalf("expected both single-fragment frames to complete immediately")
	}
	if string(fa.Data) != "A" || string(fb.Data) != "B" {
		t.Fatalf("cross-contamination between reassembly keys: %q %q", fa.Data, fb.Data)
	}
}
