package session

import (
	"testing"
	"time"
)

func TestAudioDecodersEvictsIdleEntries(t *testing.T) {
	m := newAudioDecoders()
	base := time.Unix(0, 0)

	if _, err := m.get(1, base); err != nil {
		t.Fatalf("get: %v", err)
	}
	if !m.has(1) {
		t.Fatalf("expected user 1 to be present after get")
	}

	m.evictIdle(base.Add(5 * time.Second))
	if !m.has(1) {
		t.Fatalf("decoder evicted before idle timeout elapsed")
	}

	m.evictIdle(base.Add(decoderIdleTimeout))
	if m.has(1) {
		t.Fatalf("decoder not evicted after idle timeout elapsed")
	}
}

func TestAudioDecodersRefreshesLastUsedOnGet(t *testing.T) {
	m := newAudioDecoders()
	base := time.Unix(0, 0)

	if _, err := m.get(1, base); err != nil {
		t.Fatalf("get: %v", err)
	}
	// Re-fetching just before the timeout should refresh lastUsed and
	// keep the entry alive past the original deadline.
	if _, err := m.get(1, base.Add(9*time.Second)); err != nil {
		t.Fatalf("get: %v", err)
	}

	m.evictIdle(base.Add(10 * time.Second))
	if !m.has(1) {
		t.Fatalf("decoder evicted despite being refreshed")
	}
}
