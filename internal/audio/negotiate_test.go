package audio

import "testing"

func TestNegotiateExact48kMono(t *testing.T) {
	ranges := []DeviceRange{{MinChannels: 1, MaxChannels: 2, MinRate: 8000, MaxRate: 48000}}
	cfg := Negotiate(ranges)
	if cfg.Rate != 48000 || cfg.Channels != 1 || cfg.Resample {
		t.Fatalf("got %+v, want exact 48kHz mono no-resample", cfg)
	}
}

func TestNegotiate48kAnyChannels(t *testing.T) {
	ranges := []DeviceRange{{MinChannels: 2, MaxChannels: 2, MinRate: 48000, MaxRate: 48000}}
	cfg := Negotiate(ranges)
	if cfg.Rate != 48000 || cfg.Channels != 2 || cfg.Resample {
		t.Fatalf("got %+v, want 48kHz stereo no-resample", cfg)
	}
}

func TestNegotiatePreferredAltRate(t *testing.T) {
	ranges := []DeviceRange{{MinChannels: 1, MaxChannels: 1, MinRate: 44100, MaxRate: 44100}}
	cfg := Negotiate(ranges)
	if cfg.Rate != 44100 || cfg.Channels != 1 || !cfg.Resample {
		t.Fatalf("got %+v, want 44.1kHz mono resample", cfg)
	}
}

func TestNegotiateFallbackClamp(t *testing.T) {
	ranges := []DeviceRange{{MinChannels: 2, MaxChannels: 8, MinRate: 44100, MaxRate: 192000}}
	cfg := fallbackClamp(ranges)
	if cfg.Rate != 96000 || cfg.Channels != 2 || !cfg.Resample {
		t.Fatalf("got %+v, want clamped fallback at 96kHz", cfg)
	}
}

func TestNegotiateFallbackClampFloorAboveCeiling(t *testing.T) {
	// Device floor (192kHz) exceeds our 96kHz ceiling: the floor wins.
	ranges := []DeviceRange{{MinChannels: 2, MaxChannels: 8, MinRate: 192000, MaxRate: 192000}}
	cfg := Negotiate(ranges)
	if cfg.Rate != 192000 || cfg.Channels != 2 || !cfg.Resample {
		t.Fatalf("got %+v, want floor-exceeds-ceiling fallback at 192kHz", cfg)
	}
}

func TestNegotiatePriorityOrder(t *testing.T) {
	// A device exposing both an exact 48kHz-mono range and a 96kHz-only
	// range must pick tier 1, not fall through to resampling.
	ranges := []DeviceRange{
		{MinChannels: 1, MaxChannels: 1, MinRate: 96000, MaxRate: 96000},
		{MinChannels: 1, MaxChannels: 1, MinRate: 48000, MaxRate: 48000},
	}
	cfg := Negotiate(ranges)
	if cfg.Rate != 48000 || cfg.Resample {
		t.Fatalf("got %+v, want tier-1 exact match preferred", cfg)
	}
}

func TestFindDeviceByName(t *testing.T) {
	descs := []string{"Built-in Microphone", "USB Headset Mic", "Loopback"}
	if idx, ok := FindDeviceByName("usb headset mic", descs); !ok || idx != 1 {
		t.Fatalf("exact case-insensitive match failed: idx=%d ok=%v", idx, ok)
	}
	if idx, ok := FindDeviceByName("headset", descs); !ok || idx != 1 {
		t.Fatalf("substring match failed: idx=%d ok=%v", idx, ok)
	}
	if _, ok := FindDeviceByName("nonexistent", descs); ok {
		t.Fatalf("expected no match for nonexistent device")
	}
}
