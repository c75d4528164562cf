package config

import "testing"

func TestDefaultMatchesSessionVideoDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Video.Width != 640 || cfg.Video.Height != 480 {
		t.Fatalf("unexpected default resolution: %dx%d", cfg.Video.Width, cfg.Video.Height)
	}
	if cfg.Video.FPS != 30 || cfg.Video.BitrateKbps != 500 {
		t.Fatalf("unexpected default fps/bitrate: %d/%d", cfg.Video.FPS, cfg.Video.BitrateKbps)
	}
	if cfg.Paths.DataDir == "" {
		t.Fatal("expected a non-empty default data directory")
	}
	if cfg.SFU.IdleTimeoutSecs <= 0 {
		t.Fatal("expected a positive default idle timeout")
	}
}

func TestSessionVideoConfigRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Video.Width = 1280
	cfg.Video.Height = 720
	vc := cfg.SessionVideoConfig()
	if vc.Width != 1280 || vc.Height != 720 {
		t.Fatalf("SessionVideoConfig did not carry overridden resolution: %+v", vc)
	}
}
