// internal/config/config.go
//
// Package config defines the engine's configuration shape: a single
// JSON-serializable Config struct with a Default(). Reading it from disk,
// watching it, and validating host-supplied overrides is the host
// application's job, per spec.md §1 "config loading" being out of scope —
// this package only describes what the engine needs configured.
package config

import "voxmedia/internal/session"

// Config is the engine's configuration, mirroring goop2's single
// JSON-serializable Config shape scoped down to what this engine needs:
// where the SFU is, where local state lives, and device/stream defaults.
type Config struct {
	SFU     SFU           `json:"sfu"`
	Paths   Paths         `json:"paths"`
	Devices Devices       `json:"devices"`
	Video   VideoDefaults `json:"video"`
}

// SFU holds how to reach and authenticate to the media server, per
// spec.md §4.5 "QUIC transport".
type SFU struct {
	URL string `json:"url"`

	// PinnedCertPath, if set, names a DER-encoded certificate file the
	// engine pins instead of trusting the system CA root pool.
	PinnedCertPath string `json:"pinned_cert_path"`

	IdleTimeoutSecs int `json:"idle_timeout_seconds"`
}

// Paths holds filesystem locations the engine owns.
type Paths struct {
	// DataDir holds the embedded sqlite database shared by internal/storage
	// and internal/mls.
	DataDir string `json:"data_dir"`
}

// Devices holds the device settings handed to the session supervisor. The
// capture and playback names are stored but not matched against the device
// list: sessions open the default audio devices. CameraDevicePath is the
// camera device opened, as given, when video starts.
type Devices struct {
	CaptureDeviceName  string `json:"capture_device_name"`
	PlaybackDeviceName string `json:"playback_device_name"`
	CameraDevicePath   string `json:"camera_device_path"`
}

// VideoDefaults is the video stream configuration reported by
// Engine.DefaultVideoConfig. A session starts from
// session.DefaultVideoConfig; these values reach it only when the host sends
// them in a CmdSetVideoConfig.
type VideoDefaults struct {
	Width       int `json:"width"`
	Height      int `json:"height"`
	FPS         int `json:"fps"`
	BitrateKbps int `json:"bitrate_kbps"`
}

// Default returns the engine's baseline configuration: no SFU configured,
// local state under "./data", empty device settings, and the video
// defaults of session.DefaultVideoConfig (640x480 @ 30fps, 500kbps).
func Default() Config {
	dv := session.DefaultVideoConfig()
	return Config{
		SFU: SFU{
			IdleTimeoutSecs: 30,
		},
		Paths: Paths{
			DataDir: "data",
		},
		Video: VideoDefaults{
			Width:       dv.Width,
			Height:      dv.Height,
			FPS:         dv.FPS,
			BitrateKbps: dv.BitrateKbps,
		},
	}
}

// SessionVideoConfig converts Video into a session.VideoConfig, for use in
// a CmdSetVideoConfig command.
func (c Config) SessionVideoConfig() session.VideoConfig {
	return session.VideoConfig{
		Width:       c.Video.Width,
		Height:      c.Video.Height,
		FPS:         c.Video.FPS,
		BitrateKbps: c.Video.BitrateKbps,
	}
}
