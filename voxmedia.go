// Package voxmedia is the engine facade (A2): it wires together the
// session supervisor (C6), the embedded storage handle (A1), and the MLS
// engine (C7) behind a single command/event surface a host application
// drives, per spec.md §6 "Engine facade".
package voxmedia

import (
	"fmt"
	"log/slog"
	"time"

	"voxmedia/internal/config"
	"voxmedia/internal/mls"
	"voxmedia/internal/session"
	"voxmedia/internal/storage"
)

// Engine is the top-level handle a host application creates once per
// local participant. It owns the session supervisor's background
// goroutine, the embedded database, and the MLS identity/group store.
type Engine struct {
	log *slog.Logger

	sup *session.Supervisor
	db  *storage.DB
	mls *mls.Engine

	defaultVideo session.VideoConfig
}

// New opens the database under cfg.Paths.DataDir, loads (or awaits
// generation of) the local MLS identity, and starts the session
// supervisor. The caller must eventually call Close.
func New(cfg config.Config) (*Engine, error) {
	logger := slog.Default().With("component", "voxmedia")

	db, err := storage.Open(cfg.Paths.DataDir)
	if err != nil {
		return nil, fmt.Errorf("voxmedia: open storage: %w", err)
	}

	mlsEngine, err := mls.Open(db, nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("voxmedia: open mls engine: %w", err)
	}

	sup, err := session.New(session.Config{
		CaptureDeviceName:  cfg.Devices.CaptureDeviceName,
		PlaybackDeviceName: cfg.Devices.PlaybackDeviceName,
		CameraDevicePath:   cfg.Devices.CameraDevicePath,
		Logger:             logger,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("voxmedia: start session supervisor: %w", err)
	}

	return &Engine{
		log:          logger,
		sup:          sup,
		db:           db,
		mls:          mlsEngine,
		defaultVideo: cfg.SessionVideoConfig(),
	}, nil
}

// Enqueue submits a command to the session supervisor, per spec.md §4.6's
// command table.
func (e *Engine) Enqueue(cmd session.Command) { e.sup.Enqueue(cmd) }

// Events returns the host-facing event stream.
func (e *Engine) Events() <-chan session.Event { return e.sup.Events() }

// Frames returns the host-facing decoded-video-frame stream.
func (e *Engine) Frames() <-chan session.VideoFrame { return e.sup.Frames() }

// RecentEvents returns recent session events for a host that attaches
// after the session has already produced some.
func (e *Engine) RecentEvents() []session.Event { return e.sup.RecentEvents() }

// RecentEventsSince returns retained events that occurred after cutoff,
// for a host polling intermittently rather than draining Events().
func (e *Engine) RecentEventsSince(cutoff time.Time) []session.Event {
	return e.sup.RecentEventsSince(cutoff)
}

// DefaultVideoConfig returns the video stream configuration this Engine
// was created with, for use in a CmdSetVideoConfig command.
func (e *Engine) DefaultVideoConfig() session.VideoConfig { return e.defaultVideo }

// MLS returns the local MLS identity/group engine (C7), for establishing
// group key agreement out of band from the media session itself.
func (e *Engine) MLS() *mls.Engine { return e.mls }

// Close tears down the session supervisor and closes the database.
func (e *Engine) Close() {
	e.sup.Close()
	if err := e.db.Close(); err != nil {
		e.log.Warn("close storage", "error", err)
	}
}

// ExportState backs up the full embedded store (identity plus every MLS
// group), per spec.md §4.7 "export_state".
func (e *Engine) ExportState() ([]byte, error) { return e.mls.ExportState() }

// ImportState restores a backup produced by ExportState, per spec.md §4.7
// "import_state".
func (e *Engine) ImportState(data []byte) error { return e.mls.ImportState(data) }
