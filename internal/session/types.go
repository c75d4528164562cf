// Package session drives the single-threaded supervisor that owns the
// active QUIC connection, audio/video capture and playback, and codec
// state, dispatching commands from the host and events/frames back to it.
package session

import "time"

// VideoConfig describes the locally captured/encoded video stream.
type VideoConfig struct {
	Width       int
	Height      int
	FPS         int
	BitrateKbps int
}

// DefaultVideoConfig is the video configuration every session starts with:
// 640x480 @ 30fps, 500kbps.
func DefaultVideoConfig() VideoConfig {
	return VideoConfig{Width: 640, Height: 480, FPS: 30, BitrateKbps: 500}
}

// ConnectParams are the parameters of a Connect command, retained for
// reconnection attempts after a transport error.
type ConnectParams struct {
	URL             string
	Token           []byte
	RoomID          uint32
	UserID          uint32
	CertDER         []byte // nil selects CA-root trust
	IdleTimeoutSecs int
	DatagramBufSize int // accepted for command-surface parity; see DESIGN.md
}

// Command is a request from the host to the supervisor. Exactly one of
// the typed fields is meaningful per Kind, mirroring the command table in
// spec.md §4.6.
type Command struct {
	Kind CommandKind

	Connect     ConnectParams
	Bool        bool
	Float       float64
	VideoConfig VideoConfig
	UserID      uint32
}

// CommandKind selects which Command variant is populated.
type CommandKind int

const (
	CmdConnect CommandKind = iota
	CmdDisconnect
	CmdSetMute
	CmdSetDeaf
	CmdSetVideo
	CmdSetVideoConfig
	CmdSetInputVolume
	CmdSetOutputVolume
	CmdSetNoiseGate
	CmdSetUserVolume
)

// EventKind selects which Event variant is populated.
type EventKind int

const (
	EvConnected EventKind = iota
	EvDisconnected
	EvConnectFailed
	EvReconnecting
	EvAudioError
	EvVideoError
	EvSpeakingStart
	EvSpeakingStop
)

// Event is one item on the host-facing event queue, per spec.md §6.
type Event struct {
	Kind       EventKind
	Reason     string
	Attempt    int
	DelaySecs  int
	UserID     uint32
	OccurredAt time.Time
}

// VideoFrame is one decoded picture delivered to the host. UserID 0 is
// reserved for the local camera preview.
type VideoFrame struct {
	UserID uint32
	Width  int
	Height int
	RGBA   []byte
}
