package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"voxmedia/internal/audio"
	"voxmedia/internal/camera"
	"voxmedia/internal/codec"
	"voxmedia/internal/transport"
	"voxmedia/internal/util"
	"voxmedia/internal/wire"
)

// recentEventHistory is how many past events RecentEvents retains for a
// host that attaches after the fact, matching the fixed-capacity recent
// history kept by goop2's viewer log buffer.
const recentEventHistory = 64

// cleanupInterval is how often the supervisor runs reassembler/decoder
// eviction while connected, per spec.md §4.6 "Periodic cleanup".
const cleanupInterval = 500 * time.Millisecond

// activeSession is the full state that exists only while connected, per
// spec.md §3 "Active session".
type activeSession struct {
	conn   *transport.Conn
	roomID uint32
	userID uint32

	sequence  uint32
	timestamp uint32
	encoder   *codec.OpusEncoder
	audioDec  *audioDecoders

	capture  *audio.Capture
	playback *audio.Playback

	muted    bool
	deafened bool

	inputVolume     float64
	outputVolume    float64
	noiseGateThresh float64
	userVolumes     map[uint32]float64
	speakingStates  map[uint32]*speakingState

	video          bool
	videoConfig    VideoConfig
	videoSeq       uint32
	videoTimestamp uint32
	videoEncoder   *codec.Av1Encoder
	videoDec       *videoDecoders
	reassembler    *wire.Reassembler
	cameraFrames   <-chan camera.CapturedFrame
	cameraStop     *camera.StopHandle

	generation uint64
	ctx        context.Context
	cancel     context.CancelFunc
}

// Supervisor is the single-threaded session state machine described in
// spec.md §4.6 / §5: it owns the active QUIC connection plus all capture,
// playback and codec state, and exposes a command/event/frame surface to
// the host (the root voxmedia.Engine facade).
type Supervisor struct {
	log *slog.Logger

	audioCtx       *malgo.AllocatedContext
	cameraDevice   string
	captureDevice  string
	playbackDevice string
	authToken      func() []byte

	commands chan Command
	events   chan Event
	frames   chan VideoFrame
	cancel   chan struct{}
	done     chan struct{}

	pcmCh      chan genPCM
	cameraCh   chan genCameraFrame
	dgramCh    chan genDatagram
	dgramErrCh chan genErr

	mu         sync.Mutex
	active     *activeSession
	lastParams *ConnectParams
	generation uint64

	recentEvents *util.RingBuffer[Event]
}

type genPCM struct {
	gen uint64
	pcm []int16
}

type genCameraFrame struct {
	gen   uint64
	frame camera.CapturedFrame
}

type genDatagram struct {
	gen  uint64
	data []byte
}

type genErr struct {
	gen uint64
	err error
}

// Config configures device selection for a new Supervisor. The capture and
// playback names are kept on the Supervisor but are not matched against the
// device list; sessions open the default audio devices.
type Config struct {
	CaptureDeviceName  string
	PlaybackDeviceName string
	CameraDevicePath   string
	Logger             *slog.Logger
}

// New creates a Supervisor and starts its run loop in a background
// goroutine. The caller must eventually call Close.
func New(cfg Config) (*Supervisor, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "session")

	audioCtx, err := audio.NewContext()
	if err != nil {
		return nil, err
	}

	s := &Supervisor{
		log:            logger,
		audioCtx:       audioCtx,
		cameraDevice:   cfg.CameraDevicePath,
		captureDevice:  cfg.CaptureDeviceName,
		playbackDevice: cfg.PlaybackDeviceName,
		commands:       make(chan Command, 32),
		events:         make(chan Event, 64),
		frames:         make(chan VideoFrame, videoOutputQueueCap),
		cancel:         make(chan struct{}),
		done:           make(chan struct{}),
		pcmCh:          make(chan genPCM, 64),
		cameraCh:       make(chan genCameraFrame, 4),
		dgramCh:        make(chan genDatagram, 64),
		dgramErrCh:     make(chan genErr, 1),
		recentEvents:   util.NewRingBuffer[Event](recentEventHistory),
	}
	go s.run()
	return s, nil
}

// Enqueue submits a command. Non-blocking: if the supervisor is backed up,
// the command is dropped and logged, matching the device callbacks' "never
// block" policy extended to the command surface.
func (s *Supervisor) Enqueue(cmd Command) {
	select {
	case s.commands <- cmd:
	default:
		s.log.Warn("command queue full, dropping command", "kind", cmd.Kind)
	}
}

// Events returns the host-facing event stream.
func (s *Supervisor) Events() <-chan Event { return s.events }

// Frames returns the host-facing decoded-video-frame stream.
func (s *Supervisor) Frames() <-chan VideoFrame { return s.frames }

// Close signals the supervisor to tear down and blocks until it has.
func (s *Supervisor) Close() {
	select {
	case <-s.cancel:
	default:
		close(s.cancel)
	}
	<-s.done
	audio.CloseContext(s.audioCtx)
}

func (s *Supervisor) emit(ev Event) {
	ev.OccurredAt = time.Now()
	s.recentEvents.Push(ev)
	select {
	case s.events <- ev:
	default:
		s.log.Warn("event queue full, dropping event", "kind", ev.Kind)
	}
}

// RecentEvents returns up to the last recentEventHistory events, oldest
// first, for a host that wants to inspect session history without having
// raced the Events() channel from the start.
func (s *Supervisor) RecentEvents() []Event {
	return s.recentEvents.Snapshot()
}

// RecentEventsSince returns the retained events that occurred strictly
// after cutoff, oldest first. A host that polls intermittently (rather
// than draining Events() continuously) uses this to catch up on exactly
// what it missed since its last poll instead of re-processing the whole
// retained history.
func (s *Supervisor) RecentEventsSince(cutoff time.Time) []Event {
	return s.recentEvents.SnapshotMatching(func(ev Event) bool {
		return ev.OccurredAt.After(cutoff)
	})
}

// RecentEventsOfKind returns the retained events matching kind, oldest
// first — e.g. a host reconnect-monitor pulling only EvReconnecting
// entries out of the history without also paging through unrelated
// speaking/audio/video events.
func (s *Supervisor) RecentEventsOfKind(kind EventKind) []Event {
	return s.recentEvents.SnapshotMatching(func(ev Event) bool {
		return ev.Kind == kind
	})
}

func (s *Supervisor) pushFrame(f VideoFrame) {
	select {
	case s.frames <- f:
	default:
		select {
		case <-s.frames:
		default:
		}
		select {
		case s.frames <- f:
		default:
		}
	}
}

// run is the supervisor's single cooperative loop: it awaits exactly the
// suspension points spec.md §5 names (command, captured pcm, camera frame,
// inbound datagram, cancellation, periodic cleanup tick).
func (s *Supervisor) run() {
	defer close(s.done)

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.cancel:
			s.teardown("supervisor closing")
			return

		case cmd := <-s.commands:
			s.handleCommand(cmd)

		case <-ticker.C:
			s.runCleanup()

		case m := <-s.pcmCh:
			if s.currentGeneration() == m.gen {
				s.handleCapturedPCM(m.pcm)
			}

		case m := <-s.cameraCh:
			if s.currentGeneration() == m.gen {
				s.handleCameraFrame(m.frame)
			}

		case m := <-s.dgramCh:
			if s.currentGeneration() == m.gen {
				s.handleDatagram(m.data)
			}

		case m := <-s.dgramErrCh:
			if s.currentGeneration() == m.gen {
				s.handleTransportError(m.err)
			}
		}
	}
}

func (s *Supervisor) currentGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *Supervisor) runCleanup() {
	s.mu.Lock()
	a := s.active
	s.mu.Unlock()
	if a == nil {
		return
	}
	now := time.Now()
	a.reassembler.EvictStale(wire.StaleTimeout)
	a.audioDec.evictIdle(now)
	a.videoDec.evictIdle(now)
}
