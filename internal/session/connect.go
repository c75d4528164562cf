package session

import (
	"context"
	"fmt"
	"time"

	"github.com/gen2brain/malgo"

	"voxmedia/internal/audio"
	"voxmedia/internal/camera"
	"voxmedia/internal/codec"
	"voxmedia/internal/transport"
	"voxmedia/internal/wire"
)

const captureFrameLen = 960 // 20ms at 48kHz, matches codec.FrameSize

// establishSession connects to the SFU and stands up capture/playback and
// the Opus encoder, per spec.md §4.5 "Connect procedure" and §4.6.
func (s *Supervisor) establishSession(params ConnectParams) (*activeSession, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := transport.Dial(ctx, params.URL, params.CertDER, params.IdleTimeoutSecs)
	if err != nil {
		return nil, fmt.Errorf("establish session: %w", err)
	}
	if err := conn.SendDatagram(params.Token); err != nil {
		conn.Close()
		return nil, fmt.Errorf("establish session: send auth token: %w", err)
	}

	captureRanges, err := audio.DeviceRanges(s.audioCtx, malgo.Capture, nil)
	if err != nil {
		captureRanges = nil
	}
	captureCfg := audio.Negotiate(captureRanges)

	playbackRanges, err := audio.DeviceRanges(s.audioCtx, malgo.Playback, nil)
	if err != nil {
		playbackRanges = nil
	}
	playbackCfg := audio.Negotiate(playbackRanges)

	capture, err := audio.StartCapture(s.audioCtx, nil, captureCfg, captureFrameLen)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("establish session: start capture: %w", err)
	}

	playback, err := audio.StartPlayback(s.audioCtx, nil, playbackCfg)
	if err != nil {
		capture.Close()
		conn.Close()
		return nil, fmt.Errorf("establish session: start playback: %w", err)
	}

	encoder, err := codec.NewOpusEncoder()
	if err != nil {
		playback.Close()
		capture.Close()
		conn.Close()
		return nil, fmt.Errorf("establish session: opus encoder: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())

	a := &activeSession{
		conn:            conn,
		roomID:          params.RoomID,
		userID:          params.UserID,
		encoder:         encoder,
		audioDec:        newAudioDecoders(),
		capture:         capture,
		playback:        playback,
		inputVolume:     1.0,
		outputVolume:    1.0,
		userVolumes:     make(map[uint32]float64),
		speakingStates:  make(map[uint32]*speakingState),
		videoConfig:     DefaultVideoConfig(),
		videoDec:        newVideoDecoders(),
		reassembler:     wire.NewReassembler(),
		ctx:             sessCtx,
		cancel:          sessCancel,
	}

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.mu.Unlock()
	a.generation = gen

	go s.forwardCapture(gen, capture, sessCtx)
	go s.forwardDatagrams(gen, conn, sessCtx)

	return a, nil
}

// forwardCapture bridges the capture device callback's channel into the
// supervisor's single select loop, tagging each message with the session
// generation so a stale forwarder from a torn-down session is ignored.
func (s *Supervisor) forwardCapture(gen uint64, c *audio.Capture, ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-c.Frames:
			if !ok {
				return
			}
			select {
			case s.pcmCh <- genPCM{gen: gen, pcm: f.PCM}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// forwardDatagrams reads inbound QUIC datagrams into the supervisor's
// select loop until the connection errors or the session is torn down.
func (s *Supervisor) forwardDatagrams(gen uint64, conn *transport.Conn, ctx context.Context) {
	for {
		data, err := conn.ReceiveDatagram(ctx)
		if err != nil {
			select {
			case s.dgramErrCh <- genErr{gen: gen, err: err}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case s.dgramCh <- genDatagram{gen: gen, data: data}:
		case <-ctx.Done():
			return
		}
	}
}

// forwardCamera bridges the camera capture channel the same way
// forwardCapture does for the microphone.
func (s *Supervisor) forwardCamera(gen uint64, frames <-chan camera.CapturedFrame, ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			select {
			case s.cameraCh <- genCameraFrame{gen: gen, frame: f}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// teardown drops the active session (if any), stopping all device callbacks
// and closing the connection, per spec.md §5 "Cancellation".
func (s *Supervisor) teardown(reason string) {
	s.mu.Lock()
	a := s.active
	s.active = nil
	s.mu.Unlock()

	if a == nil {
		return
	}
	a.cancel()
	if a.video {
		if a.cameraStop != nil {
			a.cameraStop.Stop()
		}
		if a.videoEncoder != nil {
			a.videoEncoder.Close()
		}
	}
	a.playback.Close()
	a.capture.Close()
	a.conn.Close()
	s.log.Info("session torn down", "reason", reason)
}

// handleTransportError reacts to a fatal QUIC read error: either enters the
// reconnect backoff loop (if connect params were saved) or emits
// Disconnected, per spec.md §4.6 "Reconnection".
func (s *Supervisor) handleTransportError(err error) {
	s.mu.Lock()
	params := s.lastParams
	s.mu.Unlock()

	s.teardown(err.Error())

	if params == nil {
		s.emit(Event{Kind: EvDisconnected, Reason: err.Error()})
		return
	}
	s.reconnectWithBackoff(*params)
}

// reconnectWithBackoff implements spec.md §4.6 / §8 invariant 8 / scenario
// S4: delays 1,2,4,8,16s (capped at 30) across attempts 1..5.
func (s *Supervisor) reconnectWithBackoff(params ConnectParams) {
	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		delay := backoffDelaySecs(attempt)
		s.emit(Event{Kind: EvReconnecting, Attempt: attempt, DelaySecs: delay})

		select {
		case <-time.After(time.Duration(delay) * time.Second):
		case <-s.cancel:
			return
		}

		a, err := s.establishSession(params)
		if err != nil {
			s.log.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}

		s.mu.Lock()
		s.active = a
		s.lastParams = &params
		s.mu.Unlock()
		s.emit(Event{Kind: EvConnected})
		return
	}

	s.mu.Lock()
	s.lastParams = nil
	s.mu.Unlock()
	s.emit(Event{Kind: EvDisconnected, Reason: "Reconnection failed after 5 attempts"})
}
