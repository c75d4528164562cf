package session

import (
	"time"

	"voxmedia/internal/camera"
	"voxmedia/internal/codec"
	"voxmedia/internal/wire"
)

// videoOutputQueueCap is the bounded, drop-oldest host-facing frame queue
// from spec.md §5 "Backpressure".
const videoOutputQueueCap = 8

// handleSetVideo starts or stops the camera + AV1 encoder, per
// spec.md §4.6.1.
func (s *Supervisor) handleSetVideo(enable bool) {
	s.mu.Lock()
	a := s.active
	s.mu.Unlock()
	if a == nil {
		return
	}

	if enable {
		if a.video {
			return
		}
		frames, stop, err := camera.StartCapture(s.cameraDevice, camera.Config{
			Width:  a.videoConfig.Width,
			Height: a.videoConfig.Height,
			FPS:    a.videoConfig.FPS,
		})
		if err != nil {
			s.emit(Event{Kind: EvVideoError, Reason: err.Error()})
			return
		}
		enc, err := codec.NewAv1Encoder(a.videoConfig.Width, a.videoConfig.Height, a.videoConfig.FPS, a.videoConfig.BitrateKbps)
		if err != nil {
			stop.Stop()
			s.emit(Event{Kind: EvVideoError, Reason: err.Error()})
			return
		}

		a.cameraFrames = frames
		a.cameraStop = stop
		a.videoEncoder = enc
		a.videoSeq = 0
		a.videoTimestamp = 0
		a.video = true

		go s.forwardCamera(a.generation, frames, a.ctx)
		return
	}

	if !a.video {
		return
	}
	if a.cameraStop != nil {
		a.cameraStop.Stop()
	}
	if a.videoEncoder != nil {
		a.videoEncoder.Close()
	}
	a.cameraFrames = nil
	a.cameraStop = nil
	a.videoEncoder = nil
	a.video = false
}

// handleCameraFrame pushes a local-preview entry, AV1-encodes the frame,
// and fragments+sends each resulting packet, per spec.md §4.6.1.
func (s *Supervisor) handleCameraFrame(frame camera.CapturedFrame) {
	s.mu.Lock()
	a := s.active
	s.mu.Unlock()
	if a == nil || !a.video {
		return
	}

	s.pushFrame(VideoFrame{UserID: 0, Width: frame.Width, Height: frame.Height, RGBA: frame.RGBA})

	packets, err := a.videoEncoder.Encode(frame.Y, frame.U, frame.V)
	if err != nil {
		s.emit(Event{Kind: EvVideoError, Reason: err.Error()})
		return
	}

	for _, pkt := range packets {
		frames := wire.FragmentVideo(a.roomID, a.userID, a.videoSeq, a.videoTimestamp, pkt.IsKeyframe, pkt.Data)
		for _, f := range frames {
			if err := a.conn.SendDatagram(f.Encode()); err != nil {
				return
			}
		}
		a.videoSeq += uint32(len(frames))
		a.videoTimestamp++
	}
}

// handleInboundVideo feeds one video datagram into the reassembler and, on
// a completed frame, decodes it and pushes the result to the host, per
// spec.md §4.6 "Inbound datagram path".
func (s *Supervisor) handleInboundVideo(a *activeSession, h wire.MediaHeader, payload []byte) {
	reassembled, ok := a.reassembler.AddFragment(h, payload)
	if !ok {
		return
	}
	s.log.Debug("video frame reassembled", "reassembly_id", reassembled.ReassemblyID, "user_id", reassembled.UserID, "bytes", len(reassembled.Data))

	now := time.Now()
	dec, err := a.videoDec.get(reassembled.UserID, now)
	if err != nil {
		s.log.Warn("video decoder init failed", "user_id", reassembled.UserID, "error", err)
		return
	}

	decoded, ok, err := dec.Decode(reassembled.Data)
	if err != nil {
		s.log.Warn("video decode failed", "user_id", reassembled.UserID, "error", err)
		return
	}
	if !ok {
		return
	}

	s.pushFrame(VideoFrame{
		UserID: reassembled.UserID,
		Width:  decoded.Width,
		Height: decoded.Height,
		RGBA:   decoded.RGBA,
	})
}
