package session

import (
	"time"

	"voxmedia/internal/wire"
)

// handleCapturedPCM is the outbound audio path: gate, gain, speaking
// detection, Opus encode, send, per spec.md §4.6 "Outbound audio path".
func (s *Supervisor) handleCapturedPCM(pcm []int16) {
	s.mu.Lock()
	a := s.active
	s.mu.Unlock()
	if a == nil {
		return
	}

	now := time.Now()

	if a.muted {
		if st, ok := a.speakingStates[a.userID]; ok && st.speaking {
			st.speaking = false
			s.emit(Event{Kind: EvSpeakingStop, UserID: a.userID})
		}
		return
	}

	buf := applyInputProcessing(pcm, a.noiseGateThresh, a.inputVolume)

	st, ok := a.speakingStates[a.userID]
	if !ok {
		st = newSpeakingState(now)
		a.speakingStates[a.userID] = st
	}
	if kind, fired := st.update(buf, now); fired {
		s.emit(Event{Kind: kind, UserID: a.userID})
	}

	payload, dtx, err := a.encoder.Encode(buf)
	if err != nil {
		s.emit(Event{Kind: EvAudioError, Reason: err.Error()})
		return
	}

	frame := wire.AudioFrame(a.roomID, a.userID, wire.CodecOpus, a.sequence, a.timestamp, dtx, payload)
	if err := a.conn.SendDatagram(frame.Encode()); err != nil {
		return
	}
	a.sequence++
	a.timestamp += 960
}

// applyInputProcessing implements spec.md §4.6 "apply_input_processing":
// the noise gate zeroes the entire buffer below threshold (skipping gain
// entirely); otherwise input gain is applied and clamped to ±32767.
func applyInputProcessing(pcm []int16, gateThreshold, inputVolume float64) []int16 {
	out := make([]int16, len(pcm))
	if gateThreshold > 0 && normalizedRMS(pcm) < gateThreshold {
		return out
	}
	if inputVolume == 1.0 {
		copy(out, pcm)
		return out
	}
	for i, sample := range pcm {
		out[i] = clampI16(float64(sample) * inputVolume)
	}
	return out
}

func clampI16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32767 {
		return -32767
	}
	return int16(v)
}

// handleDatagram parses and dispatches one inbound datagram, per
// spec.md §4.6 "Inbound datagram path". Unknown media types and
// undersized datagrams are discarded silently.
func (s *Supervisor) handleDatagram(data []byte) {
	s.mu.Lock()
	a := s.active
	s.mu.Unlock()
	if a == nil {
		return
	}

	in, ok := wire.DecodeInFrame(data)
	if !ok {
		return
	}

	switch in.Header.MediaType {
	case wire.MediaAudio:
		s.handleInboundAudio(a, in.Header, in.Payload)
	case wire.MediaVideo:
		s.handleInboundVideo(a, in.Header, in.Payload)
	default:
		// FEC/RTCP-FB/screen: not yet consumed by this client, per
		// spec.md §4.6 "Unknown types are discarded silently".
	}
}

// handleInboundAudio decodes one inbound Opus frame, updates the sender's
// speaking state, scales by per-user and output gain, and forwards to
// playback, per spec.md §4.6.
func (s *Supervisor) handleInboundAudio(a *activeSession, h wire.MediaHeader, payload []byte) {
	if a.deafened {
		return
	}

	now := time.Now()
	dec, err := a.audioDec.get(h.UserID, now)
	if err != nil {
		s.log.Warn("audio decoder init failed", "user_id", h.UserID, "error", err)
		return
	}

	pcm, err := dec.Decode(payload)
	if err != nil {
		s.log.Warn("audio decode failed", "user_id", h.UserID, "error", err)
		return
	}

	st, ok := a.speakingStates[h.UserID]
	if !ok {
		st = newSpeakingState(now)
		a.speakingStates[h.UserID] = st
	}
	if kind, fired := st.update(pcm, now); fired {
		s.emit(Event{Kind: kind, UserID: h.UserID})
	}

	userVol, ok := a.userVolumes[h.UserID]
	if !ok {
		userVol = 1.0
	}
	combined := userVol * a.outputVolume
	if combined != 1.0 {
		scaled := make([]int16, len(pcm))
		for i, sample := range pcm {
			scaled[i] = clampI16(float64(sample) * combined)
		}
		pcm = scaled
	}

	a.playback.PushFrame(pcm)
}
