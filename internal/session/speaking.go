package session

import (
	"math"
	"time"
)

// speakingThreshold and speakingHoldoff are the hysteresis constants from
// spec.md §4.6.2.
const (
	speakingThreshold = 0.01
	speakingHoldoff   = 200 * time.Millisecond
)

// speakingState tracks one user's (local or remote) voice-activity state.
type speakingState struct {
	speaking        bool
	lastAboveThresh time.Time
}

// newSpeakingState initializes a not-speaking state whose lastAboveThresh
// lies just over the holdoff before now. The first above-threshold sample
// triggers SpeakingStart immediately in any case: update does not consult
// lastAboveThresh when starting.
func newSpeakingState(now time.Time) *speakingState {
	return &speakingState{lastAboveThresh: now.Add(-speakingHoldoff - time.Millisecond)}
}

// normalizedRMS computes sqrt(mean(s^2))/32767 over a PCM buffer.
func normalizedRMS(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range pcm {
		v := float64(s)
		sumSq += v * v
	}
	rms := math.Sqrt(sumSq / float64(len(pcm)))
	return rms / 32767.0
}

// update applies one PCM buffer's worth of activity to the state at time
// now, returning the event kind that should be emitted, if any. ok is false
// when no transition occurred.
func (s *speakingState) update(pcm []int16, now time.Time) (EventKind, bool) {
	rms := normalizedRMS(pcm)
	if rms >= speakingThreshold {
		s.lastAboveThresh = now
		if !s.speaking {
			s.speaking = true
			return EvSpeakingStart, true
		}
		return 0, false
	}
	if s.speaking && now.Sub(s.lastAboveThresh) >= speakingHoldoff {
		s.speaking = false
		return EvSpeakingStop, true
	}
	return 0, false
}
