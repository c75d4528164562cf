package session

import (
	"log/slog"
	"testing"
	"time"

	"voxmedia/internal/util"
)

func newTestSupervisor() *Supervisor {
	return &Supervisor{
		log:          slog.Default(),
		events:       make(chan Event, 8),
		recentEvents: util.NewRingBuffer[Event](recentEventHistory),
	}
}

func TestHandleSetMuteEmitsSpeakingStopWhenSpeaking(t *testing.T) {
	s := newTestSupervisor()
	a := &activeSession{
		userID:         1,
		userVolumes:    make(map[uint32]float64),
		speakingStates: map[uint32]*speakingState{1: {speaking: true, lastAboveThresh: time.Now()}},
	}
	s.active = a

	s.handleSetMute(true)

	if !a.muted {
		t.Fatalf("expected muted=true")
	}
	select {
	case ev := <-s.events:
		if ev.Kind != EvSpeakingStop || ev.UserID != 1 {
			t.Fatalf("got event %+v, want SpeakingStop for user 1", ev)
		}
	default:
		t.Fatalf("expected a SpeakingStop event on mute")
	}
}

func TestHandleSetMuteNoEventWhenNotSpeaking(t *testing.T) {
	s := newTestSupervisor()
	a := &activeSession{
		userID:         1,
		userVolumes:    make(map[uint32]float64),
		speakingStates: map[uint32]*speakingState{},
	}
	s.active = a

	s.handleSetMute(true)

	select {
	case ev := <-s.events:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestCmdSetUserVolumeStoresAndResetsAtUnity(t *testing.T) {
	s := newTestSupervisor()
	a := &activeSession{userVolumes: make(map[uint32]float64)}
	s.active = a

	s.handleCommand(Command{Kind: CmdSetUserVolume, UserID: 7, Float: 0.0})
	vol, ok := a.userVolumes[7]
	if !ok || vol != 0.0 {
		t.Fatalf("expected explicit 0.0 entry to be retained, got ok=%v vol=%v", ok, vol)
	}

	s.handleCommand(Command{Kind: CmdSetUserVolume, UserID: 7, Float: 1.0})
	if _, ok := a.userVolumes[7]; ok {
		t.Fatalf("expected entry to be deleted when reset to unity gain")
	}
}

func TestRecentEventsSinceAndOfKind(t *testing.T) {
	s := newTestSupervisor()
	s.events = make(chan Event, 8)

	s.emit(Event{Kind: EvSpeakingStart, UserID: 1})
	cutoff := time.Now()
	s.emit(Event{Kind: EvSpeakingStop, UserID: 1})
	s.emit(Event{Kind: EvSpeakingStart, UserID: 2})

	since := s.RecentEventsSince(cutoff)
	if len(since) != 2 {
		t.Fatalf("RecentEventsSince = %+v, want 2 events after cutoff", since)
	}
	for _, ev := range since {
		if !ev.OccurredAt.After(cutoff) {
			t.Fatalf("event %+v not after cutoff %v", ev, cutoff)
		}
	}

	starts := s.RecentEventsOfKind(EvSpeakingStart)
	if len(starts) != 2 {
		t.Fatalf("RecentEventsOfKind(EvSpeakingStart) = %+v, want 2", starts)
	}
	for _, ev := range starts {
		if ev.Kind != EvSpeakingStart {
			t.Fatalf("RecentEventsOfKind returned non-matching event %+v", ev)
		}
	}
}

func TestCmdSetMuteDeafNoopWhenDisconnected(t *testing.T) {
	s := newTestSupervisor()
	// No active session: all commands must be safe no-ops.
	s.handleCommand(Command{Kind: CmdSetMute, Bool: true})
	s.handleCommand(Command{Kind: CmdSetDeaf, Bool: true})
	s.handleCommand(Command{Kind: CmdSetUserVolume, UserID: 1, Float: 0.5})

	select {
	case ev := <-s.events:
		t.Fatalf("unexpected event %+v while disconnected", ev)
	default:
	}
}
