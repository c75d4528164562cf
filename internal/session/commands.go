package session

// handleCommand dispatches one host command, per spec.md §4.6's command
// table. All commands are idempotent where the table marks them so.
func (s *Supervisor) handleCommand(cmd Command) {
	switch cmd.Kind {
	case CmdConnect:
		s.handleConnect(cmd.Connect)
	case CmdDisconnect:
		s.handleDisconnect()
	case CmdSetMute:
		s.handleSetMute(cmd.Bool)
	case CmdSetDeaf:
		s.withActive(func(a *activeSession) { a.deafened = cmd.Bool })
	case CmdSetVideo:
		s.handleSetVideo(cmd.Bool)
	case CmdSetVideoConfig:
		s.withActive(func(a *activeSession) { a.videoConfig = cmd.VideoConfig })
	case CmdSetInputVolume:
		s.withActive(func(a *activeSession) { a.inputVolume = cmd.Float })
	case CmdSetOutputVolume:
		s.withActive(func(a *activeSession) { a.outputVolume = cmd.Float })
	case CmdSetNoiseGate:
		s.withActive(func(a *activeSession) { a.noiseGateThresh = cmd.Float })
	case CmdSetUserVolume:
		s.withActive(func(a *activeSession) {
			if cmd.Float == 1.0 {
				delete(a.userVolumes, cmd.UserID)
			} else {
				a.userVolumes[cmd.UserID] = cmd.Float
			}
		})
	}
}

// withActive runs fn against the active session under the supervisor's
// lock, a no-op when disconnected.
func (s *Supervisor) withActive(fn func(a *activeSession)) {
	s.mu.Lock()
	a := s.active
	s.mu.Unlock()
	if a != nil {
		fn(a)
	}
}

func (s *Supervisor) handleConnect(params ConnectParams) {
	s.mu.Lock()
	hadActive := s.active != nil
	s.mu.Unlock()
	if hadActive {
		s.teardown("reconnecting")
	}

	a, err := s.establishSession(params)
	if err != nil {
		s.emit(Event{Kind: EvConnectFailed, Reason: err.Error()})
		return
	}

	s.mu.Lock()
	s.active = a
	p := params
	s.lastParams = &p
	s.mu.Unlock()

	s.emit(Event{Kind: EvConnected})
}

func (s *Supervisor) handleDisconnect() {
	s.mu.Lock()
	active := s.active != nil
	s.lastParams = nil
	s.mu.Unlock()
	if !active {
		return
	}
	s.teardown("user requested")
	s.emit(Event{Kind: EvDisconnected, Reason: "user requested"})
}

func (s *Supervisor) handleSetMute(muted bool) {
	s.mu.Lock()
	a := s.active
	s.mu.Unlock()
	if a == nil {
		return
	}
	wasSpeaking := false
	if st, ok := a.speakingStates[a.userID]; ok {
		wasSpeaking = st.speaking
	}
	a.muted = muted
	if muted && wasSpeaking {
		a.speakingStates[a.userID].speaking = false
		s.emit(Event{Kind: EvSpeakingStop, UserID: a.userID})
	}
}
