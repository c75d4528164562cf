package session

import (
	"time"

	"voxmedia/internal/codec"
)

// decoderIdleTimeout matches spec.md §3's "dropped after 10s of inactivity".
const decoderIdleTimeout = 10 * time.Second

type audioDecoderEntry struct {
	decoder  *codec.OpusDecoder
	lastUsed time.Time
}

type videoDecoderEntry struct {
	decoder  *codec.Av1Decoder
	lastUsed time.Time
}

// audioDecoders is a lazily-populated, TTL-evicted map of per-sender Opus
// decoders, per spec.md §4.6 "Inbound datagram path".
type audioDecoders struct {
	byUser map[uint32]*audioDecoderEntry
}

func newAudioDecoders() *audioDecoders {
	return &audioDecoders{byUser: make(map[uint32]*audioDecoderEntry)}
}

// get returns the decoder for userID, creating one on first use.
func (m *audioDecoders) get(userID uint32, now time.Time) (*codec.OpusDecoder, error) {
	if e, ok := m.byUser[userID]; ok {
		e.lastUsed = now
		return e.decoder, nil
	}
	dec, err := codec.NewOpusDecoder()
	if err != nil {
		return nil, err
	}
	m.byUser[userID] = &audioDecoderEntry{decoder: dec, lastUsed: now}
	return dec, nil
}

// evictIdle drops decoders unused for at least decoderIdleTimeout.
func (m *audioDecoders) evictIdle(now time.Time) {
	for userID, e := range m.byUser {
		if now.Sub(e.lastUsed) >= decoderIdleTimeout {
			delete(m.byUser, userID)
		}
	}
}

func (m *audioDecoders) has(userID uint32) bool {
	_, ok := m.byUser[userID]
	return ok
}

// videoDecoders mirrors audioDecoders for per-sender AV1 decoders.
type videoDecoders struct {
	byUser map[uint32]*videoDecoderEntry
}

func newVideoDecoders() *videoDecoders {
	return &videoDecoders{byUser: make(map[uint32]*videoDecoderEntry)}
}

func (m *videoDecoders) get(userID uint32, now time.Time) (*codec.Av1Decoder, error) {
	if e, ok := m.byUser[userID]; ok {
		e.lastUsed = now
		return e.decoder, nil
	}
	dec, err := codec.NewAv1Decoder()
	if err != nil {
		return nil, err
	}
	m.byUser[userID] = &videoDecoderEntry{decoder: dec, lastUsed: now}
	return dec, nil
}

func (m *videoDecoders) evictIdle(now time.Time) {
	for userID, e := range m.byUser {
		if now.Sub(e.lastUsed) >= decoderIdleTimeout {
			e.decoder.Close()
			delete(m.byUser, userID)
		}
	}
}

func (m *videoDecoders) has(userID uint32) bool {
	_, ok := m.byUser[userID]
	return ok
}
