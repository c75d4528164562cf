package wire

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// StaleTimeout is how long a partial frame may sit without a new fragment
// before Reassembler.EvictStale removes it.
const StaleTimeout = 2 * time.Second

type reassemblyKey struct {
	userID    uint32
	timestamp uint32
}

type fragment struct {
	sequence uint32
	payload  []byte
}

type partialFrame struct {
	fragments    []fragment
	isKeyframe   bool
	receivedEnd  bool
	lastActivity time.Time
}

// ReassembledFrame is a fully reassembled video frame, ready for decoding.
type ReassembledFrame struct {
	UserID     uint32
	Timestamp  uint32
	IsKeyframe bool
	Data       []byte

	// ReassemblyID correlates this frame's log lines across the wire and
	// session layers; it has no wire representation and carries no
	// meaning beyond this process's lifetime.
	ReassemblyID string
}

// Reassembler reconstructs fragmented video frames keyed by (user_id,
// timestamp). It is not safe for concurrent use; the session supervisor
// owns one instance per connection.
type Reassembler struct {
	pending map[reassemblyKey]*partialFrame
	now     func() time.Time
}

// NewReassembler returns an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{
		pending: make(map[reassemblyKey]*partialFrame),
		now:     time.Now,
	}
}

// AddFragment ingests one video datagram's header+payload. It returns the
// reassembled frame, and true, once a fragment carrying FlagEndOfFrame has
// been seen for that (user_id, timestamp) key; gaps in the sequence are not
// detected, so a frame with lost fragments is still released (and will
// simply fail to decode downstream, per spec.md §4.1).
func (r *Reassembler) AddFragment(h MediaHeader, payload []byte) (ReassembledFrame, bool) {
	key := reassemblyKey{userID: h.UserID, timestamp: h.Timestamp}

	p, ok := r.pending[key]
	if !ok {
		p = &partialFrame{}
		r.pending[key] = p
	}

	if h.IsKeyframe() {
		p.isKeyframe = true
	}
	if h.IsEndOfFrame() {
		p.receivedEnd = true
	}

	stored := make([]byte, len(payload))
	copy(stored, payload)
	p.fragments = append(p.fragments, fragment{sequence: h.Sequence, payload: stored})
	p.lastActivity = r.now()

	if !p.receivedEnd {
		return ReassembledFrame{}, false
	}

	delete(r.pending, key)
	sort.Slice(p.fragments, func(i, j int) bool {
		return p.fragments[i].sequence < p.fragments[j].sequence
	})

	var data []byte
	for _, f := range p.fragments {
		data = append(data, f.payload...)
	}

	return ReassembledFrame{
		UserID:       key.userID,
		Timestamp:    key.timestamp,
		IsKeyframe:   p.isKeyframe,
		Data:         data,
		ReassemblyID: uuid.NewString(),
	}, true
}

// EvictStale removes partial frames that have not received a fragment
// within maxAge (StaleTimeout in production use).
func (r *Reassembler) EvictStale(maxAge time.Duration) {
	now := r.now()
	for key, p := range r.pending {
		if now.Sub(p.lastActivity) >= maxAge {
			delete(r.pending, key)
		}
	}
}

// Pending returns the number of in-flight partial frames, for diagnostics.
func (r *Reassembler) Pending() int { return len(r.pending) }
