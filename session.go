package vtgrid

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"pkt.systems/vtgrid/schema"
)

func newSessionID() schema.SessionID {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "session-unknown"
	}
	return schema.SessionID(hex.EncodeToString(buf[:]))
}

// Session returns the pipeline's session identifier.
func (p *Pipeline) Session() schema.SessionID {
	return p.id
}

// StartedAt returns when Start ran, or the zero time before that.
func (p *Pipeline) StartedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startedAt
}

// Elapsed returns the time since Start. Filter callbacks receive the
// same offset so recordings replay deterministically.
func (p *Pipeline) Elapsed() time.Duration {
	p.mu.Lock()
	started := p.startedAt
	p.mu.Unlock()
	if started.IsZero() {
		return 0
	}
	return p.now().Sub(started)
}
