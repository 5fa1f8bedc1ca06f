package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// NewRequestID returns an id suitable for outgoing request correlation.
func NewRequestID() string {
	return "req_" + CreateULID()
}

// NewSessionID returns an id for an HTTP session.
func NewSessionID() string {
	return "sess_" + CreateULID()
}

// NewInstanceID returns an id for a factory-owned transport instance.
func NewInstanceID() string {
	return "transport_" + CreateULID()
}

// NewSlotID returns an id for a subprocess pool slot.
func NewSlotID() string {
	return "proc_" + CreateULID()
}
