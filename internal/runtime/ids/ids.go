// Package ids generates the identifiers stamped onto envelopes: ULIDs for
// message ids (time-sortable, no ordering guarantee promised) and UUIDs for
// correlation ids.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewMessageID returns a time-prefixed ULID encoded as a 26-character string.
func NewMessageID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// NewCorrelationID returns a collision-resistant random identifier suitable
// for propagating across a logical operation.
func NewCorrelationID() string {
	return uuid.NewString()
}
