// Package ids generates the identifiers carried by envelopes and broker instances.
package ids

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewMessageID returns a time-sortable ULID encoded as a 26-character string.
// IDs created by the same process are strictly increasing.
func NewMessageID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewInstanceID returns a short lowercase identifier for an application instance.
func NewInstanceID() string {
	id := strings.ToLower(NewMessageID())
	return id[len(id)-10:]
}

// IssuedAt extracts the creation time embedded in a message id. It reports
// false for ids that were not produced by NewMessageID.
func IssuedAt(id string) (time.Time, bool) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(parsed.Time()), true
}
