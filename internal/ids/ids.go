// Package ids mints and validates the identifiers used on disk and on the wire.
//
// Sessions are random UUIDv4 strings chosen by the server. Assets, jobs, and
// renders are ULIDs so directory listings and API responses sort by creation
// time without a separate timestamp lookup.
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

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// New returns a ULID string. IDs minted within the same millisecond remain
// strictly increasing.
func New() string {
	return NewAt(time.Now())
}

// NewAt mints a ULID for the given instant.
func NewAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// ValidSessionID reports whether id is a canonical lowercase UUID string.
func ValidSessionID(id string) bool {
	if len(id) != 36 {
		return false
	}
	parsed, err := uuid.Parse(id)
	return err == nil && parsed.String() == id
}

// ValidULID reports whether id is a canonical 26-character ULID.
func ValidULID(id string) bool {
	if len(id) != ulid.EncodedSize {
		return false
	}
	parsed, err := ulid.ParseStrict(id)
	return err == nil && parsed.String() == id
}

// Time extracts the creation instant encoded in a ULID.
func Time(id string) (time.Time, bool) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(parsed.Time()), true
}
