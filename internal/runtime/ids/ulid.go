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
// It is used as the Watermill message UUID of every published envelope.
func CreateULID() string {
	return newULID(time.Now()).String()
}

// NewNonce returns a fresh correlation nonce for an outgoing request. Nonces
// are ULIDs so that reply channels sort by issue time in broker tooling.
func NewNonce() string {
	return newULID(time.Now()).String()
}

// NonceTime extracts the issue time encoded in a nonce created by NewNonce.
// It returns false for nonces that were not produced by this package.
func NonceTime(nonce string) (time.Time, bool) {
	id, err := ulid.ParseStrict(nonce)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(id.Time()), true
}

func newULID(at time.Time) ulid.ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(at), entropy)
}
