package sequencer

import (
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const orderRefPrefix = "ord_"

// ErrInvalidOrderRef is returned by ParseOrderRef for malformed references.
var ErrInvalidOrderRef = errors.New("sequencer: invalid order reference")

// NewOrderRefGenerator returns a generator of ord_-prefixed ULIDs that are strictly
// increasing within the process, even for calls in the same millisecond.
func NewOrderRefGenerator(clock func() time.Time) func() string {
	if clock == nil {
		clock = time.Now
	}
	entropy := ulid.Monotonic(rand.Reader, 0)
	var mu sync.Mutex
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		return orderRefPrefix + ulid.MustNew(ulid.Timestamp(clock()), entropy).String()
	}
}

// ParseOrderRef validates a reference and returns its ULID.
func ParseOrderRef(ref string) (ulid.ULID, error) {
	if !strings.HasPrefix(ref, orderRefPrefix) {
		return ulid.ULID{}, ErrInvalidOrderRef
	}
	id, err := ulid.ParseStrict(strings.TrimPrefix(ref, orderRefPrefix))
	if err != nil {
		return ulid.ULID{}, errors.Join(ErrInvalidOrderRef, err)
	}
	return id, nil
}
