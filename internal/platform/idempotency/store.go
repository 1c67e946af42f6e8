// Package idempotency makes checkout session creation safe to retry: a repeated Idempotency-Key
// replays the first response instead of opening a second payment session.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"
)

// DefaultTTL bounds how long a key is remembered.
const DefaultTTL = 24 * time.Hour

// ReservationState is the outcome of Reserve.
type ReservationState int

const (
	// ReservationStateNew: the caller owns the key and must run the handler.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted: Record.Response holds the reply to replay.
	ReservationStateCompleted
	// ReservationStatePending: an earlier request with this key has not finished.
	ReservationStatePending
)

// Reservation is what Reserve found for a key.
type Reservation struct {
	State  ReservationState
	Record Record
}

// Record tracks one key. Response is nil until the owning request completes.
type Record struct {
	Key         string
	Fingerprint string
	Response    *Response
	ExpiresAt   time.Time
}

// Completed reports whether a replayable response is stored.
func (r Record) Completed() bool { return r.Response != nil }

func (r Record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Response is a captured reply.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists reservations and completed responses.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key, fingerprint string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrFingerprintMismatch is returned when a key is reused with a different request body or route.
var ErrFingerprintMismatch = errors.New("idempotency: key reused for a different request")

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// replayableHeaders copies the headers worth replaying. Cookies and transport headers are dropped.
func replayableHeaders(src http.Header) http.Header {
	out := make(http.Header)
	for name, values := range src {
		switch http.CanonicalHeaderKey(name) {
		case "Set-Cookie", "Content-Length", "Date", "Connection", "Transfer-Encoding", "Keep-Alive", "Trailer", "Upgrade":
			continue
		}
		out[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
