package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process Store used by the single storefront instance.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

// Reserve claims key for fingerprint, or reports what an earlier request left behind.
func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[key]; ok && !existing.expired(now) {
		switch {
		case existing.Fingerprint != fingerprint:
			return Reservation{}, ErrFingerprintMismatch
		case existing.Completed():
			return Reservation{State: ReservationStateCompleted, Record: existing}, nil
		default:
			return Reservation{State: ReservationStatePending, Record: existing}, nil
		}
	}

	rec := Record{Key: key, Fingerprint: fingerprint, ExpiresAt: now.Add(ttlOrDefault(ttl))}
	s.records[key] = rec
	return Reservation{State: ReservationStateNew, Record: rec}, nil
}

// SaveResponse completes the reservation for key.
func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[key]; ok && existing.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	stored := Response{
		Status:  resp.Status,
		Headers: replayableHeaders(resp.Headers),
		Body:    append([]byte(nil), resp.Body...),
	}
	s.records[key] = Record{
		Key:         key,
		Fingerprint: fingerprint,
		Response:    &stored,
		ExpiresAt:   now.Add(ttlOrDefault(ttl)),
	}
	return nil
}

// Release forgets key so the client may retry.
func (s *MemoryStore) Release(_ context.Context, key, _ string) error {
	s.mu.Lock()
	delete(s.records, key)
	s.mu.Unlock()
	return nil
}

// CleanupExpired removes up to limit expired records; limit <= 0 means no limit.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, rec := range s.records {
		if limit > 0 && removed >= limit {
			break
		}
		if rec.expired(now) {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}

// Len reports how many keys are tracked.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
