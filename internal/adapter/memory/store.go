// Package memory provides a process-local idempotency store. It gives the
// same reserve/commit/release guarantees as the Redis store within a single
// process, for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/couchcryptid/hml-forecast-producer/internal/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Store implements pipeline.Store with a mutex-guarded map. Records are kept
// on a list ordered by expiry time so expired ones can be swept from the
// front. When full, new reservations are refused rather than evicting live
// records, since forgetting a delivered id would allow a duplicate.
type Store struct {
	capacity       int
	reservationTTL time.Duration
	clock          clockwork.Clock

	mu      sync.Mutex
	entries map[string]*entry
	head    *entry // earliest expiry
	tail    *entry // latest expiry
}

type entry struct {
	id        string
	token     string // empty once committed
	payload   []byte
	expiresAt time.Time
	prev      *entry
	next      *entry
}

// NewStore creates a store holding at most capacity ids. A nil clock uses
// real time.
func NewStore(capacity int, reservationTTL time.Duration, clk clockwork.Clock) *Store {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Store{
		capacity:       capacity,
		reservationTTL: reservationTTL,
		clock:          clk,
		entries:        make(map[string]*entry),
	}
}

func (s *Store) TryReserve(ctx context.Context, id string) (domain.Reservation, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Reservation{}, false, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.sweep(now)

	if _, ok := s.entries[id]; ok {
		return domain.Reservation{}, false, nil
	}
	if s.capacity > 0 && len(s.entries) >= s.capacity {
		return domain.Reservation{}, false, fmt.Errorf("%w: memory store full (%d ids)", domain.ErrStoreUnavailable, s.capacity)
	}

	e := &entry{id: id, token: uuid.NewString(), expiresAt: now.Add(s.reservationTTL)}
	s.entries[id] = e
	s.insert(e)
	return domain.Reservation{ID: id, Token: e.token}, true, nil
}

func (s *Store) Commit(ctx context.Context, r domain.Reservation, payload []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.owned(r)
	if err != nil {
		return err
	}
	s.remove(e)
	e.token = ""
	e.payload = append([]byte(nil), payload...)
	e.expiresAt = s.clock.Now().Add(ttl)
	s.insert(e)
	return nil
}

func (s *Store) Release(ctx context.Context, r domain.Reservation) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.owned(r)
	if err != nil {
		return err
	}
	delete(s.entries, e.id)
	s.remove(e)
	return nil
}

// Lookup returns the delivery record for id, if one is committed and live.
func (s *Store) Lookup(_ context.Context, id string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.token != "" || !s.clock.Now().Before(e.expiresAt) {
		return nil, false, nil
	}
	return append([]byte(nil), e.payload...), true, nil
}

// Len returns the number of live ids.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(s.clock.Now())
	return len(s.entries)
}

func (s *Store) owned(r domain.Reservation) (*entry, error) {
	e, ok := s.entries[r.ID]
	if !ok || e.token == "" || e.token != r.Token || !s.clock.Now().Before(e.expiresAt) {
		return nil, fmt.Errorf("%s: %w", r.ID, domain.ErrReservationLost)
	}
	return e, nil
}

// sweep drops expired records from the front of the list.
func (s *Store) sweep(now time.Time) {
	for s.head != nil && !now.Before(s.head.expiresAt) {
		e := s.head
		delete(s.entries, e.id)
		s.remove(e)
	}
}

// insert places e by expiry, scanning from the back where new records land.
func (s *Store) insert(e *entry) {
	at := s.tail
	for at != nil && at.expiresAt.After(e.expiresAt) {
		at = at.prev
	}
	e.prev = at
	if at == nil {
		e.next = s.head
		s.head = e
	} else {
		e.next = at.next
		at.next = e
	}
	if e.next != nil {
		e.next.prev = e
	} else {
		s.tail = e
	}
}

func (s *Store) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		s.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		s.tail = e.prev
	}
	e.prev, e.next = nil, nil
}
