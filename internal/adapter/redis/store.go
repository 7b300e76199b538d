package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/couchcryptid/hml-forecast-producer/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// reservedPrefix marks a value as an in-flight reservation rather than a
// delivery record. Delivery records are JSON objects and never start with it.
const reservedPrefix = "reserved:"

// commitScript swaps a held reservation for the delivery record.
// KEYS[1]=key ARGV[1]=reservation value ARGV[2]=payload ARGV[3]=ttl ms.
var commitScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
	return 1
end
return 0
`)

// releaseScript deletes a reservation only if it is still held.
// KEYS[1]=key ARGV[1]=reservation value.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Store implements pipeline.Store on Redis. Reservations are written with
// SET NX and a lease so an abandoned one expires on its own; commit and
// release are compare-and-set scripts keyed on the reservation's token.
type Store struct {
	client         redis.Cmdable
	prefix         string
	reservationTTL time.Duration
}

// NewStore creates a Store. Keys are prefix + product id.
func NewStore(client redis.Cmdable, prefix string, reservationTTL time.Duration) *Store {
	return &Store{client: client, prefix: prefix, reservationTTL: reservationTTL}
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

func (s *Store) TryReserve(ctx context.Context, id string) (domain.Reservation, bool, error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, s.key(id), reservedPrefix+token, s.reservationTTL).Result()
	if err != nil {
		return domain.Reservation{}, false, unavailable("SetNX", err)
	}
	if !ok {
		return domain.Reservation{}, false, nil
	}
	return domain.Reservation{ID: id, Token: token}, true, nil
}

func (s *Store) Commit(ctx context.Context, r domain.Reservation, payload []byte, ttl time.Duration) error {
	if ttl < time.Millisecond {
		return fmt.Errorf("commit %s: ttl %s below one millisecond", r.ID, ttl)
	}
	n, err := commitScript.Run(ctx, s.client, []string{s.key(r.ID)},
		reservedPrefix+r.Token, payload, ttl.Milliseconds()).Int()
	if err != nil {
		return unavailable("commit", err)
	}
	if n == 0 {
		return fmt.Errorf("commit %s: %w", r.ID, domain.ErrReservationLost)
	}
	return nil
}

func (s *Store) Release(ctx context.Context, r domain.Reservation) error {
	n, err := releaseScript.Run(ctx, s.client, []string{s.key(r.ID)}, reservedPrefix+r.Token).Int()
	if err != nil {
		return unavailable("release", err)
	}
	if n == 0 {
		return fmt.Errorf("release %s: %w", r.ID, domain.ErrReservationLost)
	}
	return nil
}

// Lookup returns the delivery record for id, if one is committed and live.
func (s *Store) Lookup(ctx context.Context, id string) ([]byte, bool, error) {
	v, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("GET", err)
	}
	if strings.HasPrefix(string(v), reservedPrefix) {
		return nil, false, nil
	}
	return v, true, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: redis %s: %w", domain.ErrStoreUnavailable, op, err)
}
