package transactions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const defaultLockTTL = 10 * time.Second

// Locker serializes coordinator work per booking.
type Locker interface {
	Acquire(ctx context.Context, bookingID uuid.UUID) (release func(), err error)
}

type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	BookingLockKey(bookingID string) string
}

// BookingLocker implements Locker with redis SETNX + TTL. The TTL is a crash
// backstop; the happy path always releases explicitly.
type BookingLocker struct {
	store lockStore
	ttl   time.Duration
}

// NewBookingLocker constructs a redis-backed booking locker.
func NewBookingLocker(store lockStore, ttl time.Duration) (*BookingLocker, error) {
	if store == nil {
		return nil, errors.New("redis store required for booking locks")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &BookingLocker{store: store, ttl: ttl}, nil
}

// ErrLockHeld reports that another request holds the booking's lock.
var ErrLockHeld = errors.New("booking lock held")

// Acquire takes the booking's lock or returns ErrLockHeld.
func (l *BookingLocker) Acquire(ctx context.Context, bookingID uuid.UUID) (func(), error) {
	key := l.store.BookingLockKey(bookingID.String())
	owner := uuid.NewString()

	ok, err := l.store.SetNX(ctx, key, owner, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("setnx: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	release := func() {
		// Only the owner may delete; an expired lock may belong to someone else.
		value, err := l.store.Get(context.Background(), key)
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return
			}
			return
		}
		if value != owner {
			return
		}
		_ = l.store.Del(context.Background(), key)
	}
	return release, nil
}
