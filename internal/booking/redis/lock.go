package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"hac-shop/internal/logger"
)

const (
	keyPrefix  = "booking_lock:"
	DefaultTTL = 30 * time.Second
)

// unlockScript deletes the key only while it still holds the caller's token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock serializes status transitions of a single booking across instances.
type Lock struct {
	Client *redis.Client
	TTL    time.Duration
	Logger *logger.Logger
}

func NewLock(client *redis.Client, ttl time.Duration, log *logger.Logger) *Lock {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Lock{Client: client, TTL: ttl, Logger: log}
}

func lockKey(bookingID string) string {
	return keyPrefix + bookingID
}

// LockBooking takes the lock for bookingID on behalf of owner. It returns false
// without error when somebody else holds it.
func (l *Lock) LockBooking(ctx context.Context, bookingID, owner string) (bool, error) {
	ok, err := l.Client.SetNX(ctx, lockKey(bookingID), owner, l.TTL).Result()
	if err != nil {
		l.Logger.Error("REDIS", fmt.Sprintf("Failed to lock booking %s: %v", bookingID, err))
		return false, err
	}
	if !ok {
		l.Logger.Debug("REDIS", fmt.Sprintf("Booking %s is already locked", bookingID))
	}
	return ok, nil
}

// UnlockBooking releases the lock if owner still holds it.
func (l *Lock) UnlockBooking(ctx context.Context, bookingID, owner string) error {
	err := unlockScript.Run(ctx, l.Client, []string{lockKey(bookingID)}, owner).Err()
	if err != nil && err != redis.Nil {
		l.Logger.Error("REDIS", fmt.Sprintf("Failed to unlock booking %s: %v", bookingID, err))
		return err
	}
	return nil
}
