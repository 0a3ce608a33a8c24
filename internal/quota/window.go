package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	mentionWindowKey = "plume:mentions:window"
	windowKeySlack   = 30 * time.Second
)

// reserveScript compares the held slot against the caller's clock and claims
// the key in the same round trip, so two invocations can never both see an
// open window. Returns -1 when the slot was claimed, otherwise the remaining
// hold time in milliseconds.
var reserveScript = redis.NewScript(`
local last = tonumber(redis.call('GET', KEYS[1]))
local now = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])
if last and now - last < interval then
	return interval - (now - last)
end
redis.call('SET', KEYS[1], now, 'PX', ARGV[3])
return -1
`)

// MentionWindow is a Redis guard on the mention poll interval across
// overlapping invocations. The ledger timestamp is authoritative; this guard
// closes the race between two invocations that both read a stale
// last_mention_check before either has written one.
type MentionWindow struct {
	rdb redis.Cmdable
}

// NewMentionWindow creates a Redis-backed mention poll guard.
func NewMentionWindow(rdb redis.Cmdable) *MentionWindow {
	return &MentionWindow{rdb: rdb}
}

// Reserve attempts to claim the current poll slot. It returns allowed=false
// with the remaining wait when a poll already happened within minInterval.
// Errors are returned as-is; callers fail open on them.
func (w *MentionWindow) Reserve(ctx context.Context, now time.Time, minInterval time.Duration) (bool, time.Duration, error) {
	px := (minInterval + windowKeySlack).Milliseconds()
	res, err := reserveScript.Run(ctx, w.rdb,
		[]string{mentionWindowKey},
		now.UnixMilli(), minInterval.Milliseconds(), px,
	).Int64()
	if err != nil {
		return false, 0, fmt.Errorf("mention window reserve: %w", err)
	}
	if res < 0 {
		return true, 0, nil
	}
	return false, time.Duration(res) * time.Millisecond, nil
}
