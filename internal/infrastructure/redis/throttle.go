package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const throttleKey = "entitlements:throttle:last_invocation"

// ThrottleGate bounds the frequency of expensive verification server
// round-trips with a single persisted timestamp. The mark survives
// process restarts and is shared across replicas.
//
// The check-then-refresh sequence is deliberately not serialized:
// concurrent callers may both observe stale and both refresh. Duplicate
// server calls under that race are tolerable; missed throttling is not.
type ThrottleGate struct {
	client   *redis.Client
	deadBand time.Duration
	logger   zerolog.Logger
}

// NewThrottleGate builds a gate with the given dead band.
func NewThrottleGate(client *redis.Client, deadBand time.Duration, logger zerolog.Logger) *ThrottleGate {
	return &ThrottleGate{client: client, deadBand: deadBand, logger: logger}
}

// IsStale reports whether the last recorded invocation is older than the
// dead band. A missing mark counts as stale. Redis failures degrade to
// "not stale" so that an outage never triggers extra remote calls.
func (g *ThrottleGate) IsStale(ctx context.Context, now time.Time) bool {
	raw, err := g.client.Get(ctx, throttleKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return true
		}
		g.logger.Warn().Err(err).Msg("throttle mark read failed, treating as fresh")
		return false
	}

	lastMillis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		g.logger.Warn().Str("raw", raw).Msg("throttle mark is corrupt, treating as stale")
		return true
	}

	return IsMarkStale(time.UnixMilli(lastMillis), g.deadBand, now)
}

// Refresh persists now as the new mark.
func (g *ThrottleGate) Refresh(ctx context.Context, now time.Time) error {
	return g.client.Set(ctx, throttleKey, strconv.FormatInt(now.UnixMilli(), 10), 0).Err()
}

// IsMarkStale is the staleness rule: the mark plus the dead band must lie
// strictly before now.
func IsMarkStale(mark time.Time, deadBand time.Duration, now time.Time) bool {
	return mark.Add(deadBand).Before(now)
}
