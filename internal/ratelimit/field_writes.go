package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/pavetrack/internal/config"
)

const keyFieldWriteUser = "pavetrack:ratelimit:field-write:%s"

// spendWriteCredit refills a user's credit from redis TIME, spends one credit
// when available and reports how long to wait otherwise. Credit is a float,
// so it goes back as a string to survive reply truncation.
const spendWriteCredit = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])

local clock = redis.call("TIME")
local now = clock[1] * 1000 + math.floor(clock[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "credit", "refilled_at")
local credit = tonumber(state[1]) or burst
local refilledAt = tonumber(state[2]) or now
if now > refilledAt then
  credit = math.min(burst, credit + (now - refilledAt) / 1000 * rate)
end

local granted = 0
local waitMs = 0
if credit >= 1 then
  granted = 1
  credit = credit - 1
else
  waitMs = math.ceil((1 - credit) / rate * 1000)
end

redis.call("HSET", KEYS[1], "credit", credit, "refilled_at", now)
redis.call("PEXPIRE", KEYS[1], math.max(1000, math.ceil(burst / rate * 2000)))

return {granted, tostring(credit), waitMs}
`

// Decision is the outcome of one field write against the caller's budget.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// FieldWriteLimiter throttles ledger writes per user, shared across replicas through redis.
// A nil limiter allows everything.
type FieldWriteLimiter struct {
	client *redis.Client
	script *redis.Script
	rate   float64
	burst  int
}

func NewFieldWriteLimiter(client *redis.Client, cfg config.Config) *FieldWriteLimiter {
	if client == nil || cfg.FieldWriteRate <= 0 || cfg.FieldWriteBurst <= 0 {
		return nil
	}
	return &FieldWriteLimiter{
		client: client,
		script: redis.NewScript(spendWriteCredit),
		rate:   cfg.FieldWriteRate,
		burst:  cfg.FieldWriteBurst,
	}
}

func (l *FieldWriteLimiter) Enabled() bool {
	return l != nil && l.client != nil
}

// AllowUser spends one write credit for the user. Callers decide whether a
// redis error blocks the write; the HTTP layer lets it through.
func (l *FieldWriteLimiter) AllowUser(ctx context.Context, userID string) (*Decision, error) {
	if !l.Enabled() {
		return &Decision{Allowed: true}, nil
	}

	reply, err := l.script.Run(ctx, l.client, []string{userKey(userID)}, l.rate, l.burst).Slice()
	if err != nil {
		return nil, fmt.Errorf("spend field write credit: %w", err)
	}
	if len(reply) != 3 {
		return nil, fmt.Errorf("spend field write credit: unexpected reply of %d values", len(reply))
	}

	granted, err := replyFloat(reply[0])
	if err != nil {
		return nil, err
	}
	credit, err := replyFloat(reply[1])
	if err != nil {
		return nil, err
	}
	waitMs, err := replyFloat(reply[2])
	if err != nil {
		return nil, err
	}

	return &Decision{
		Allowed:    granted == 1,
		Limit:      l.burst,
		Remaining:  int(credit),
		RetryAfter: time.Duration(waitMs) * time.Millisecond,
	}, nil
}

func userKey(userID string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		userID = "anonymous"
	}
	return fmt.Sprintf(keyFieldWriteUser, userID)
}

func replyFloat(v any) (float64, error) {
	switch val := v.(type) {
	case int64:
		return float64(val), nil
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("parse field write credit %q: %w", val, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unexpected field write reply %T", v)
	}
}
