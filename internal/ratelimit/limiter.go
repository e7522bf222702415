// Package ratelimit counts requests per client in fixed windows kept in the
// key-value store, so every server process sharing the store shares limits.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dhyanmanav/GAT-CMS-2/internal/kv"
)

const keyPrefix = "ratelimit:"

type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

type Limiter struct {
	store  kv.Store
	name   string
	limit  int
	window time.Duration
}

// New returns a limiter allowing limit calls per window for each client. A
// limit of zero or less disables limiting.
func New(store kv.Store, name string, limit int, window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{store: store, name: name, limit: limit, window: window}
}

func (l *Limiter) Enabled() bool {
	return l != nil && l.limit > 0
}

func (l *Limiter) Allow(ctx context.Context, client string, now time.Time) (Decision, error) {
	start := now.Truncate(l.window)
	reset := start.Add(l.window)
	if !l.Enabled() {
		return Decision{Allowed: true, Reset: reset}, nil
	}

	count, err := l.store.Incr(ctx, l.bucketKey(start, client))
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", l.name, err)
	}
	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(l.limit),
		Limit:     l.limit,
		Remaining: remaining,
		Reset:     reset,
	}, nil
}

// Sweep deletes the counters of windows that ended before now.
func (l *Limiter) Sweep(ctx context.Context, now time.Time) (int, error) {
	prefix := keyPrefix + l.name + ":"
	entries, err := l.store.GetByPrefix(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("scan rate limit buckets: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		startUnix, _, ok := strings.Cut(strings.TrimPrefix(entry.Key, prefix), ":")
		if !ok {
			continue
		}
		seconds, err := strconv.ParseInt(startUnix, 10, 64)
		if err != nil {
			continue
		}
		if now.Before(time.Unix(seconds, 0).Add(l.window)) {
			continue
		}
		if err := l.store.Delete(ctx, entry.Key); err != nil {
			return removed, fmt.Errorf("delete rate limit bucket: %w", err)
		}
		removed++
	}
	return removed, nil
}

func (l *Limiter) bucketKey(start time.Time, client string) string {
	return fmt.Sprintf("%s%s:%d:%s", keyPrefix, l.name, start.Unix(), client)
}
