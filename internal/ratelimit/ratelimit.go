// Package ratelimit implements fixed-window request limiting, in process or
// shared through Redis.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Limiter decides whether one more request for key fits in the current
// window. When it does not, retryAfter is the time until the window resets.
type Limiter interface {
	Allow(ctx context.Context, key string) (ok bool, retryAfter time.Duration, err error)
}

// sweep expired buckets once the map grows past this many keys
const sweepThreshold = 10_000

type Memory struct {
	mu      sync.Mutex
	window  time.Duration
	limit   int
	clients map[string]*clientBucket
	now     func() time.Time
}

type clientBucket struct {
	count     int
	windowEnd time.Time
}

func NewMemory(limit int, window time.Duration) *Memory {
	return &Memory{
		limit:   limit,
		window:  window,
		clients: make(map[string]*clientBucket),
		now:     time.Now,
	}
}

func (m *Memory) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.clients[key]

	if !ok || !now.Before(b.windowEnd) {
		if !ok && len(m.clients) >= sweepThreshold {
			m.sweep(now)
		}

		m.clients[key] = &clientBucket{
			count:     1,
			windowEnd: now.Add(m.window),
		}
		return true, 0, nil
	}

	if b.count >= m.limit {
		return false, b.windowEnd.Sub(now), nil
	}

	b.count++
	return true, 0, nil
}

func (m *Memory) sweep(now time.Time) {
	for k, b := range m.clients {
		if !now.Before(b.windowEnd) {
			delete(m.clients, k)
		}
	}
}

// Fallback consults primary and, if it errors, answers from secondary so a
// broken shared store degrades to per-instance limits rather than an outage.
type Fallback struct {
	primary   Limiter
	secondary Limiter
	log       *slog.Logger
}

func NewFallback(primary, secondary Limiter, log *slog.Logger) *Fallback {
	if log == nil {
		log = slog.Default()
	}
	return &Fallback{primary: primary, secondary: secondary, log: log}
}

func (f *Fallback) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	ok, retry, err := f.primary.Allow(ctx, key)
	if err == nil {
		return ok, retry, nil
	}

	f.log.WarnContext(ctx, "rate limiter unavailable, using local window", "err", err)

	return f.secondary.Allow(ctx, key)
}
