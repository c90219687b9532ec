// Package ratelimit keeps one token bucket per key.
//
// Inbound auth requests are limited per client IP with Allow; outbound calls
// to the hosted backend are paced per visitor with Wait.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultIdleTTL is how long an unused key keeps its bucket.
const DefaultIdleTTL = 10 * time.Minute

const sweepInterval = time.Minute

type bucket struct {
	*rate.Limiter
	lastUsed time.Time
}

// Keyed is a set of independent token buckets addressed by key. Buckets idle
// for DefaultIdleTTL are dropped by a background sweep until Stop is called.
type Keyed struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	stop     chan struct{}
	stopOnce sync.Once
}

// New returns a Keyed limiter refilling at rps tokens per second with room
// for burst tokens.
func New(rps float64, burst int) *Keyed {
	k := &Keyed{
		limit:   rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go k.sweepLoop()
	return k
}

// Allow takes a token for key if one is available. It never blocks.
func (k *Keyed) Allow(key string) bool {
	return k.bucket(key).Allow()
}

// Wait blocks until key has a token or ctx ends.
func (k *Keyed) Wait(ctx context.Context, key string) error {
	return k.bucket(key).Wait(ctx)
}

// Len returns the number of tracked keys.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}

// Stop ends the background sweep. It is safe to call more than once.
func (k *Keyed) Stop() {
	k.stopOnce.Do(func() { close(k.stop) })
}

func (k *Keyed) bucket(key string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	b, ok := k.buckets[key]
	if !ok {
		b = &bucket{Limiter: rate.NewLimiter(k.limit, k.burst)}
		k.buckets[key] = b
	}
	b.lastUsed = k.now()
	return b.Limiter
}

// sweep forgets idle keys and returns how many it dropped. A forgotten key
// comes back with a full bucket, the state it would have refilled to anyway.
func (k *Keyed) sweep() int {
	cutoff := k.now().Add(-DefaultIdleTTL)

	k.mu.Lock()
	defer k.mu.Unlock()

	n := 0
	for key, b := range k.buckets {
		if b.lastUsed.Before(cutoff) {
			delete(k.buckets, key)
			n++
		}
	}
	return n
}

func (k *Keyed) sweepLoop() {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-k.stop:
			return
		case <-t.C:
			k.sweep()
		}
	}
}
