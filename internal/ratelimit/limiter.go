// Package ratelimit throttles paid requests per peer and paces stream output.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PeerLimiter keeps one token bucket per peer key (usually the remote IP).
type PeerLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*peerEntry
}

type peerEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewPeerLimiter allows perMinute requests per peer with the given burst.
// A non-positive perMinute disables limiting.
func NewPeerLimiter(perMinute float64, burst int) *PeerLimiter {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(perMinute / 60.0)
	}
	if burst <= 0 {
		burst = 1
	}
	return &PeerLimiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*peerEntry),
	}
}

func (pl *PeerLimiter) get(peer string) *rate.Limiter {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	e, ok := pl.limiters[peer]
	if !ok {
		e = &peerEntry{limiter: rate.NewLimiter(pl.limit, pl.burst)}
		pl.limiters[peer] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

// Allow reports whether peer may make a request now.
func (pl *PeerLimiter) Allow(peer string) bool {
	return pl.get(peer).Allow()
}

// Cleanup forgets peers idle for longer than idle and returns how many were removed.
func (pl *PeerLimiter) Cleanup(idle time.Duration) int {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	count := 0
	cutoff := time.Now().Add(-idle)
	for peer, e := range pl.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(pl.limiters, peer)
			count++
		}
	}
	return count
}

// Len returns the number of tracked peers.
func (pl *PeerLimiter) Len() int {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return len(pl.limiters)
}

// Pacer limits a byte stream to a fixed rate.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer returns a pacer allowing bytesPerSecond, or nil when bytesPerSecond <= 0.
func NewPacer(bytesPerSecond int) *Pacer {
	if bytesPerSecond <= 0 {
		return nil
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), bytesPerSecond)}
}

// Wait blocks until n bytes may be sent or ctx is done. A nil pacer never blocks.
// Requests larger than one second of budget are split.
func (p *Pacer) Wait(ctx context.Context, n int) error {
	if p == nil {
		return nil
	}
	burst := p.limiter.Burst()
	for n > 0 {
		step := n
		if step > burst {
			step = burst
		}
		if err := p.limiter.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}
