package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter spaces out requests per key (an upstream host or a client
// address). Each key gets its own token bucket refilled once per minInterval.
type Limiter struct {
	mu          sync.Mutex
	hosts       map[string]*keyLimiter
	minInterval time.Duration
	burst       int

	stopOnce sync.Once
	stopCh   chan struct{}
}

type keyLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// New creates a limiter that allows one request per minInterval per key.
// A zero interval disables limiting.
func New(minInterval time.Duration) *Limiter {
	return NewWithBurst(minInterval, 1)
}

// NewWithBurst is New with room for burst back-to-back requests per key
func NewWithBurst(minInterval time.Duration, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		hosts:       make(map[string]*keyLimiter),
		minInterval: minInterval,
		burst:       burst,
		stopCh:      make(chan struct{}),
	}
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	kl, ok := l.hosts[key]
	if !ok {
		every := rate.Inf
		if l.minInterval > 0 {
			every = rate.Every(l.minInterval)
		}
		kl = &keyLimiter{limiter: rate.NewLimiter(every, l.burst)}
		l.hosts[key] = kl
	}
	kl.lastAccess = time.Now()
	return kl.limiter
}

// Allow reports whether a request for key may go now, consuming a slot if so
func (l *Limiter) Allow(key string) bool {
	return l.get(key).Allow()
}

// Wait blocks until a request for key may go or ctx is done
func (l *Limiter) Wait(ctx context.Context, key string) error {
	return l.get(key).Wait(ctx)
}

// Reset forgets the history for key
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.hosts, key)
}

// ResetAll forgets every key
func (l *Limiter) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hosts = make(map[string]*keyLimiter)
}

// Len reports how many keys are tracked
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hosts)
}

// Prune drops keys not used for longer than idle and returns how many went
func (l *Limiter) Prune(idle time.Duration) int {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, kl := range l.hosts {
		if now.Sub(kl.lastAccess) > idle {
			delete(l.hosts, key)
			removed++
		}
	}
	return removed
}

// StartCleanup prunes keys idle for two intervals, every interval, until Stop
func (l *Limiter) StartCleanup(interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				l.Prune(2 * interval)
			case <-l.stopCh:
				return
			}
		}
	}()
}

// Stop ends the cleanup loop. Safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
}
