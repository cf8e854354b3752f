package worker

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces requests per host. A host can also be paused, for example
// after the platform answers 429 with Retry-After.
type Limiter struct {
	rate  rate.Limit
	burst int
	now   func() time.Time

	mu    sync.Mutex
	hosts map[string]*hostLimit
}

type hostLimit struct {
	tokens      *rate.Limiter
	pausedUntil time.Time
}

// NewLimiter allows requestsPerSecond per host with the given burst. A burst
// below one means 5.
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 5
	}
	return &Limiter{
		rate:  rate.Limit(requestsPerSecond),
		burst: burst,
		now:   time.Now,
		hosts: make(map[string]*hostLimit),
	}
}

// Wait blocks until a request to u may be sent or ctx ends.
func (l *Limiter) Wait(ctx context.Context, u *url.URL) error {
	tokens, pause := l.state(u.Host)
	if pause > 0 {
		t := time.NewTimer(pause)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-t.C:
		}
	}
	return tokens.Wait(ctx)
}

// Allow reports whether a request to u may go now, consuming a token if so.
func (l *Limiter) Allow(u *url.URL) bool {
	tokens, pause := l.state(u.Host)
	return pause <= 0 && tokens.Allow()
}

// Pause holds every request to host for d. A shorter pause never cuts an
// earlier, longer one.
func (l *Limiter) Pause(host string, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.hostLocked(host)
	if until := l.now().Add(d); until.After(h.pausedUntil) {
		h.pausedUntil = until
	}
}

// SetHostRate overrides the rate for one host.
func (l *Limiter) SetHostRate(host string, requestsPerSecond float64, burst int) {
	if burst <= 0 {
		burst = l.burst
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hostLocked(host).tokens = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

func (l *Limiter) state(host string) (*rate.Limiter, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.hostLocked(host)
	return h.tokens, h.pausedUntil.Sub(l.now())
}

func (l *Limiter) hostLocked(host string) *hostLimit {
	h, ok := l.hosts[host]
	if !ok {
		h = &hostLimit{tokens: rate.NewLimiter(l.rate, l.burst)}
		l.hosts[host] = h
	}
	return h
}
