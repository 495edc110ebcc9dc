package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	GlobalRPS    float64
	GlobalBurst  int
	UploadLimit  int
	UploadWindow time.Duration
	Redis        RedisConfig
}

// RedisConfig points the upload limiter at a shared Redis instance so the
// per-IP counters survive restarts and cover every node behind a balancer.
// When Addr is empty the limiter falls back to in-process buckets.
type RedisConfig struct {
	Addr     string
	Password string
	Timeout  time.Duration
	TLS      RedisTLSConfig
}

type tokenStore interface {
	Allow(key string, limit int, window time.Duration) (bool, time.Duration, error)
	Close(ctx context.Context) error
}

type rateLimiter struct {
	global       *rate.Limiter
	uploadLimit  int
	uploadWindow time.Duration
	store        tokenStore

	mu     sync.Mutex
	perIP  map[string]*ipLimiter
	lastGC time.Time
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(cfg RateLimitConfig) (*rateLimiter, error) {
	rl := &rateLimiter{
		uploadLimit:  cfg.UploadLimit,
		uploadWindow: cfg.UploadWindow,
		perIP:        make(map[string]*ipLimiter),
		lastGC:       time.Now(),
	}
	if rl.uploadWindow <= 0 {
		rl.uploadWindow = time.Minute
	}
	if cfg.GlobalRPS > 0 {
		burst := cfg.GlobalBurst
		if burst <= 0 {
			burst = int(cfg.GlobalRPS)
			if burst < 1 {
				burst = 1
			}
		}
		rl.global = rate.NewLimiter(rate.Limit(cfg.GlobalRPS), burst)
	}
	if cfg.Redis.Addr != "" && rl.uploadLimit > 0 {
		store, err := newRedisStore(cfg.Redis)
		if err != nil {
			return nil, err
		}
		rl.store = store
	}
	return rl, nil
}

func (r *rateLimiter) AllowRequest() bool {
	if r == nil || r.global == nil {
		return true
	}
	return r.global.Allow()
}

// AllowUpload applies the per-IP upload quota. With a Redis store the count
// is shared across nodes; otherwise each process keeps its own limiters.
func (r *rateLimiter) AllowUpload(key string) (bool, time.Duration, error) {
	if r == nil || r.uploadLimit <= 0 {
		return true, 0, nil
	}
	if r.store != nil {
		return r.store.Allow(fmt.Sprintf("edgeriver:upload:%s", key), r.uploadLimit, r.uploadWindow)
	}
	if key == "" {
		key = "unknown"
	}

	r.mu.Lock()
	lim, ok := r.perIP[key]
	if !ok {
		perSecond := rate.Limit(float64(r.uploadLimit) / r.uploadWindow.Seconds())
		lim = &ipLimiter{limiter: rate.NewLimiter(perSecond, r.uploadLimit)}
		r.perIP[key] = lim
	}
	lim.lastSeen = time.Now()
	r.gcLocked()
	r.mu.Unlock()

	if lim.limiter.Allow() {
		return true, 0, nil
	}
	return false, time.Second, nil
}

func (r *rateLimiter) Close(ctx context.Context) {
	if r == nil || r.store == nil {
		return
	}
	_ = r.store.Close(ctx)
}

// gcLocked drops limiters for IPs idle beyond two windows. Runs at most
// once per window so hot paths rarely pay for it.
func (r *rateLimiter) gcLocked() {
	now := time.Now()
	if now.Sub(r.lastGC) < r.uploadWindow {
		return
	}
	r.lastGC = now
	cutoff := now.Add(-2 * r.uploadWindow)
	for key, lim := range r.perIP {
		if lim.lastSeen.Before(cutoff) {
			delete(r.perIP, key)
		}
	}
}
