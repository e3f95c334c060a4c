package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Scope string

const (
	ScopeRead  Scope = "read"
	ScopeWrite Scope = "write"
)

type BucketKind string

const (
	BucketIP  BucketKind = "ip"
	BucketKey BucketKind = "key"
)

// Config sets how many requests each bucket may make per Window. A bucket
// starts full and refills evenly over the window.
type Config struct {
	Window   time.Duration
	ReadIP   int
	ReadKey  int
	WriteIP  int
	WriteKey int
}

type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   int64
	ResetIn   int64
}

type key struct {
	scope  Scope
	kind   BucketKind
	bucket string
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const maxEntries = 100000

type Limiter struct {
	cfg Config

	mu      sync.Mutex
	entries map[key]*entry
}

func New(cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &Limiter{
		cfg:     cfg,
		entries: make(map[key]*entry, 4096),
	}
}

func (l *Limiter) Take(now time.Time, scope Scope, kind BucketKind, bucket string) Result {
	limit := l.limit(scope, kind)
	if limit <= 0 {
		return Result{Allowed: true, ResetAt: now.Unix()}
	}

	k := key{scope: scope, kind: kind, bucket: bucket}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[k]
	if !ok {
		every := rate.Every(l.cfg.Window / time.Duration(limit))
		e = &entry{limiter: rate.NewLimiter(every, limit)}
		l.entries[k] = e
	}
	e.lastSeen = now

	allowed := e.limiter.AllowN(now, 1)
	tokens := e.limiter.TokensAt(now)
	remaining := max(int(math.Floor(tokens)), 0)

	// Seconds until the next request would be allowed.
	var resetIn int64
	if tokens < 1 {
		perSecond := float64(e.limiter.Limit())
		resetIn = int64(math.Ceil((1 - tokens) / perSecond))
	}

	if len(l.entries) > maxEntries {
		l.cleanup(now.Add(-2 * l.cfg.Window))
	}

	return Result{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   now.Unix() + resetIn,
		ResetIn:   resetIn,
	}
}

func (l *Limiter) limit(scope Scope, kind BucketKind) int {
	switch scope {
	case ScopeRead:
		if kind == BucketKey {
			return l.cfg.ReadKey
		}
		return l.cfg.ReadIP
	case ScopeWrite:
		if kind == BucketKey {
			return l.cfg.WriteKey
		}
		return l.cfg.WriteIP
	default:
		return 0
	}
}

func (l *Limiter) cleanup(idleSince time.Time) {
	for k, e := range l.entries {
		if e.lastSeen.Before(idleSince) {
			delete(l.entries, k)
		}
	}
}
