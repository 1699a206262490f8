// Package ratelimit implements the multi-tier sliding-window limiter:
// per-action tiers are checked conjunctively (any exceeded tier rejects),
// and violations accumulate per client IP, across every action that client
// touches, to drive exponential backoff of the block duration. State is
// in-process only — eventually consistent across a cluster, never reset by
// cleanup short of the 1h idle prune.
package ratelimit

import (
	"net"
	"sync"
	"time"
)

// Tier is one (window, max requests) constraint within an action's limit.
type Tier struct {
	Window      time.Duration
	MaxRequests int
}

// ActionLimit is the ordered list of tiers checked for one action name.
type ActionLimit struct {
	Tiers []Tier
}

// Config is the full rate-limiting configuration: a global enable switch,
// a default limit used for actions with no explicit override, the
// exponential-backoff multiplier, and per-action overrides.
type Config struct {
	Enabled           bool
	DefaultWindow     time.Duration
	DefaultMaxRequest int
	BackoffMultiplier float64
	Actions           map[string]ActionLimit
}

func (c Config) limitFor(action string) ActionLimit {
	if a, ok := c.Actions[action]; ok {
		return a
	}
	window := c.DefaultWindow
	if window <= 0 {
		window = time.Minute
	}
	maxReq := c.DefaultMaxRequest
	if maxReq <= 0 {
		maxReq = 100
	}
	return ActionLimit{Tiers: []Tier{
		{Window: window / 12, MaxRequests: maxReq / 10},
		{Window: window, MaxRequests: maxReq},
	}}
}

// clientState is the sliding-window state held per client IP, shared
// across every action that client makes requests against. violations and
// blockedUntil accumulate across actions: a client penalized on one action
// is blocked on all of them until the penalty expires.
type clientState struct {
	mu           sync.Mutex
	requests     map[string][]time.Time
	violations   int
	blockedUntil time.Time
	lastSeen     time.Time
}

// Limiter tracks per-client state across every configured action.
type Limiter struct {
	cfg Config

	mu      sync.Mutex
	clients map[string]*clientState
}

func New(cfg Config) *Limiter {
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2.0
	}
	return &Limiter{cfg: cfg, clients: make(map[string]*clientState)}
}

func (l *Limiter) stateFor(ip net.IP) *clientState {
	k := ip.String()
	l.mu.Lock()
	defer l.mu.Unlock()
	cs, ok := l.clients[k]
	if !ok {
		cs = &clientState{requests: make(map[string][]time.Time)}
		l.clients[k] = cs
	}
	return cs
}

// Check runs the full admission protocol (spec §4.9) for one request from
// ip against action. It returns (true, 0) if allowed, or (false,
// retryAfter) if rejected.
func (l *Limiter) Check(action string, ip net.IP) (allowed bool, retryAfter time.Duration) {
	if !l.cfg.Enabled {
		return true, 0
	}

	limit := l.cfg.limitFor(action)
	cs := l.stateFor(ip)

	cs.mu.Lock()
	defer cs.mu.Unlock()

	now := time.Now()
	cs.lastSeen = now

	if !cs.blockedUntil.IsZero() && now.Before(cs.blockedUntil) {
		return false, cs.blockedUntil.Sub(now)
	}

	maxWindow := time.Minute
	for _, t := range limit.Tiers {
		if t.Window > maxWindow {
			maxWindow = t.Window
		}
	}
	cs.requests[action] = pruneBefore(cs.requests[action], now.Add(-maxWindow))

	for _, t := range limit.Tiers {
		cutoff := now.Add(-t.Window)
		count := 0
		for _, r := range cs.requests[action] {
			if r.After(cutoff) {
				count++
			}
		}
		if count >= t.MaxRequests {
			cs.violations++
			penaltyMultiplier := pow(l.cfg.BackoffMultiplier, cs.violations-1)
			penalty := time.Duration(float64(t.Window) * penaltyMultiplier)
			cs.blockedUntil = now.Add(penalty)
			return false, penalty
		}
	}

	cs.requests[action] = append(cs.requests[action], now)
	return true, 0
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// idleEvictAfter is how long a client with no recent requests and no
// active block is kept around before PruneIdle removes it.
const idleEvictAfter = time.Hour

// PruneIdle removes clients that have neither made a request nor been
// blocked within the last hour, bounding memory for a long-running
// process. cmd/api calls it every few minutes.
func (l *Limiter) PruneIdle() {
	cutoff := time.Now().Add(-idleEvictAfter)
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, cs := range l.clients {
		cs.mu.Lock()
		stillBlocked := !cs.blockedUntil.IsZero() && cs.blockedUntil.After(time.Now())
		idle := cs.lastSeen.Before(cutoff)
		cs.mu.Unlock()
		if idle && !stillBlocked {
			delete(l.clients, k)
		}
	}
}
