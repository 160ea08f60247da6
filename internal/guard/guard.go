// Package guard protects the engine from runaway execution. Every data
// source call enters through a Guard keyed by caller identity; call chains
// that grow too deep and keys that fire too often inside a sliding window
// are rejected and blacklisted for a cooldown period.
package guard

import (
	"sort"
	"sync"
	"time"

	"pulseboard/internal/logger"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultMaxDepth = 10
	DefaultWindow   = 5 * time.Second
	DefaultMaxCalls = 50
	DefaultCooldown = 10 * time.Second
)

// Trip reasons recorded when a key is blacklisted.
const (
	TripDepth     = "depth"
	TripFrequency = "frequency"
)

// Config tunes a Guard. Zero fields fall back to the defaults above.
type Config struct {
	MaxDepth int           // reject once this many calls for a key are live
	Window   time.Duration // sliding window for frequency accounting
	MaxCalls int           // reject once this many calls land inside Window
	Cooldown time.Duration // how long a tripped key stays blacklisted
}

func (c Config) withDefaults() Config {
	if c.MaxDepth <= 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.MaxCalls <= 0 {
		c.MaxCalls = DefaultMaxCalls
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	return c
}

// keyState is the per-key bookkeeping. calls holds the admission times
// still inside the window; depth counts admitted calls not yet exited.
type keyState struct {
	depth        int
	calls        []time.Time
	blockedUntil time.Time
	tripReason   string
}

// Guard is safe for concurrent use.
type Guard struct {
	mu   sync.Mutex
	cfg  Config
	keys map[string]*keyState
	log  *logger.Logger

	allowed int64
	denied  int64
	trips   int64

	now func() time.Time // replaced in tests
}

// New builds a Guard with cfg. log may not be nil; pass logger.Nop() when
// output is unwanted.
func New(cfg Config, log *logger.Logger) *Guard {
	return &Guard{
		cfg:  cfg.withDefaults(),
		keys: make(map[string]*keyState),
		log:  log,
		now:  time.Now,
	}
}

// Enter reports whether the call identified by key may proceed and, if so,
// records it. A caller that receives true must call Exit with the same key
// exactly once when the call finishes. A caller that receives false must
// not call Exit.
func (g *Guard) Enter(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	st := g.keys[key]
	if st == nil {
		st = &keyState{}
		g.keys[key] = st
	}

	if !st.blockedUntil.IsZero() {
		if now.Before(st.blockedUntil) {
			g.denied++
			return false
		}
		// Cooldown elapsed. Forget the key's history so a one-off storm
		// does not disable it forever.
		st.blockedUntil = time.Time{}
		st.tripReason = ""
		st.calls = st.calls[:0]
	}

	st.prune(now.Add(-g.cfg.Window))

	if st.depth >= g.cfg.MaxDepth {
		g.trip(key, st, now, TripDepth)
		return false
	}
	if len(st.calls) >= g.cfg.MaxCalls {
		g.trip(key, st, now, TripFrequency)
		return false
	}

	st.depth++
	st.calls = append(st.calls, now)
	g.allowed++
	return true
}

// Exit marks the end of a call previously admitted by Enter.
func (g *Guard) Exit(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st := g.keys[key]; st != nil && st.depth > 0 {
		st.depth--
	}
}

// Blocked reports whether key is currently blacklisted.
func (g *Guard) Blocked(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.keys[key]
	return st != nil && !st.blockedUntil.IsZero() && g.now().Before(st.blockedUntil)
}

// Forget drops all state for key. Called when the owning widget is
// unregistered so a reused ID starts clean.
func (g *Guard) Forget(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.keys, key)
}

// BlockedKey describes one blacklisted key in a Snapshot.
type BlockedKey struct {
	Key    string    `json:"key"`
	Reason string    `json:"reason"`
	Until  time.Time `json:"until"`
}

// Snapshot is a point-in-time view of guard counters for status reporting.
type Snapshot struct {
	Allowed int64        `json:"allowed"`
	Denied  int64        `json:"denied"`
	Trips   int64        `json:"trips"`
	Blocked []BlockedKey `json:"blocked,omitempty"`
}

// Snapshot returns current counters and the keys still in cooldown.
func (g *Guard) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap := Snapshot{Allowed: g.allowed, Denied: g.denied, Trips: g.trips}
	now := g.now()
	for key, st := range g.keys {
		if !st.blockedUntil.IsZero() && now.Before(st.blockedUntil) {
			snap.Blocked = append(snap.Blocked, BlockedKey{Key: key, Reason: st.tripReason, Until: st.blockedUntil})
		}
	}
	sort.Slice(snap.Blocked, func(i, j int) bool { return snap.Blocked[i].Key < snap.Blocked[j].Key })
	return snap
}

// trip blacklists the key and counts the denial. Callers hold g.mu.
func (g *Guard) trip(key string, st *keyState, now time.Time, reason string) {
	st.blockedUntil = now.Add(g.cfg.Cooldown)
	st.tripReason = reason
	g.denied++
	g.trips++
	g.log.Warnw("guard_tripped",
		"key", key,
		"reason", reason,
		"depth", st.depth,
		"calls_in_window", len(st.calls),
		"blocked_until", st.blockedUntil,
	)
}

// prune drops call timestamps older than cutoff. calls is append-ordered,
// so the survivors are a suffix.
func (st *keyState) prune(cutoff time.Time) {
	i := 0
	for i < len(st.calls) && !st.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		st.calls = append(st.calls[:0], st.calls[i:]...)
	}
}
