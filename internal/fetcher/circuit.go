package fetcher

import (
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"time"
)

// circuitKey names the breaker for one provider key. Only a short hash of the
// key is kept.
func circuitKey(provider, key string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return provider + ":" + strconv.FormatUint(uint64(h.Sum32()), 36)
}

// breaker is a consecutive-failure circuit breaker keyed by provider name, or
// by provider and key hash for credentialed providers.
//
//   - On success: resets failures and closes the circuit.
//   - On failure: increments failures and, once failures >= trip,
//     opens the circuit for an exponentially increasing cooldown.
type breaker struct {
	mu sync.Mutex
	m  map[string]*circuitState
}

type circuitState struct {
	fails       int
	openUntil   time.Time
	lastFailure time.Time
}

// circuitCfg holds effective settings after applying defaults.
type circuitCfg struct {
	trip       int
	baseDelay  time.Duration
	maxDelay   time.Duration
	resetAfter time.Duration
	enabled    bool
}

func effectiveCircuitCfg(cfg CircuitConfig) circuitCfg {
	trip := cfg.TripFailures
	if trip == 0 {
		trip = 5
	}
	if trip < 0 {
		return circuitCfg{enabled: false}
	}
	base := cfg.BaseDelay
	if base <= 0 {
		base = 5 * time.Second
	}
	maxD := cfg.MaxDelay
	if maxD <= 0 {
		maxD = 2 * time.Minute
	}
	reset := cfg.ResetAfter
	if reset <= 0 {
		reset = 5 * time.Minute
	}
	return circuitCfg{trip: trip, baseDelay: base, maxDelay: maxD, resetAfter: reset, enabled: true}
}

// get returns the state for key. Caller must hold b.mu.
func (b *breaker) get(key string) *circuitState {
	k := strings.TrimSpace(key)
	if k == "" {
		return nil
	}
	if b.m == nil {
		b.m = make(map[string]*circuitState)
	}
	st := b.m[k]
	if st == nil {
		st = &circuitState{}
		b.m[k] = st
	}
	return st
}

func (cc circuitCfg) maybeReset(now time.Time, st *circuitState) {
	if !st.lastFailure.IsZero() && cc.resetAfter > 0 && now.Sub(st.lastFailure) > cc.resetAfter {
		st.fails = 0
		st.openUntil = time.Time{}
	}
}

func (b *breaker) isOpen(now time.Time, key string, cfg CircuitConfig) (bool, time.Time) {
	cc := effectiveCircuitCfg(cfg)
	if !cc.enabled {
		return false, time.Time{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.get(key)
	if st == nil {
		return false, time.Time{}
	}
	cc.maybeReset(now, st)
	if !st.openUntil.IsZero() && now.Before(st.openUntil) {
		return true, st.openUntil
	}
	return false, time.Time{}
}

func (b *breaker) record(now time.Time, key string, cfg CircuitConfig, failed bool) {
	cc := effectiveCircuitCfg(cfg)
	if !cc.enabled {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.get(key)
	if st == nil {
		return
	}
	cc.maybeReset(now, st)

	if !failed {
		st.fails = 0
		st.openUntil = time.Time{}
		st.lastFailure = time.Time{}
		return
	}

	st.fails++
	st.lastFailure = now
	if st.fails < cc.trip {
		return
	}

	// Exponential cooldown after tripping.
	d := cc.baseDelay
	for i := 0; i < st.fails-cc.trip; i++ {
		d *= 2
		if d >= cc.maxDelay {
			break
		}
	}
	if d > cc.maxDelay {
		d = cc.maxDelay
	}
	st.openUntil = now.Add(d)
}

// openCount reports how many circuits are currently open.
func (b *breaker) openCount(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, st := range b.m {
		if st != nil && !st.openUntil.IsZero() && now.Before(st.openUntil) {
			n++
		}
	}
	return n
}
