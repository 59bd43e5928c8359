package policy

import (
	"log/slog"
	"sync"
)

// Engine holds the live policy state and answers capability checks.
//
// Construct one per workspace and inject it into call sites; mutations are
// serialized behind a single mutex so concurrent SetMode/UpdateApprovals
// calls cannot lose updates.
type Engine struct {
	mu        sync.RWMutex
	mode      Mode
	overrides map[Capability]Decision
	store     *Store
}

// NewEngine builds an engine from persisted state, falling back to the
// default mode when nothing (or nothing usable) is on disk.
func NewEngine(store *Store) *Engine {
	e := &Engine{
		mode:      DefaultMode,
		overrides: map[Capability]Decision{},
		store:     store,
	}

	if store == nil {
		return e
	}

	persisted, err := store.Load()
	if err != nil {
		slog.Warn("policy load failed, using defaults", "mode", DefaultMode, "error", err)
		return e
	}
	if mode, ok := ParseMode(string(persisted.Mode)); ok {
		e.mode = mode
	} else if persisted.Mode != "" {
		slog.Warn("persisted policy mode is invalid, using default", "mode", persisted.Mode)
	}
	for rawCap, rawDecision := range persisted.Overrides {
		cap, capOK := ParseCapability(string(rawCap))
		decision, decisionOK := ParseDecision(string(rawDecision))
		if !capOK || !decisionOK {
			slog.Warn("dropping invalid persisted override", "capability", rawCap, "decision", rawDecision)
			continue
		}
		e.overrides[cap] = decision
	}
	return e
}

// Check returns the effective decision for a capability: override first,
// mode preset otherwise. Pure lookup, safe at high frequency.
func (e *Engine) Check(cap Capability) Decision {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if d, ok := e.overrides[cap]; ok {
		return d
	}
	return Preset(e.mode, cap)
}

// SetMode replaces the current mode and clears all overrides. A mode change
// is a deliberate reset of trust; stale session exceptions must not carry
// over into the new level.
func (e *Engine) SetMode(mode Mode) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.mode = mode
	e.overrides = map[Capability]Decision{}
	e.persistLocked()
}

// UpdateApprovals merges per-capability overrides. Only valid entries
// replace; capabilities absent from the partial map are left untouched.
func (e *Engine) UpdateApprovals(partial map[Capability]Decision) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for cap, decision := range partial {
		if _, ok := ParseCapability(string(cap)); !ok {
			continue
		}
		if _, ok := ParseDecision(string(decision)); !ok {
			continue
		}
		e.overrides[cap] = decision
	}
	e.persistLocked()
}

// ResetApprovals clears all overrides without changing the mode.
func (e *Engine) ResetApprovals() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.overrides = map[Capability]Decision{}
	e.persistLocked()
}

// Mode returns the active mode.
func (e *Engine) Mode() Mode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

// Snapshot returns the mode plus the fully resolved decision table for
// every capability (presets merged with overrides).
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	approvals := make(map[Capability]Decision, len(Capabilities))
	for _, cap := range Capabilities {
		if d, ok := e.overrides[cap]; ok {
			approvals[cap] = d
			continue
		}
		approvals[cap] = Preset(e.mode, cap)
	}
	return Snapshot{Mode: e.mode, Approvals: approvals}
}

// persistLocked writes current state through the store. Losing persistence
// must not lose enforcement, so failures degrade to a logged warning and
// the in-memory policy stays authoritative for the session.
func (e *Engine) persistLocked() {
	if e.store == nil {
		return
	}

	overrides := make(map[Capability]Decision, len(e.overrides))
	for cap, decision := range e.overrides {
		overrides[cap] = decision
	}
	if err := e.store.Save(Policy{Mode: e.mode, Overrides: overrides}); err != nil {
		slog.Warn("policy save failed, keeping in-memory state", "error", err)
	}
}
