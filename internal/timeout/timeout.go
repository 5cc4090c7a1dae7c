// Package timeout implements the TimeoutEnforcer: a registry of per-agent
// deadlines that fire a cooperative cancellation signal rather than killing
// anything directly, leaving the step executor responsible for noticing it.
package timeout

import (
	"context"
	"sync"
	"time"
)

// Policy selects which deadlines apply to an agent.
type Policy int

const (
	// PerAgent enforces a single deadline for the whole agent lifecycle.
	PerAgent Policy = iota
	// PerCommand enforces a deadline on each step individually.
	PerCommand
	// Hybrid enforces both: the agent deadline and each step's own deadline.
	Hybrid
)

// defaultCommandTimeouts gives per-command-kind defaults used by PerCommand
// and Hybrid policies when a step does not declare its own timeout.
var defaultCommandTimeouts = map[string]time.Duration{
	"claude": 10 * time.Minute,
	"shell":  2 * time.Minute,
	"test":   5 * time.Minute,
}

// DefaultCommandTimeout returns the default deadline for a command kind,
// falling back to a conservative default for unrecognized kinds.
func DefaultCommandTimeout(kind string) time.Duration {
	if d, ok := defaultCommandTimeouts[kind]; ok {
		return d
	}
	return 2 * time.Minute
}

// entry tracks one registered agent's cancellation state.
type entry struct {
	cancel   context.CancelFunc
	fired    bool
	firedAt  time.Time
}

// Enforcer maintains a registry of agent deadlines, keyed by agent_id.
type Enforcer struct {
	policy Policy
	grace  time.Duration

	mu    sync.Mutex
	byID  map[string]*entry
	fired int
}

// New creates an Enforcer under the given policy, with grace as the
// cooperative-cancellation-to-forced-cleanup window.
func New(policy Policy, grace time.Duration) *Enforcer {
	return &Enforcer{policy: policy, grace: grace, byID: make(map[string]*entry)}
}

// RegisterAgent derives a child context from parent that is cancelled when
// deadline elapses, and returns it alongside a cleanup function the caller
// must defer-call to deregister (and release resources) once the agent is done.
func (e *Enforcer) RegisterAgent(parent context.Context, agentID string, deadline time.Duration) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	timer := time.AfterFunc(deadline, func() {
		e.fire(agentID)
		cancel()
	})

	e.mu.Lock()
	e.byID[agentID] = &entry{cancel: cancel}
	e.mu.Unlock()

	cleanup := func() {
		timer.Stop()
		cancel()
		e.mu.Lock()
		delete(e.byID, agentID)
		e.mu.Unlock()
	}
	return ctx, cleanup
}

// RegisterCommand derives a per-step context bounded by the per-command
// deadline; used under PerCommand and Hybrid policies in addition to (not
// instead of) the agent-level context from RegisterAgent.
func (e *Enforcer) RegisterCommand(parent context.Context, deadline time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, deadline)
}

// AppliesPerCommand reports whether this enforcer's policy enforces
// individual step deadlines in addition to (or instead of) the agent deadline.
func (e *Enforcer) AppliesPerCommand() bool {
	return e.policy == PerCommand || e.policy == Hybrid
}

// AppliesPerAgent reports whether the whole-agent deadline is enforced.
func (e *Enforcer) AppliesPerAgent() bool {
	return e.policy == PerAgent || e.policy == Hybrid
}

func (e *Enforcer) fire(agentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ent, ok := e.byID[agentID]; ok && !ent.fired {
		ent.fired = true
		ent.firedAt = time.Now()
		e.fired++
	}
}

// FiredCount returns how many registered agents have had their deadline
// fire, for metrics/reporting.
func (e *Enforcer) FiredCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fired
}

// HasFired reports whether agentID's deadline already elapsed.
func (e *Enforcer) HasFired(agentID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.byID[agentID]
	return ok && ent.fired
}

// Grace returns the configured cooperative-cancellation grace period.
func (e *Enforcer) Grace() time.Duration { return e.grace }
