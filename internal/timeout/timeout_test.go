package timeout

import (
	"context"
	"testing"
	"time"
)

func TestRegisterAgentFiresAfterDeadline(t *testing.T) {
	e := New(PerAgent, 50*time.Millisecond)
	ctx, cleanup := e.RegisterAgent(context.Background(), "agent-1", 20*time.Millisecond)
	defer cleanup()

	select {
	case <-ctx.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected context to be cancelled after deadline")
	}

	if !e.HasFired("agent-1") {
		t.Error("expected HasFired to report true after deadline elapsed")
	}
	if e.FiredCount() != 1 {
		t.Errorf("FiredCount = %d, want 1", e.FiredCount())
	}
}

func TestRegisterAgentCleanupPreventsFalsePositive(t *testing.T) {
	e := New(PerAgent, 0)
	ctx, cleanup := e.RegisterAgent(context.Background(), "agent-2", time.Hour)

	select {
	case <-ctx.Done():
		t.Fatal("context should not be done before cleanup or deadline")
	default:
	}
	cleanup()

	select {
	case <-ctx.Done():
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected context cancelled by cleanup")
	}
	if e.HasFired("agent-2") {
		t.Error("cleanup before deadline should not count as fired")
	}
}

func TestPolicyApplicability(t *testing.T) {
	cases := []struct {
		policy       Policy
		wantAgent    bool
		wantCommand  bool
	}{
		{PerAgent, true, false},
		{PerCommand, false, true},
		{Hybrid, true, true},
	}
	for _, tc := range cases {
		e := New(tc.policy, 0)
		if e.AppliesPerAgent() != tc.wantAgent {
			t.Errorf("policy %v: AppliesPerAgent = %v, want %v", tc.policy, e.AppliesPerAgent(), tc.wantAgent)
		}
		if e.AppliesPerCommand() != tc.wantCommand {
			t.Errorf("policy %v: AppliesPerCommand = %v, want %v", tc.policy, e.AppliesPerCommand(), tc.wantCommand)
		}
	}
}

func TestDefaultCommandTimeoutFallback(t *testing.T) {
	if DefaultCommandTimeout("unknown-kind") != 2*time.Minute {
		t.Error("expected fallback default of 2 minutes for unknown command kinds")
	}
	if DefaultCommandTimeout("claude") != 10*time.Minute {
		t.Error("expected claude default of 10 minutes")
	}
}

func TestRegisterCommandHonorsOwnDeadline(t *testing.T) {
	e := New(Hybrid, 0)
	parent, parentCleanup := e.RegisterAgent(context.Background(), "agent-3", time.Hour)
	defer parentCleanup()

	ctx, cancel := e.RegisterCommand(parent, 10*time.Millisecond)
	defer cancel()

	select {
	case <-ctx.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected command-level deadline to fire independently of agent deadline")
	}
}
