package triage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestGate(probe *fakeProbe, prompter *fakePrompter, clock *fakeClock) (*AuthGate, *fakeSession) {
	session := &fakeSession{}
	gate := NewAuthGate(AuthConfig{URL: "https://example.test"}, session, probe, prompter, clock, testLogger())
	return gate, session
}

func TestAuthGate_ConfirmedImmediately(t *testing.T) {
	probe := &fakeProbe{after: 0}
	prompter := &fakePrompter{answer: true}
	clock := newFakeClock()
	gate, session := newTestGate(probe, prompter, clock)

	if !gate.Await(context.Background(), 10*time.Second) {
		t.Fatal("expected authenticated")
	}
	if len(session.navigated) != 1 || session.navigated[0] != "https://example.test" {
		t.Errorf("navigated = %v", session.navigated)
	}
	if len(clock.sleeps) != 0 {
		t.Errorf("expected no polling, got %v", clock.sleeps)
	}
	if len(prompter.asked) != 1 || prompter.asked[0] != AuthQuestion {
		t.Errorf("asked = %v", prompter.asked)
	}
}

func TestAuthGate_PollsEveryTwoSeconds(t *testing.T) {
	probe := &fakeProbe{after: 3}
	prompter := &fakePrompter{answer: true}
	clock := newFakeClock()
	gate, _ := newTestGate(probe, prompter, clock)

	if !gate.Await(context.Background(), time.Minute) {
		t.Fatal("expected authenticated")
	}
	if len(clock.sleeps) != 3 {
		t.Fatalf("sleeps = %v, want 3 polls", clock.sleeps)
	}
	for _, d := range clock.sleeps {
		if d != 2*time.Second {
			t.Errorf("poll interval %s, want 2s", d)
		}
	}
}

func TestAuthGate_HumanVetoWins(t *testing.T) {
	probe := &fakeProbe{after: 0}
	prompter := &fakePrompter{answer: false}
	gate, _ := newTestGate(probe, prompter, newFakeClock())

	if gate.Await(context.Background(), time.Minute) {
		t.Fatal("negative answer must not authenticate")
	}
	if len(prompter.asked) != 1 {
		t.Errorf("prompted %d times", len(prompter.asked))
	}
}

func TestAuthGate_TimeoutSkipsPrompt(t *testing.T) {
	probe := &fakeProbe{after: -1}
	prompter := &fakePrompter{answer: true}
	clock := newFakeClock()
	gate, _ := newTestGate(probe, prompter, clock)

	if gate.Await(context.Background(), 10*time.Second) {
		t.Fatal("expected timeout")
	}
	if len(prompter.asked) != 0 {
		t.Error("prompted after timeout")
	}

	var waited time.Duration
	for _, d := range clock.sleeps {
		waited += d
	}
	if waited != 10*time.Second {
		t.Errorf("waited %s, want 10s", waited)
	}
}

func TestAuthGate_SlowProbesCountTowardTimeout(t *testing.T) {
	clock := newFakeClock()
	probe := &fakeProbe{after: -1, clock: clock, delay: 8 * time.Second}
	prompter := &fakePrompter{answer: true}
	gate, _ := newTestGate(probe, prompter, clock)

	start := clock.Now()
	if gate.Await(context.Background(), 30*time.Second) {
		t.Fatal("expected timeout")
	}
	// Each poll costs 2s of sleep plus 8s of probing.
	if len(clock.sleeps) != 3 {
		t.Errorf("sleeps = %d, want 3", len(clock.sleeps))
	}
	if elapsed := clock.Now().Sub(start); elapsed > 40*time.Second {
		t.Errorf("elapsed %s, want the wait bounded near 30s", elapsed)
	}
}

func TestAuthGate_PrompterError(t *testing.T) {
	probe := &fakeProbe{after: 0}
	prompter := &fakePrompter{err: errors.New("eof")}
	gate, _ := newTestGate(probe, prompter, newFakeClock())

	if gate.Await(context.Background(), time.Minute) {
		t.Fatal("prompter error must not authenticate")
	}
}

func TestAuthGate_NavigationError(t *testing.T) {
	probe := &fakeProbe{after: 0}
	prompter := &fakePrompter{answer: true}
	gate, session := newTestGate(probe, prompter, newFakeClock())
	session.navErr = errBoom

	if gate.Await(context.Background(), time.Minute) {
		t.Fatal("navigation error must not authenticate")
	}
	if probe.calls != 0 {
		t.Error("probed after navigation failure")
	}
}

func TestAuthGate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	probe := &fakeProbe{after: -1}
	prompter := &fakePrompter{answer: true}
	clock := newFakeClock()
	clock.stopAfter = 2
	clock.cancel = cancel
	gate, _ := newTestGate(probe, prompter, clock)

	if gate.Await(ctx, time.Hour) {
		t.Fatal("cancelled wait must not authenticate")
	}
	if len(clock.sleeps) != 2 {
		t.Errorf("sleeps = %d, want 2", len(clock.sleeps))
	}
}
