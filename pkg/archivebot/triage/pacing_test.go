package triage

import (
	"context"
	"testing"
	"time"
)

func TestRandomPacer_StaysInRange(t *testing.T) {
	ranges := []Range{Seconds(10, 30), Seconds(3, 15), Seconds(3, 10)}
	pacers := map[string]*RandomPacer{
		"seeded":  NewSeededPacer(42),
		"runtime": NewRandomPacer(),
	}

	for name, p := range pacers {
		for _, r := range ranges {
			for i := 0; i < 500; i++ {
				if d := p.Between(r); !r.Contains(d) {
					t.Fatalf("%s: %s outside %s", name, d, r)
				}
			}
		}
	}
}

func TestRandomPacer_Degenerate(t *testing.T) {
	p := NewSeededPacer(1)
	if d := p.Between(Seconds(5, 5)); d != 5*time.Second {
		t.Errorf("got %s, want 5s", d)
	}
	if d := p.Between(Seconds(5, 1)); d != 5*time.Second {
		t.Errorf("inverted range: got %s, want min", d)
	}
}

func TestRandomPacer_NotConstant(t *testing.T) {
	p := NewSeededPacer(7)
	seen := map[time.Duration]bool{}
	for i := 0; i < 50; i++ {
		seen[p.Between(Seconds(10, 30))] = true
	}
	if len(seen) < 2 {
		t.Error("pacer produced a fixed cadence")
	}
}

func TestRangeValidate(t *testing.T) {
	if err := Seconds(3, 15).Validate(); err != nil {
		t.Errorf("valid range rejected: %v", err)
	}
	if err := Seconds(15, 3).Validate(); err == nil {
		t.Error("inverted range accepted")
	}
	if err := (Range{Min: -time.Second, Max: time.Second}).Validate(); err == nil {
		t.Error("negative range accepted")
	}
}

func TestSystemClock_SleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := (SystemClock{}).Sleep(ctx, time.Hour); err == nil {
		t.Fatal("expected context error")
	}
	if time.Since(start) > time.Second {
		t.Error("cancelled sleep blocked")
	}
}
