package triage

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Clock abstracts time for the loop so waits can be observed in tests.
type Clock interface {
	Now() time.Time

	// Sleep waits for d or until ctx is done, returning ctx.Err() then.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Range is an inclusive duration interval.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// Seconds builds a Range from whole seconds.
func Seconds(min, max int) Range {
	return Range{Min: time.Duration(min) * time.Second, Max: time.Duration(max) * time.Second}
}

// Contains reports whether d lies within the range.
func (r Range) Contains(d time.Duration) bool {
	return d >= r.Min && d <= r.Max
}

// Validate checks that the range is non-negative and ordered.
func (r Range) Validate() error {
	if r.Min < 0 || r.Max < r.Min {
		return fmt.Errorf("invalid range [%s, %s]", r.Min, r.Max)
	}
	return nil
}

func (r Range) String() string {
	return fmt.Sprintf("[%s, %s]", r.Min, r.Max)
}

// Pacer picks randomized delays so waits never follow a fixed cadence.
type Pacer interface {
	Between(r Range) time.Duration
}

// RandomPacer draws uniformly from a Range.
type RandomPacer struct {
	rng *rand.Rand
}

// NewRandomPacer returns a pacer backed by the runtime's random source.
func NewRandomPacer() *RandomPacer {
	return &RandomPacer{}
}

// NewSeededPacer returns a reproducible pacer.
func NewSeededPacer(seed uint64) *RandomPacer {
	return &RandomPacer{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (p *RandomPacer) Between(r Range) time.Duration {
	span := int64(r.Max - r.Min)
	if span <= 0 {
		return r.Min
	}
	if p.rng != nil {
		return r.Min + time.Duration(p.rng.Int64N(span+1))
	}
	return r.Min + time.Duration(rand.Int64N(span+1))
}
