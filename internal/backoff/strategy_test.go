package backoff

import (
	"testing"
	"time"
)

func TestLinearStrategy(t *testing.T) {
	strategy := LinearStrategy{}

	tests := []struct {
		name     string
		attempt  int
		base     time.Duration
		max      time.Duration
		expected time.Duration
	}{
		{name: "attempt 0 is treated as 1", attempt: 0, base: time.Second, expected: time.Second},
		{name: "attempt 1", attempt: 1, base: time.Second, expected: time.Second},
		{name: "attempt 2", attempt: 2, base: time.Second, expected: 2 * time.Second},
		{name: "attempt 5", attempt: 5, base: 100 * time.Millisecond, expected: 500 * time.Millisecond},
		{name: "capped", attempt: 10, base: time.Second, max: 3 * time.Second, expected: 3 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strategy.Delay(tt.attempt, tt.base, tt.max, 0)
			if got != tt.expected {
				t.Errorf("Delay(%d, %v, %v, 0) = %v, want %v", tt.attempt, tt.base, tt.max, got, tt.expected)
			}
		})
	}
}

func TestExponentialStrategy(t *testing.T) {
	strategy := ExponentialStrategy{}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{attempt: 1, expected: 100 * time.Millisecond},
		{attempt: 2, expected: 200 * time.Millisecond},
		{attempt: 3, expected: 400 * time.Millisecond},
		{attempt: 10, expected: time.Second},
	}

	for _, tt := range tests {
		got := strategy.Delay(tt.attempt, 100*time.Millisecond, time.Second, 0)
		if got != tt.expected {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.expected)
		}
	}
}

func TestJitterStaysWithinBounds(t *testing.T) {
	strategy := LinearStrategy{}
	base := 100 * time.Millisecond

	for i := 0; i < 100; i++ {
		got := strategy.Delay(2, base, 0, 0.5)
		if got < 200*time.Millisecond || got > 300*time.Millisecond {
			t.Fatalf("Delay with jitter = %v, want within [200ms, 300ms]", got)
		}
	}

	for i := 0; i < 100; i++ {
		got := strategy.Delay(2, base, 250*time.Millisecond, 1)
		if got > 250*time.Millisecond {
			t.Fatalf("Delay with jitter = %v, exceeds cap", got)
		}
	}
}

func TestClampJitter(t *testing.T) {
	tests := []struct {
		input, expected float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.3, 0.3},
		{1, 1},
		{1.5, 1},
	}

	for _, tt := range tests {
		if got := clampJitter(tt.input); got != tt.expected {
			t.Errorf("clampJitter(%f) = %f, want %f", tt.input, got, tt.expected)
		}
	}
}
