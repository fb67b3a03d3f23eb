package config

import (
	"testing"
	"time"
)

func TestBackoff_Calculate_NoJitter(t *testing.T) {
	cfg := BackoffConfig{
		Initial:    100 * time.Millisecond,
		Max:        time.Second,
		Multiplier: 2,
	}

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{50, time.Second},
	}

	for _, tt := range tests {
		b := NewBackoff(0, cfg)
		for i := 0; i < tt.attempts; i++ {
			b.Next()
		}
		if got := b.Calculate(); got != tt.want {
			t.Errorf("Calculate() after %d attempts = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestBackoff_Reset(t *testing.T) {
	b := NewBackoff(0, BackoffConfig{Initial: time.Millisecond, Max: time.Second, Multiplier: 2})
	b.Next()
	b.Next()
	if b.Attempts() != 2 {
		t.Errorf("Attempts() = %d, want 2", b.Attempts())
	}

	b.Reset()
	if b.Attempts() != 0 {
		t.Errorf("Attempts() after Reset = %d, want 0", b.Attempts())
	}
	if got := b.Next(); got != time.Millisecond {
		t.Errorf("Next() after Reset = %v, want 1ms", got)
	}
}

func TestBackoff_JitterBounds(t *testing.T) {
	cfg := DefaultBackoffConfig()
	b := NewBackoff(12345, cfg)

	for i := 0; i < 100; i++ {
		got := b.Calculate()
		low := time.Duration(float64(cfg.Initial) * 0.8)
		high := time.Duration(float64(cfg.Initial) * 1.2)
		if got < low || got > high {
			t.Fatalf("Calculate() = %v, want within [%v, %v]", got, low, high)
		}
	}
}

func TestBackoff_DeterministicJitter(t *testing.T) {
	cfg := DefaultBackoffConfig()
	b1 := NewBackoff(42, cfg)
	b2 := NewBackoff(42, cfg)

	for i := 0; i < 10; i++ {
		if d1, d2 := b1.Next(), b2.Next(); d1 != d2 {
			t.Fatalf("attempt %d: %v != %v for the same seed", i, d1, d2)
		}
	}
}
