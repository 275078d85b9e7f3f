package session

import (
	"testing"
	"time"
)

func TestFixedPolicy(t *testing.T) {
	p := NewFixedPolicy(5*time.Second, 0)
	now := time.Now()
	for i := 0; i < 3; i++ {
		if d := p.Next(now); d != 5*time.Second {
			t.Fatalf("attempt %d delay = %s, want 5s", i, d)
		}
		now = now.Add(5 * time.Second)
	}
}

func TestPolicyStretchesToMinInterval(t *testing.T) {
	p := NewFixedPolicy(time.Second, 10*time.Second)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if d := p.Admit(now); d != 0 {
		t.Fatalf("first attempt delayed by %s", d)
	}
	if d := p.Next(now); d < 10*time.Second-time.Millisecond || d > 10*time.Second+time.Millisecond {
		t.Fatalf("delay = %s, want 10s", d)
	}
}

func TestExponentialPolicyGrowsAndResets(t *testing.T) {
	p := NewExponentialPolicy(time.Second, 8*time.Second, 0)
	now := time.Now()
	var delays []time.Duration
	for i := 0; i < 6; i++ {
		delays = append(delays, p.Next(now))
	}
	if delays[0] > 1100*time.Millisecond || delays[0] < 900*time.Millisecond {
		t.Fatalf("first delay = %s, want ~1s", delays[0])
	}
	if delays[3] < 7*time.Second {
		t.Fatalf("fourth delay = %s, want ~8s", delays[3])
	}
	for _, d := range delays {
		if d > 8800*time.Millisecond {
			t.Fatalf("delay %s exceeds the cap", d)
		}
	}
	p.Reset()
	if d := p.Next(now); d > 1100*time.Millisecond {
		t.Fatalf("delay after reset = %s", d)
	}
}
