package signal

import (
	"testing"
	"time"
)

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Second)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("burst within limit refused")
	}
	if rl.Allow("a") {
		t.Fatal("third message in window allowed")
	}
	if !rl.Allow("b") {
		t.Fatal("limits must be per connection")
	}

	now = now.Add(1100 * time.Millisecond)
	if !rl.Allow("a") {
		t.Fatal("window did not slide")
	}

	rl.Forget("a")
	if _, ok := rl.history["a"]; ok {
		t.Fatal("Forget kept history")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	if NewRateLimiter(0, time.Second) != nil || NewRateLimiter(5, 0) != nil {
		t.Fatal("non-positive settings must disable the limiter")
	}
}
