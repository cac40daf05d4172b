package api

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		if !rl.Allow("user-1") {
			t.Fatalf("request %d denied inside the limit", i+1)
		}
	}
	if rl.Allow("user-1") {
		t.Error("request over the limit was allowed")
	}
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Stop()

	if !rl.Allow("user-1") {
		t.Fatal("first request for user-1 denied")
	}
	if rl.Allow("user-1") {
		t.Error("user-1 allowed past the limit")
	}
	if !rl.Allow("user-2") {
		t.Error("user-2 throttled by user-1's requests")
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	rl := NewRateLimiter(1, 50*time.Millisecond)
	defer rl.Stop()

	if !rl.Allow("user-1") {
		t.Fatal("first request denied")
	}
	if rl.Allow("user-1") {
		t.Fatal("second immediate request allowed")
	}

	time.Sleep(60 * time.Millisecond)
	if !rl.Allow("user-1") {
		t.Error("request denied after the window expired")
	}
}
