package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("expected first two requests to pass")
	}
	if rl.Allow("a") {
		t.Fatal("expected third request to be limited")
	}
	if !rl.Allow("b") {
		t.Fatal("expected other key to be independent")
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	rl := NewRateLimiter(1, 50*time.Millisecond)
	defer rl.Stop()

	if !rl.Allow("a") {
		t.Fatal("expected first request to pass")
	}
	if rl.Allow("a") {
		t.Fatal("expected second request to be limited")
	}
	time.Sleep(80 * time.Millisecond)
	if !rl.Allow("a") {
		t.Fatal("expected request after window to pass")
	}
}

func TestRateLimiterEvictsIdleKeys(t *testing.T) {
	rl := NewRateLimiter(5, time.Hour)
	defer rl.Stop()

	rl.Allow("a")
	rl.Allow("b")
	rl.evict(time.Now().Add(2 * time.Hour))

	if n := rl.tracked(); n != 0 {
		t.Fatalf("expected all keys evicted, got %d", n)
	}
}

func TestRateLimiterStopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	rl.Stop()
	rl.Stop()
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	km := newKeyedMutex()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := km.Lock(context.Background(), "s")
			if err != nil {
				t.Errorf("Lock failed: %v", err)
				return
			}
			time.Sleep(time.Millisecond)
			release()
		}()
	}
	wg.Wait()

	if km.Len() != 0 {
		t.Fatalf("expected no held keys, got %d", km.Len())
	}
}

func TestKeyedMutexWaitHonorsContext(t *testing.T) {
	km := newKeyedMutex()
	release, err := km.Lock(context.Background(), "s")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := km.Lock(ctx, "s"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if waited := time.Since(start); waited > time.Second {
		t.Fatalf("waiter blocked for %v", waited)
	}
	if km.Len() != 1 {
		t.Fatalf("expected only the holder's key, got %d", km.Len())
	}

	release()
	if km.Len() != 0 {
		t.Fatalf("expected no held keys, got %d", km.Len())
	}
	again, err := km.Lock(context.Background(), "s")
	if err != nil {
		t.Fatalf("Lock after release failed: %v", err)
	}
	again()
}
