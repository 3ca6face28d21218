package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/melo-live/internal/ratelimit"
)

func newTestLimiter(t *testing.T, limit int, window time.Duration) (*ratelimit.SlidingWindowLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	l := ratelimit.NewSlidingWindowLimiter(client, ratelimit.Options{
		Prefix: "melo",
		Limit:  limit,
		Window: window,
	})
	return l, mr
}

func TestAllowUnderLimit(t *testing.T) {
	l, _ := newTestLimiter(t, 3, time.Minute)
	ctx := context.Background()

	for i, wantRemaining := range []int{2, 1, 0} {
		res, err := l.Allow(ctx, "c1", "send_message")
		if err != nil {
			t.Fatalf("Allow #%d err: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("Allow #%d: expected allowed", i)
		}
		if res.Remaining != wantRemaining {
			t.Errorf("Allow #%d: remaining = %d, want %d", i, res.Remaining, wantRemaining)
		}
		if res.Limit != 3 {
			t.Errorf("Allow #%d: limit = %d, want 3", i, res.Limit)
		}
	}

	res, err := l.Allow(ctx, "c1", "send_message")
	if err != nil {
		t.Fatalf("Allow over limit err: %v", err)
	}
	if res.Allowed {
		t.Fatal("expected denial over the limit")
	}
	if res.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", res.Remaining)
	}
	if res.RetryAfter != time.Minute {
		t.Errorf("retry after = %v, want window length", res.RetryAfter)
	}
	if !res.ResetAt.After(time.Now().Add(-time.Second)) {
		t.Errorf("reset at = %v, want in the future", res.ResetAt)
	}

	if l.Degraded() {
		t.Fatal("limiter should not be degraded")
	}
}

func TestWindowSlides(t *testing.T) {
	l, _ := newTestLimiter(t, 2, 200*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := l.Allow(ctx, "c1", "typing_start")
		if err != nil || !res.Allowed {
			t.Fatalf("Allow #%d: res=%+v err=%v", i, res, err)
		}
	}
	res, err := l.Allow(ctx, "c1", "typing_start")
	if err != nil {
		t.Fatalf("Allow err: %v", err)
	}
	if res.Allowed {
		t.Fatal("expected denial inside the window")
	}

	time.Sleep(250 * time.Millisecond)

	res, err = l.Allow(ctx, "c1", "typing_start")
	if err != nil {
		t.Fatalf("Allow after window err: %v", err)
	}
	if !res.Allowed {
		t.Fatal("expected admission after the window slid")
	}
}

func TestWindowsAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	if res, _ := l.Allow(ctx, "c1", "send_message"); !res.Allowed {
		t.Fatal("c1/send_message should be admitted")
	}
	if res, _ := l.Allow(ctx, "c1", "send_message"); res.Allowed {
		t.Fatal("c1/send_message should now be limited")
	}

	// A different event kind and a different connection have their own windows.
	if res, _ := l.Allow(ctx, "c1", "typing_start"); !res.Allowed {
		t.Fatal("c1/typing_start should be admitted")
	}
	if res, _ := l.Allow(ctx, "c2", "send_message"); !res.Allowed {
		t.Fatal("c2/send_message should be admitted")
	}
}

func TestReset(t *testing.T) {
	l, _ := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	if res, _ := l.Allow(ctx, "c1", "send_message"); !res.Allowed {
		t.Fatal("first event should be admitted")
	}
	if res, _ := l.Allow(ctx, "c1", "send_message"); res.Allowed {
		t.Fatal("second event should be limited")
	}

	if err := l.Reset(ctx, "c1", "send_message"); err != nil {
		t.Fatalf("Reset err: %v", err)
	}

	if res, _ := l.Allow(ctx, "c1", "send_message"); !res.Allowed {
		t.Fatal("event after reset should be admitted")
	}
}

func TestDegradedFallback(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	l := ratelimit.NewSlidingWindowLimiter(client, ratelimit.Options{
		Prefix: "melo",
		Limit:  2,
		Window: 200 * time.Millisecond,
	})
	ctx := context.Background()

	// Take Redis away: the limiter must keep enforcing locally.
	mr.Close()

	for i := 0; i < 2; i++ {
		res, err := l.Allow(ctx, "c1", "send_message")
		if err != nil {
			t.Fatalf("Allow #%d err: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("Allow #%d: expected local admission", i)
		}
	}
	res, err := l.Allow(ctx, "c1", "send_message")
	if err != nil {
		t.Fatalf("Allow over local limit err: %v", err)
	}
	if res.Allowed {
		t.Fatal("expected local denial over the limit")
	}
	if res.RetryAfter != 200*time.Millisecond {
		t.Errorf("retry after = %v, want window length", res.RetryAfter)
	}

	if !l.Degraded() {
		t.Fatal("limiter should report degraded mode")
	}

	// The local window slides too.
	time.Sleep(250 * time.Millisecond)
	res, err = l.Allow(ctx, "c1", "send_message")
	if err != nil {
		t.Fatalf("Allow after local window err: %v", err)
	}
	if !res.Allowed {
		t.Fatal("expected local admission after the window slid")
	}
}
