package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLimiterAllowBurst(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 0.001, Burst: 3})
	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("expected allow on call %d", i)
		}
	}
	if l.Allow() {
		t.Fatal("expected rejection after burst exhausted")
	}
}

func TestLimiterUnlimited(t *testing.T) {
	l := NewLimiter(LimiterOpts{})
	for i := 0; i < 100; i++ {
		if !l.Allow() {
			t.Fatalf("zero rate should not limit, rejected call %d", i)
		}
	}
}

func TestLimiterCall(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 0.001, Burst: 1})
	ctx := context.Background()
	if err := l.Call(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("first call should pass, got %v", err)
	}
	if err := l.Call(ctx, func(context.Context) error { return nil }); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestLimiterWaitRespectsContext(t *testing.T) {
	l := Every(time.Hour, 1)
	l.Allow()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.CallWait(ctx, func(context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected wait to fail before a token arrives")
	}
}

func TestLimiterWaitGetsToken(t *testing.T) {
	l := Every(5*time.Millisecond, 1)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
}
