package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAllowConsumesBurst(t *testing.T) {
	tb := NewTokenBucket(1, 3)
	for i := 0; i < 3; i++ {
		if !tb.Allow(1) {
			t.Fatalf("Allow(1) call %d refused within burst", i)
		}
	}
	if tb.Allow(1) {
		t.Error("Allow(1) granted past the burst with no refill time")
	}
}

func TestWaitHonorsContextCancel(t *testing.T) {
	tb := NewTokenBucket(0.001, 1)
	if err := tb.Wait(context.Background(), 1); err != nil {
		t.Fatalf("Wait within burst: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := tb.Wait(ctx, 1); err == nil {
		t.Error("Wait returned nil with an empty bucket and an expired context")
	}
}

func TestWaitRefills(t *testing.T) {
	tb := NewTokenBucket(100, 1)
	if !tb.Allow(1) {
		t.Fatal("initial burst token missing")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tb.Wait(ctx, 1); err != nil {
		t.Errorf("Wait did not see the refill: %v", err)
	}
}
