package ratelimit

import (
	"testing"
	"time"
)

func TestBucketAllowsBurstThenThrottles(t *testing.T) {
	b := New(1, 3)
	now := time.Unix(1000, 0)

	for i := 0; i < 3; i++ {
		if !b.AllowAt(now) {
			t.Fatalf("expected burst token %d to be allowed", i)
		}
	}
	if b.AllowAt(now) {
		t.Fatal("expected bucket to be empty after burst")
	}

	if !b.AllowAt(now.Add(time.Second)) {
		t.Fatal("expected a token to be available after one second")
	}
}

func TestKeyedBucketsAreIndependent(t *testing.T) {
	k := NewKeyed(1, 1)
	if !k.Allow("a") {
		t.Fatal("expected first token for a")
	}
	if k.Allow("a") {
		t.Fatal("expected a to be exhausted")
	}
	if !k.Allow("b") {
		t.Fatal("expected b to have its own bucket")
	}
}
