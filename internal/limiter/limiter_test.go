// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package limiter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestLimiter_NeverExceedsCapacity runs a burst of 20 jobs through a
// capacity-5 limiter and verifies the observed in-flight count never
// exceeds 5.
func TestLimiter_NeverExceedsCapacity(t *testing.T) {
	const (
		capacity = 5
		jobs     = 20
	)

	l := New(capacity)
	ctx := context.Background()

	var inFlight atomic.Int64
	var peak atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := l.Acquire(ctx); err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			defer l.Release()

			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}

			if snap := l.Snapshot(); snap.Active > capacity {
				t.Errorf("snapshot active = %d, exceeds capacity %d", snap.Active, capacity)
			}

			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
		}()
	}

	wg.Wait()

	if p := peak.Load(); p > capacity {
		t.Errorf("peak in-flight = %d, want <= %d", p, capacity)
	}

	snap := l.Snapshot()
	if snap.Active != 0 || snap.Queued != 0 {
		t.Errorf("after drain: active = %d queued = %d, want 0/0", snap.Active, snap.Queued)
	}
	if snap.Available != capacity {
		t.Errorf("after drain: available = %d, want %d", snap.Available, capacity)
	}
}

// TestLimiter_SnapshotArithmetic verifies the snapshot fields while slots
// are held.
func TestLimiter_SnapshotArithmetic(t *testing.T) {
	l := New(3)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
	}

	snap := l.Snapshot()
	if snap.Active != 2 {
		t.Errorf("active = %d, want 2", snap.Active)
	}
	if snap.MaxConcurrent != 3 {
		t.Errorf("max = %d, want 3", snap.MaxConcurrent)
	}
	if snap.Available != 1 {
		t.Errorf("available = %d, want 1", snap.Available)
	}

	l.Release()
	l.Release()
}

// TestLimiter_AcquireHonorsCancellation verifies a blocked Acquire returns
// when the context is cancelled.
func TestLimiter_AcquireHonorsCancellation(t *testing.T) {
	l := New(1)

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer l.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := l.Acquire(ctx); err == nil {
		t.Fatal("expected error from cancelled Acquire, got nil")
	}

	// The failed waiter must not count as active or queued afterwards.
	snap := l.Snapshot()
	if snap.Active != 1 || snap.Queued != 0 {
		t.Errorf("after cancelled acquire: active = %d queued = %d, want 1/0", snap.Active, snap.Queued)
	}
}
