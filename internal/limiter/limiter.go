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

// Package limiter provides a bounded-concurrency gate with introspectable
// state, used to cap simultaneous attachment downloads per process.
package limiter

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Limiter is a counting concurrency gate. It guarantees no more than max
// holders at once; waiters are served in simple queuing order with no
// further fairness guarantee.
type Limiter struct {
	sem    *semaphore.Weighted
	max    int64
	active atomic.Int64
	queued atomic.Int64
}

// Snapshot is a point-in-time view of the limiter, exposed for
// observability.
type Snapshot struct {
	Active        int64 `json:"active_downloads"`
	Queued        int64 `json:"queued_downloads"`
	MaxConcurrent int64 `json:"max_concurrent"`
	Available     int64 `json:"available_slots"`
}

// New creates a limiter with the given capacity.
func New(max int) *Limiter {
	if max < 1 {
		max = 1
	}
	return &Limiter{
		sem: semaphore.NewWeighted(int64(max)),
		max: int64(max),
	}
}

// Acquire blocks until a slot is free or the context is cancelled. On
// success the caller must Release exactly once.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.queued.Add(1)
	err := l.sem.Acquire(ctx, 1)
	l.queued.Add(-1)
	if err != nil {
		return err
	}
	l.active.Add(1)
	return nil
}

// Release frees a previously acquired slot.
func (l *Limiter) Release() {
	l.active.Add(-1)
	l.sem.Release(1)
}

// Snapshot returns the current limiter state.
func (l *Limiter) Snapshot() Snapshot {
	active := l.active.Load()
	avail := l.max - active
	if avail < 0 {
		avail = 0
	}
	return Snapshot{
		Active:        active,
		Queued:        l.queued.Load(),
		MaxConcurrent: l.max,
		Available:     avail,
	}
}
