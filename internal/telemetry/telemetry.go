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

// Package telemetry provides the counter/timer API consumed by the
// pipeline stages. Counters accumulate in Redis so the dashboard service
// can read them without touching this process.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "importer:metrics:"

// Recorder is the telemetry collaborator stages log against.
type Recorder interface {
	// Increment bumps a named counter by one.
	Increment(ctx context.Context, name string)
	// StartTimer begins a named timer; the returned func stops it.
	StartTimer(name string) func()
}

// RedisRecorder accumulates counters in Redis and logs timer durations.
type RedisRecorder struct {
	rdb *redis.Client
}

// NewRedisRecorder creates a Redis-backed recorder.
func NewRedisRecorder(rdb *redis.Client) *RedisRecorder {
	return &RedisRecorder{rdb: rdb}
}

// Increment bumps the named counter. Telemetry failures are logged, never
// propagated.
func (r *RedisRecorder) Increment(ctx context.Context, name string) {
	if err := r.rdb.Incr(ctx, keyPrefix+name).Err(); err != nil {
		slog.Warn("telemetry increment failed", "counter", name, "error", err)
	}
}

// StartTimer begins a timer; stopping it records the elapsed duration.
func (r *RedisRecorder) StartTimer(name string) func() {
	start := time.Now()
	return func() {
		elapsed := time.Since(start)
		slog.Debug("timer", "name", name, "elapsed", elapsed)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.rdb.IncrBy(ctx, keyPrefix+name+":ms", elapsed.Milliseconds()).Err(); err != nil {
			slog.Warn("telemetry timer record failed", "timer", name, "error", err)
		}
	}
}

// Noop discards all telemetry. Used in tests and the reimport CLI.
type Noop struct{}

func (Noop) Increment(context.Context, string) {}
func (Noop) StartTimer(string) func()          { return func() {} }
