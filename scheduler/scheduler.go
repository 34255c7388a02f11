// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
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

// Package scheduler runs the cooperative acquisition loop: one sample per
// iteration plus time-gated duties, all on the caller's goroutine.
package scheduler

import (
	"context"
	"time"

	daq "github.com/ZaparooProject/go-daqnode"
	"github.com/ZaparooProject/go-daqnode/internal/syncutil"
)

var debug = daq.DeviceDebug("scheduler")

// DutyFunc is a periodic duty.
type DutyFunc func(ctx context.Context) error

type duty struct {
	last     time.Time
	run      DutyFunc
	name     string
	period   time.Duration
	runs     uint64
	failures uint64
}

// DutyStats describes one registered duty.
type DutyStats struct {
	LastRun  time.Time
	Name     string
	Period   time.Duration
	Runs     uint64
	Failures uint64
}

// Stats are the loop counters.
type Stats struct {
	Duties         []DutyStats
	Iterations     uint64
	SampleFailures uint64
	Overruns       uint64
}

// Scheduler interleaves an always-run sample step with periodic duties.
// A duty fires when at least its period has passed since it last fired; the
// comparison is against the stored firing time, so a late iteration delays
// the next firing by at most that lateness and never shifts the phase for
// good.
type Scheduler struct {
	// OnSample runs first in every iteration.
	OnSample func(ctx context.Context) error
	// OnShutdown runs once when the loop ends. Its error is logged and
	// dropped.
	OnShutdown func() error

	clock  Clock
	config *Config
	duties []*duty
	stats  Stats
	mu     syncutil.Mutex
}

// New creates a scheduler. A nil clock uses SystemClock, a nil config
// DefaultConfig.
func New(clock Clock, config *Config) *Scheduler {
	if clock == nil {
		clock = SystemClock{}
	}
	if config == nil {
		config = DefaultConfig()
	}
	return &Scheduler{
		clock:  clock,
		config: config,
	}
}

// AddDuty registers a duty. Duties run in registration order within an
// iteration. Must be called before Run.
func (s *Scheduler) AddDuty(name string, period time.Duration, run DutyFunc) {
	s.duties = append(s.duties, &duty{name: name, period: period, run: run})
}

// Stats returns a copy of the loop counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stats
	st.Duties = make([]DutyStats, len(s.duties))
	for i, d := range s.duties {
		st.Duties[i] = DutyStats{
			Name:     d.name,
			Period:   d.period,
			Runs:     d.runs,
			Failures: d.failures,
			LastRun:  d.last,
		}
	}
	return st
}

// Run loops until ctx is cancelled or a step returns an error for which
// daq.IsFatal is true. Shutdown runs in both cases. Run returns ctx.Err() on
// cancellation and the fatal error otherwise.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return err
	}

	start := s.clock.Now()
	s.mu.Lock()
	for _, d := range s.duties {
		d.last = start
	}
	s.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			s.shutdown()
			return err
		}

		iterStart := s.clock.Now()
		if err := s.iterate(ctx, iterStart); err != nil {
			s.shutdown()
			return err
		}

		elapsed := s.clock.Now().Sub(iterStart)
		if s.config.Overran(elapsed) {
			s.mu.Lock()
			s.stats.Overruns++
			s.mu.Unlock()
			debug.Printf("iteration took %s (interval %s)", elapsed, s.config.LoopInterval)
		}
		if idle := s.config.LoopInterval - elapsed; idle > 0 {
			// A cancelled sleep is picked up at the top of the loop.
			_ = s.clock.Sleep(ctx, idle)
		}
	}
}

// iterate samples, then fires every duty that is due at now. Only fatal
// errors are returned.
func (s *Scheduler) iterate(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	s.stats.Iterations++
	s.mu.Unlock()

	if s.OnSample != nil {
		if err := s.OnSample(ctx); err != nil {
			s.mu.Lock()
			s.stats.SampleFailures++
			s.mu.Unlock()
			debug.Printf("%v", err)
			if daq.IsFatal(err) {
				return err
			}
		}
	}

	for _, d := range s.duties {
		if now.Sub(d.last) < d.period {
			continue
		}

		s.mu.Lock()
		d.last = now
		d.runs++
		s.mu.Unlock()

		if err := d.run(ctx); err != nil {
			s.mu.Lock()
			d.failures++
			s.mu.Unlock()
			debug.Printf("%s: %v", d.name, err)
			if daq.IsFatal(err) {
				return err
			}
		}
	}
	return nil
}

func (s *Scheduler) shutdown() {
	if s.OnShutdown == nil {
		return
	}
	if err := s.OnShutdown(); err != nil {
		debug.Printf("shutdown: %v (ignored)", err)
	}
}
