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

package scheduler

import (
	"errors"
	"fmt"
	"time"
)

// MaxLoopInterval is the longest idle delay between iterations that still
// leaves margin for 5 Hz sampling and the 500 ms transmit deadline.
const MaxLoopInterval = 100 * time.Millisecond

// Config holds the loop cadence and duty periods.
type Config struct {
	// LoopInterval is the nominal iteration period. Sampling runs once per
	// iteration; the idle delay is whatever is left of it.
	LoopInterval time.Duration
	// TransmitPeriod gates the transmit-and-log duty.
	TransmitPeriod time.Duration
	// LogPeriod gates the raw sample log duty.
	LogPeriod time.Duration
	// OverrunThreshold is how far past LoopInterval an iteration may run
	// before it is reported. Zero reports every overrun.
	OverrunThreshold time.Duration
}

// DefaultConfig returns the product cadence: sample every 100 ms, transmit
// every 500 ms, log samples every second.
func DefaultConfig() *Config {
	return &Config{
		LoopInterval:     MaxLoopInterval,
		TransmitPeriod:   500 * time.Millisecond,
		LogPeriod:        1 * time.Second,
		OverrunThreshold: 50 * time.Millisecond,
	}
}

// Validate checks the cadence is usable.
func (c *Config) Validate() error {
	if c.LoopInterval <= 0 || c.LoopInterval > MaxLoopInterval {
		return fmt.Errorf("loop interval %s must be in (0, %s]", c.LoopInterval, MaxLoopInterval)
	}
	if c.TransmitPeriod < c.LoopInterval {
		return fmt.Errorf("transmit period %s is shorter than loop interval %s", c.TransmitPeriod, c.LoopInterval)
	}
	if c.LogPeriod < c.LoopInterval {
		return fmt.Errorf("log period %s is shorter than loop interval %s", c.LogPeriod, c.LoopInterval)
	}
	if c.OverrunThreshold < 0 {
		return errors.New("overrun threshold must not be negative")
	}
	return nil
}

// Overran reports whether an iteration that took elapsed should be counted as
// an overrun.
func (c *Config) Overran(elapsed time.Duration) bool {
	return elapsed > c.LoopInterval+c.OverrunThreshold
}
