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

package daq

import (
	"time"

	"github.com/ZaparooProject/go-daqnode/internal/syncutil"
)

// Channel layout of a ReadingVector.
const (
	// DirectChannels is the number of converter inputs sampled directly
	// (converter channels 1..7).
	DirectChannels = 7
	// MuxChannels is the number of inputs behind the multiplexer, which feeds
	// converter channel 0.
	MuxChannels = 16
	// NumChannels is the total ReadingVector length.
	NumChannels = DirectChannels + MuxChannels

	// MaxReading is the largest value a 12-bit conversion can produce.
	MaxReading = 0x0FFF
)

// ReadingVector holds one complete sampling cycle. Index 0..6 are direct
// converter channels 1..7; index 7..22 are multiplexer channels 0..15.
// It is an array so assignment copies the whole cycle.
type ReadingVector [NumChannels]uint16

// DirectIndex returns the vector index of direct converter channel ch (1..7).
func DirectIndex(ch int) int {
	return ch - 1
}

// MuxIndex returns the vector index of multiplexer channel ch (0..15).
func MuxIndex(ch int) int {
	return DirectChannels + ch
}

// Snapshot is a published ReadingVector with the cycle it came from.
type Snapshot struct {
	Taken  time.Time
	Values ReadingVector
	Seq    uint64
}

// Latest stores the most recent complete ReadingVector. Publish replaces it
// wholesale and Snapshot copies it out, so readers on any goroutine see
// either the previous cycle or the new one.
type Latest struct {
	snap Snapshot
	mu   syncutil.RWMutex
	ok   bool
}

// Publish stores values as the newest complete cycle and returns its sequence.
func (l *Latest) Publish(values ReadingVector, taken time.Time) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snap = Snapshot{
		Values: values,
		Seq:    l.snap.Seq + 1,
		Taken:  taken,
	}
	l.ok = true
	return l.snap.Seq
}

// Snapshot returns a copy of the newest cycle. ok is false until the first
// Publish.
func (l *Latest) Snapshot() (snap Snapshot, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap, l.ok
}
