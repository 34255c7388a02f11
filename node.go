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
	"context"
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-daqnode/internal/syncutil"
)

var debug = DeviceDebug("node")

// Sampler produces one complete ReadingVector per call. A non-nil error
// means the vector must not be published.
type Sampler interface {
	Read(ctx context.Context) (ReadingVector, error)
}

// BatchReport summarizes one SendBatch call.
type BatchReport struct {
	Failed []*FrameTransmitError
	Sent   int
}

// Transmitter puts a batch on the bus. onSent is called right after each
// frame is accepted by the controller.
type Transmitter interface {
	SendBatch(ctx context.Context, batch FrameBatch, onSent func(*Frame)) (BatchReport, error)
}

// FrameObserver receives every transmitted frame after it was logged.
type FrameObserver interface {
	ObserveFrame(f *Frame) error
}

// NodeStats are running counters of a Node.
type NodeStats struct {
	Samples            uint64
	SampleFailures     uint64
	Batches            uint64
	FramesSent         uint64
	FrameFailures      uint64
	RecordsDropped     uint64
	ConsecutiveFailed  int // batches in a row where no frame was sent
	LastPublishedSeq   uint64
	LastTransmittedSeq uint64 // newest snapshot with at least one frame on the bus
	StaleSkips         uint64 // transmits refused because no sample completed since
}

// Node ties sampling, framing and persistence together. Its methods are the
// scheduler duties and are meant to be called from one goroutine.
type Node struct {
	sampler   Sampler
	tx        Transmitter
	rec       *Recorder
	clock     Clock
	observers []FrameObserver
	latest    Latest
	stats     NodeStats
	statsMu   syncutil.Mutex
	baseID    uint32
}

// NodeOption configures a Node.
type NodeOption func(*Node)

// WithBaseID sets the identifier of batch position 0.
func WithBaseID(id uint32) NodeOption {
	return func(n *Node) { n.baseID = id }
}

// WithClock sets the clock used to stamp snapshots.
func WithClock(c Clock) NodeOption {
	return func(n *Node) { n.clock = c }
}

// WithObserver adds a frame observer, e.g. a console monitor.
func WithObserver(o FrameObserver) NodeOption {
	return func(n *Node) { n.observers = append(n.observers, o) }
}

// NewNode creates a node.
func NewNode(sampler Sampler, tx Transmitter, rec *Recorder, opts ...NodeOption) *Node {
	n := &Node{
		sampler: sampler,
		tx:      tx,
		rec:     rec,
		clock:   SystemClock{},
		baseID:  DefaultBaseID,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Latest exposes the published snapshot store.
func (n *Node) Latest() *Latest {
	return &n.latest
}

// Stats returns a copy of the running counters.
func (n *Node) Stats() NodeStats {
	n.statsMu.Lock()
	defer n.statsMu.Unlock()
	return n.stats
}

// Sample reads every channel and publishes the vector if the whole cycle
// succeeded. A partial cycle is reported and dropped.
func (n *Node) Sample(ctx context.Context) error {
	values, err := n.sampler.Read(ctx)
	if err != nil {
		n.statsMu.Lock()
		n.stats.SampleFailures++
		n.statsMu.Unlock()
		return fmt.Errorf("sample: %w", err)
	}

	seq := n.latest.Publish(values, n.clock.Now())

	n.statsMu.Lock()
	n.stats.Samples++
	n.stats.LastPublishedSeq = seq
	n.statsMu.Unlock()
	return nil
}

// Transmit packs the newest snapshot and sends it, logging each frame as soon
// as the controller accepts it. A snapshot already on the bus is not sent
// again: when no sample cycle has completed since the last transmit the call
// fails with ErrNotReady and counts a stale skip.
func (n *Node) Transmit(ctx context.Context) error {
	snap, ok := n.latest.Snapshot()
	if !ok {
		return fmt.Errorf("transmit: %w: no complete sample yet", ErrNotReady)
	}

	n.statsMu.Lock()
	stale := snap.Seq == n.stats.LastTransmittedSeq
	if stale {
		n.stats.StaleSkips++
	}
	failures := n.stats.SampleFailures
	n.statsMu.Unlock()
	if stale {
		return fmt.Errorf("transmit: %w: snapshot %d taken %s already sent, %d sample failures so far",
			ErrNotReady, snap.Seq, snap.Taken.Format("15:04:05.000"), failures)
	}

	batch := Pack(snap, n.baseID)

	var dropped uint64
	report, err := n.tx.SendBatch(ctx, batch, func(f *Frame) {
		if recErr := n.rec.RecordFrame(f); recErr != nil {
			dropped++
			debug.Printf("frame record skipped: %v", recErr)
		}
		for _, o := range n.observers {
			if obsErr := o.ObserveFrame(f); obsErr != nil {
				debug.Printf("observer: %v", obsErr)
			}
		}
	})

	n.statsMu.Lock()
	n.stats.Batches++
	n.stats.FramesSent += uint64(report.Sent)
	n.stats.FrameFailures += uint64(len(report.Failed))
	n.stats.RecordsDropped += dropped
	if report.Sent == 0 {
		n.stats.ConsecutiveFailed++
	} else {
		n.stats.ConsecutiveFailed = 0
		n.stats.LastTransmittedSeq = snap.Seq
	}
	consecutive := n.stats.ConsecutiveFailed
	n.statsMu.Unlock()

	for _, fe := range report.Failed {
		debug.Printf("transmit: %v", fe)
	}

	if err != nil {
		if errors.Is(err, ErrBatchFailed) {
			return fmt.Errorf("transmit seq %d (%d batches in a row): %w", snap.Seq, consecutive, err)
		}
		return fmt.Errorf("transmit seq %d: %w", snap.Seq, err)
	}
	return nil
}

// LogSamples appends the newest snapshot to the raw sample log.
func (n *Node) LogSamples(_ context.Context) error {
	snap, ok := n.latest.Snapshot()
	if !ok {
		return fmt.Errorf("log samples: %w: no complete sample yet", ErrNotReady)
	}
	if err := n.rec.RecordSamples(&snap); err != nil {
		n.statsMu.Lock()
		n.stats.RecordsDropped++
		n.statsMu.Unlock()
		return err
	}
	return nil
}

// Shutdown releases the storage medium. The error is informational only.
func (n *Node) Shutdown() error {
	return n.rec.Close()
}
