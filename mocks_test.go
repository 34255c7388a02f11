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
	"slices"
	"strings"
	"sync"
	"time"
)

// memStore is an in-memory Storage.
type memStore struct {
	failAppend map[string]error
	failFiles  error
	failUnmnt  error
	files      map[string][]string
	mu         sync.Mutex
	unmounted  bool
}

func newMemStore() *memStore {
	return &memStore{
		files:      make(map[string][]string),
		failAppend: make(map[string]error),
	}
}

func (m *memStore) AppendLine(name, line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failAppend[name]; err != nil {
		return err
	}
	m.files[name] = append(m.files[name], line)
	return nil
}

func (m *memStore) Files() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFiles != nil {
		return nil, m.failFiles
	}
	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func (m *memStore) Unmount() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unmounted = true
	return m.failUnmnt
}

func (m *memStore) lines(name string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.files[name])
}

// fixedClock always reads the same instant.
type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// scriptedSampler returns queued results in order, then repeats the last.
type scriptedSampler struct {
	errs   []error
	values []ReadingVector
	calls  int
}

func (s *scriptedSampler) Read(context.Context) (ReadingVector, error) {
	i := min(s.calls, len(s.values)-1)
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return s.values[i], err
}

// loopbackTx accepts every frame except the identifiers in fail.
type loopbackTx struct {
	fail    map[uint32]bool
	batches []FrameBatch
	sent    []Frame
}

func (l *loopbackTx) SendBatch(ctx context.Context, batch FrameBatch, onSent func(*Frame)) (BatchReport, error) {
	var report BatchReport
	l.batches = append(l.batches, batch)
	for i := range batch {
		f := &batch[i]
		if l.fail[f.ID] {
			report.Failed = append(report.Failed, &FrameTransmitError{ID: f.ID, Index: f.Index, Err: ErrNotReady})
			continue
		}
		l.sent = append(l.sent, *f)
		report.Sent++
		onSent(f)
	}
	if report.Sent == 0 {
		return report, errors.Join(ErrBatchFailed, report.Failed[0])
	}
	return report, ctx.Err()
}

// recordingObserver collects observed identifiers.
type recordingObserver struct {
	err error
	ids []uint32
}

func (o *recordingObserver) ObserveFrame(f *Frame) error {
	o.ids = append(o.ids, f.ID)
	return o.err
}

// rampVector returns a vector whose entry i is base+i.
func rampVector(base uint16) ReadingVector {
	var v ReadingVector
	for i := range v {
		v[i] = (base + uint16(i)) & MaxReading
	}
	return v
}

func csvFields(line string) []string {
	return strings.Split(line, ",")
}
