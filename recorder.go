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
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Log file names and headers.
const (
	FrameLogName  = "frames.csv"
	SampleLogName = "samples.csv"

	frameLogHeader = "Time Stamp,ID,Extended,Bus,LEN,D1,D2,D3,D4,D5,D6,D7,D8"

	sampleTimeLayout = "2006-01-02T15:04:05.000Z07:00"
)

// Storage is the persistent medium. Mounting happens before the node is built.
type Storage interface {
	// AppendLine appends line plus a newline to the named file, creating it.
	AppendLine(name, line string) error
	// Files lists the files that already exist on the medium.
	Files() ([]string, error)
	// Unmount flushes and releases the medium.
	Unmount() error
}

// Clock is the real-time clock used to stamp records.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the host clock.
type SystemClock struct{}

// Now returns the current wall time.
func (SystemClock) Now() time.Time { return time.Now() }

// LogRecord is the persisted form of one transmitted frame.
type LogRecord struct {
	Timestamp time.Time
	ID        uint32
	Bus       int
	Data      [MaxPayload]byte
	Len       uint8
	Extended  bool
}

// NewLogRecord captures frame as sent on bus at ts.
func NewLogRecord(ts time.Time, bus int, f *Frame) LogRecord {
	return LogRecord{
		Timestamp: ts,
		ID:        f.ID,
		Extended:  f.Extended,
		Bus:       bus,
		Len:       f.Len,
		Data:      f.Data,
	}
}

// CSV renders the record as one frame log line. Data fields beyond Len are
// left empty.
func (r *LogRecord) CSV() string {
	var sb strings.Builder
	sb.Grow(64)
	sb.WriteString(strconv.FormatInt(r.Timestamp.UnixMicro(), 10))
	_, _ = fmt.Fprintf(&sb, ",%08X,%t,%d,%d", r.ID, r.Extended, r.Bus, r.Len)
	for i := range MaxPayload {
		sb.WriteByte(',')
		if i < int(r.Len) {
			_, _ = fmt.Fprintf(&sb, "%02X", r.Data[i])
		}
	}
	return sb.String()
}

func sampleLogHeader() string {
	var sb strings.Builder
	sb.WriteString("timestamp")
	for i := range NumChannels {
		_, _ = fmt.Fprintf(&sb, ",ch%d", i)
	}
	return sb.String()
}

func sampleLogLine(ts time.Time, values *ReadingVector) string {
	var sb strings.Builder
	sb.WriteString(ts.Format(sampleTimeLayout))
	for _, v := range values {
		sb.WriteByte(',')
		sb.WriteString(strconv.FormatUint(uint64(v), 10))
	}
	return sb.String()
}

// Recorder formats records and appends them to Storage. Headers are written
// once, the first time a file is found missing from the medium.
type Recorder struct {
	store  Storage
	clock  Clock
	headed map[string]bool
	bus    int
}

// NewRecorder creates a recorder stamping records with clock. bus is the
// index written into every frame record.
func NewRecorder(store Storage, clock Clock, bus int) *Recorder {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Recorder{
		store:  store,
		clock:  clock,
		bus:    bus,
		headed: make(map[string]bool),
	}
}

// RecordFrame persists one transmitted frame.
func (r *Recorder) RecordFrame(f *Frame) error {
	rec := NewLogRecord(r.clock.Now(), r.bus, f)
	return r.append(FrameLogName, frameLogHeader, rec.CSV())
}

// RecordSamples persists one raw sample line.
func (r *Recorder) RecordSamples(snap *Snapshot) error {
	return r.append(SampleLogName, sampleLogHeader(), sampleLogLine(r.clock.Now(), &snap.Values))
}

// Close unmounts the storage medium.
func (r *Recorder) Close() error {
	if err := r.store.Unmount(); err != nil {
		return &ShutdownError{Err: err}
	}
	return nil
}

func (r *Recorder) append(name, header, line string) error {
	if !r.headed[name] {
		if err := r.ensureHeader(name, header); err != nil {
			return &StorageWriteError{File: name, Err: err}
		}
	}
	if err := r.store.AppendLine(name, line); err != nil {
		return &StorageWriteError{File: name, Err: err}
	}
	return nil
}

func (r *Recorder) ensureHeader(name, header string) error {
	files, err := r.store.Files()
	if err != nil {
		return fmt.Errorf("list files: %w", err)
	}
	if !slices.Contains(files, name) {
		if err := r.store.AppendLine(name, header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	r.headed[name] = true
	return nil
}
