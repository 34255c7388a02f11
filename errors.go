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
	"errors"
	"fmt"
	"io"
	"strings"
	"syscall"
	"time"
)

// Error categories. Per-operation errors (one channel, one frame, one log
// line) are isolated by their callers; controller initialization errors stop
// the node.
var (
	// Bus transaction errors - isolated to the operation that raised them
	ErrBusTransaction = errors.New("bus transaction failed")
	ErrNotReady       = errors.New("device not ready")

	// Controller errors - fatal at startup
	ErrControllerInitFailed = errors.New("controller initialization failed")

	// Frame errors - isolated to one frame
	ErrFrameTransmit = errors.New("frame transmit failed")
	ErrBatchFailed   = errors.New("every frame in the batch failed")
	ErrInvalidFrame  = errors.New("invalid frame")

	// Persistence errors - the record is skipped
	ErrStorageWrite = errors.New("storage write failed")
	ErrShutdown     = errors.New("shutdown failed")
)

// BusError wraps a failed SPI-style transaction with the device and operation
// that issued it.
type BusError struct {
	Err    error
	Op     string
	Device string
}

func (e *BusError) Error() string {
	if e.Device != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Device, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes both the bus sentinel and the underlying cause.
func (e *BusError) Unwrap() []error {
	return []error{ErrBusTransaction, e.Err}
}

// NewBusError creates a bus transaction error
func NewBusError(op, device string, err error) *BusError {
	return &BusError{Op: op, Device: device, Err: err}
}

// ChannelFault records one channel that could not be sampled.
type ChannelFault struct {
	Err   error
	Index int // ReadingVector index
}

// SampleError reports every channel that failed during one sampling cycle.
// The other channels of that cycle were still sampled.
type SampleError struct {
	Faults []ChannelFault
}

func (e *SampleError) Error() string {
	parts := make([]string, len(e.Faults))
	for i, f := range e.Faults {
		parts[i] = fmt.Sprintf("ch%d: %v", f.Index, f.Err)
	}
	return fmt.Sprintf("sampling failed on %d channel(s): %s", len(e.Faults), strings.Join(parts, "; "))
}

// Unwrap returns the per-channel causes.
func (e *SampleError) Unwrap() []error {
	errs := make([]error, len(e.Faults))
	for i, f := range e.Faults {
		errs[i] = f.Err
	}
	return errs
}

// Channels returns the ReadingVector indices that failed.
func (e *SampleError) Channels() []int {
	idx := make([]int, len(e.Faults))
	for i, f := range e.Faults {
		idx[i] = f.Index
	}
	return idx
}

// ControllerInitError reports the initialization step that did not complete.
type ControllerInitError struct {
	Err  error
	Step string
}

func (e *ControllerInitError) Error() string {
	return fmt.Sprintf("%v at %s: %v", ErrControllerInitFailed, e.Step, e.Err)
}

func (e *ControllerInitError) Unwrap() []error {
	return []error{ErrControllerInitFailed, e.Err}
}

// FrameTransmitError is scoped to a single frame of a batch.
type FrameTransmitError struct {
	Err   error
	ID    uint32
	Index int
}

func (e *FrameTransmitError) Error() string {
	return fmt.Sprintf("frame %d (id 0x%03X): %v", e.Index, e.ID, e.Err)
}

func (e *FrameTransmitError) Unwrap() []error {
	return []error{ErrFrameTransmit, e.Err}
}

// StorageWriteError reports a log line that was dropped.
type StorageWriteError struct {
	Err  error
	File string
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("append %s: %v", e.File, e.Err)
}

func (e *StorageWriteError) Unwrap() []error {
	return []error{ErrStorageWrite, e.Err}
}

// ShutdownError is produced by terminal cleanup. Callers log it and move on.
type ShutdownError struct {
	Err error
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("%v: %v", ErrShutdown, e.Err)
}

func (e *ShutdownError) Unwrap() []error {
	return []error{ErrShutdown, e.Err}
}

// IsFatal returns true if the error means the node cannot keep running in a
// configured state. Everything else is isolated to the cycle that raised it.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	if isDeviceGoneError(err) {
		return true
	}

	switch {
	case errors.Is(err, ErrControllerInitFailed),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}

// isDeviceGoneError checks for OS-level errors indicating the bus device node
// disappeared underneath us.
func isDeviceGoneError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
		switch errno {
		case syscall.ENXIO, syscall.ENODEV:
			return true
		}
	}
	return false
}

// =============================================================================
// Wire Trace Logging
// =============================================================================
// TraceableError embeds wire-level trace data in errors so a failed controller
// bring-up can be diagnosed from the bytes that actually crossed the bus.

// TraceDirection indicates the direction of wire data
type TraceDirection string

const (
	// TraceTX indicates data sent to the device
	TraceTX TraceDirection = "TX"
	// TraceRX indicates data received from the device
	TraceRX TraceDirection = "RX"
)

// TraceEntry represents a single wire-level operation
type TraceEntry struct {
	Timestamp time.Time
	Direction TraceDirection
	Note      string
	Data      []byte
}

// String formats a trace entry for display
func (e TraceEntry) String() string {
	hexData := formatHexBytes(e.Data)
	if e.Note != "" {
		return fmt.Sprintf("[%s] %s: %s (%s)", e.Timestamp.Format("15:04:05.000"), e.Direction, hexData, e.Note)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Timestamp.Format("15:04:05.000"), e.Direction, hexData)
}

// TraceableError wraps an error with wire-level trace data for debugging.
//
//	var te *daq.TraceableError
//	if errors.As(err, &te) {
//	    log.Printf("Wire trace:\n%s", te.FormatTrace())
//	}
type TraceableError struct {
	Err    error
	Device string
	Trace  []TraceEntry
}

func (e *TraceableError) Error() string {
	return e.Err.Error()
}

func (e *TraceableError) Unwrap() error {
	return e.Err
}

// FormatTrace returns a human-readable formatted trace log
func (e *TraceableError) FormatTrace() string {
	if len(e.Trace) == 0 {
		return fmt.Sprintf("[%s] (no trace data)", e.Device)
	}

	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "[%s] Wire trace (%d entries):\n", e.Device, len(e.Trace))

	for _, entry := range e.Trace {
		direction := ">"
		if entry.Direction == TraceRX {
			direction = "<"
		}
		if entry.Note != "" {
			_, _ = fmt.Fprintf(&sb, "  %s %s (%s)\n", direction, formatHexBytes(entry.Data), entry.Note)
		} else {
			_, _ = fmt.Fprintf(&sb, "  %s %s\n", direction, formatHexBytes(entry.Data))
		}
	}

	return sb.String()
}

// formatHexBytes formats a byte slice as space-separated hex values
func formatHexBytes(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, " ")
}

// TraceBuffer collects trace entries during a multi-step operation.
// It keeps the most recent maxSize entries.
type TraceBuffer struct {
	device  string
	entries []TraceEntry
	maxSize int
}

// NewTraceBuffer creates a new trace buffer with the specified capacity
func NewTraceBuffer(device string, maxSize int) *TraceBuffer {
	if maxSize <= 0 {
		maxSize = 16
	}
	return &TraceBuffer{
		entries: make([]TraceEntry, 0, maxSize),
		maxSize: maxSize,
		device:  device,
	}
}

// RecordTX records bytes written to the device
func (tb *TraceBuffer) RecordTX(data []byte, note string) {
	tb.record(TraceTX, data, note)
}

// RecordRX records bytes read from the device
func (tb *TraceBuffer) RecordRX(data []byte, note string) {
	tb.record(TraceRX, data, note)
}

func (tb *TraceBuffer) record(dir TraceDirection, data []byte, note string) {
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	entry := TraceEntry{
		Direction: dir,
		Data:      dataCopy,
		Timestamp: time.Now(),
		Note:      note,
	}

	if len(tb.entries) >= tb.maxSize {
		copy(tb.entries, tb.entries[1:])
		tb.entries[len(tb.entries)-1] = entry
	} else {
		tb.entries = append(tb.entries, entry)
	}
}

// Len returns the number of entries held.
func (tb *TraceBuffer) Len() int {
	return len(tb.entries)
}

// WrapError wraps an error with the collected trace data.
// Returns nil if err is nil.
func (tb *TraceBuffer) WrapError(err error) error {
	if err == nil {
		return nil
	}

	entriesCopy := make([]TraceEntry, len(tb.entries))
	copy(entriesCopy, tb.entries)

	return &TraceableError{
		Err:    err,
		Trace:  entriesCopy,
		Device: tb.device,
	}
}

// GetTrace extracts trace data from an error, returning nil if not present
func GetTrace(err error) *TraceableError {
	var te *TraceableError
	if errors.As(err, &te) {
		return te
	}
	return nil
}
