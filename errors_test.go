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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusError(t *testing.T) {
	t.Parallel()

	cause := errors.New("spi: short transfer")
	err := NewBusError("convert", "adc ch3", cause)

	assert.Equal(t, "convert adc ch3: spi: short transfer", err.Error())
	require.ErrorIs(t, err, ErrBusTransaction)
	require.ErrorIs(t, err, cause)

	noDevice := &BusError{Op: "tx", Err: cause}
	assert.Equal(t, "tx: spi: short transfer", noDevice.Error())
}

func TestSampleError(t *testing.T) {
	t.Parallel()

	err := &SampleError{Faults: []ChannelFault{
		{Index: 2, Err: NewBusError("convert", "adc ch3", io.EOF)},
		{Index: 9, Err: ErrNotReady},
	}}

	assert.Equal(t, []int{2, 9}, err.Channels())
	assert.Contains(t, err.Error(), "2 channel(s)")
	assert.Contains(t, err.Error(), "ch9: device not ready")
	require.ErrorIs(t, err, io.EOF)
	require.ErrorIs(t, err, ErrBusTransaction)
	require.ErrorIs(t, err, ErrNotReady)
}

func TestWrappedErrors(t *testing.T) {
	t.Parallel()

	cause := errors.New("cause")
	tests := []struct {
		err      error
		sentinel error
		name     string
		text     string
	}{
		{
			name:     "controller init",
			err:      &ControllerInitError{Step: "CNF1", Err: cause},
			sentinel: ErrControllerInitFailed,
			text:     "controller initialization failed at CNF1: cause",
		},
		{
			name:     "frame transmit",
			err:      &FrameTransmitError{ID: 0x203, Index: 3, Err: cause},
			sentinel: ErrFrameTransmit,
			text:     "frame 3 (id 0x203): cause",
		},
		{
			name:     "storage write",
			err:      &StorageWriteError{File: "frames.csv", Err: cause},
			sentinel: ErrStorageWrite,
			text:     "append frames.csv: cause",
		},
		{
			name:     "shutdown",
			err:      &ShutdownError{Err: cause},
			sentinel: ErrShutdown,
			text:     "shutdown failed: cause",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.text, tt.err.Error())
			require.ErrorIs(t, tt.err, tt.sentinel)
			require.ErrorIs(t, tt.err, cause)
		})
	}
}

func TestIsFatal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err   error
		name  string
		fatal bool
	}{
		{name: "nil", err: nil, fatal: false},
		{name: "controller init", err: &ControllerInitError{Step: "reset", Err: ErrNotReady}, fatal: true},
		{name: "closed pipe", err: fmt.Errorf("tx: %w", io.ErrClosedPipe), fatal: true},
		{name: "device gone", err: NewBusError("tx", "spi", syscall.ENODEV), fatal: true},
		{name: "no such device", err: syscall.ENXIO, fatal: true},
		{name: "bus transaction", err: NewBusError("tx", "spi", syscall.EIO), fatal: false},
		{name: "sample", err: &SampleError{Faults: []ChannelFault{{Err: ErrBusTransaction}}}, fatal: false},
		{name: "batch", err: fmt.Errorf("%w: all", ErrBatchFailed), fatal: false},
		{name: "storage", err: &StorageWriteError{Err: io.ErrShortWrite}, fatal: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.fatal, IsFatal(tt.err))
		})
	}
}

func TestTraceBuffer_KeepsNewest(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("mcp2515", 3)
	for i := range 5 {
		tb.RecordTX([]byte{byte(i)}, fmt.Sprintf("step %d", i))
	}
	assert.Equal(t, 3, tb.Len())

	err := tb.WrapError(ErrNotReady)
	te := GetTrace(err)
	require.NotNil(t, te)
	require.Len(t, te.Trace, 3)
	assert.Equal(t, []byte{2}, te.Trace[0].Data)
	assert.Equal(t, "step 4", te.Trace[2].Note)
	require.ErrorIs(t, err, ErrNotReady)
}

func TestTraceBuffer_CopiesData(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("adc", 0)
	buf := []byte{0x03, 0x0E, 0x00}
	tb.RecordRX(buf, "read")
	buf[2] = 0xFF

	te := GetTrace(tb.WrapError(io.EOF))
	require.NotNil(t, te)
	assert.Equal(t, []byte{0x03, 0x0E, 0x00}, te.Trace[0].Data)
	assert.Equal(t, TraceRX, te.Trace[0].Direction)
	assert.NoError(t, tb.WrapError(nil))
}

func TestTraceableError_FormatTrace(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("mcp2515", 8)
	tb.RecordTX([]byte{0xC0}, "reset")
	tb.RecordTX([]byte{0x03, 0x0E, 0x00}, "read 0x0E")
	tb.RecordRX([]byte{0x00, 0x00, 0x40}, "read 0x0E")

	// The trace survives further wrapping.
	err := &ControllerInitError{Step: "reset acknowledge", Err: tb.WrapError(ErrNotReady)}
	te := GetTrace(err)
	require.NotNil(t, te)

	out := te.FormatTrace()
	assert.True(t, strings.HasPrefix(out, "[mcp2515] Wire trace (3 entries):"))
	assert.Contains(t, out, "> C0 (reset)")
	assert.Contains(t, out, "< 00 00 40 (read 0x0E)")

	empty := &TraceableError{Device: "adc", Err: io.EOF}
	assert.Equal(t, "[adc] (no trace data)", empty.FormatTrace())
	assert.Nil(t, GetTrace(io.EOF))
}
