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

// Package uart mirrors transmitted frames to the auxiliary serial console in
// SLCAN text form so a bench terminal can watch the bus.
package uart

import (
	"fmt"
	"io"
	"strings"

	daq "github.com/ZaparooProject/go-daqnode"
	"github.com/ZaparooProject/go-daqnode/internal/syncutil"
	"go.bug.st/serial"
)

// DefaultBaudRate is the console speed.
const DefaultBaudRate = 115200

// Monitor writes one SLCAN line per frame.
type Monitor struct {
	w    io.WriteCloser
	name string
	mu   syncutil.Mutex
}

// Open opens the console port at baud 8N1.
func Open(portName string, baud int) (*Monitor, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open console port %s: %w", portName, err)
	}
	return NewMonitor(port, portName), nil
}

// NewMonitor wraps an already open writer.
func NewMonitor(w io.WriteCloser, name string) *Monitor {
	return &Monitor{w: w, name: name}
}

// FormatSLCAN renders f as an SLCAN transmit line: 't' + 3 hex digit id for
// standard frames ('T' + 8 digits for extended), length digit, data bytes,
// carriage return.
func FormatSLCAN(f *daq.Frame) string {
	var sb strings.Builder
	if f.Extended {
		_, _ = fmt.Fprintf(&sb, "T%08X", f.ID)
	} else {
		_, _ = fmt.Fprintf(&sb, "t%03X", f.ID)
	}
	_, _ = fmt.Fprintf(&sb, "%d", f.Len)
	for _, b := range f.Payload() {
		_, _ = fmt.Fprintf(&sb, "%02X", b)
	}
	sb.WriteByte('\r')
	return sb.String()
}

// ObserveFrame writes f to the console.
func (m *Monitor) ObserveFrame(f *daq.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.w == nil {
		return fmt.Errorf("console %s: %w", m.name, io.ErrClosedPipe)
	}
	if _, err := io.WriteString(m.w, FormatSLCAN(f)); err != nil {
		return fmt.Errorf("console %s write: %w", m.name, err)
	}
	return nil
}

// Close closes the console port.
func (m *Monitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.w == nil {
		return nil
	}
	err := m.w.Close()
	m.w = nil
	if err != nil {
		return fmt.Errorf("console %s close: %w", m.name, err)
	}
	return nil
}

var _ daq.FrameObserver = (*Monitor)(nil)
