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

// Package testing provides virtual hardware for tests: GPIO lines, the analog
// front end, the bus controller and a manual clock. The virtual devices
// implement periph.io's spi.Conn and check the electrical discipline the
// drivers must follow, recording every breach as a violation.
package testing

import (
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-daqnode/internal/syncutil"
	"periph.io/x/conn/v3/gpio"
)

// ErrInjected is the default error returned by injected failures.
var ErrInjected = errors.New("injected fault")

// EventKind classifies recorded events.
type EventKind string

const (
	// EventLine is a GPIO level change.
	EventLine EventKind = "line"
	// EventSleep is a delay requested by the driver.
	EventSleep EventKind = "sleep"
	// EventTx is an SPI transfer.
	EventTx EventKind = "tx"
)

// Event is one recorded hardware interaction.
type Event struct {
	Kind     EventKind
	Name     string
	Data     []byte
	Duration time.Duration
	Level    gpio.Level
}

func (e Event) String() string {
	switch e.Kind {
	case EventLine:
		return fmt.Sprintf("%s=%s", e.Name, e.Level)
	case EventSleep:
		return fmt.Sprintf("sleep %s", e.Duration)
	case EventTx:
		return fmt.Sprintf("%s tx % X", e.Name, e.Data)
	default:
		return string(e.Kind)
	}
}

// EventLog records events in order.
type EventLog struct {
	events []Event
	mu     syncutil.Mutex
}

// Add appends an event.
func (l *EventLog) Add(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

// Events returns a copy of the recorded events.
func (l *EventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Reset drops all recorded events.
func (l *EventLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

// VirtualLine is a GPIO output. It satisfies the Line interfaces of the
// drivers.
type VirtualLine struct {
	failNext error
	onChange func(gpio.Level)
	log      *EventLog
	name     string
	writes   int
	level    gpio.Level
	mu       syncutil.Mutex
}

// NewVirtualLine creates a line at initial level that records to log (may be
// nil).
func NewVirtualLine(name string, initial gpio.Level, log *EventLog) *VirtualLine {
	return &VirtualLine{name: name, level: initial, log: log}
}

// Out drives the line.
func (l *VirtualLine) Out(level gpio.Level) error {
	l.mu.Lock()
	if l.failNext != nil {
		err := l.failNext
		l.failNext = nil
		l.mu.Unlock()
		return err
	}
	l.level = level
	l.writes++
	cb := l.onChange
	l.mu.Unlock()

	if l.log != nil {
		l.log.Add(Event{Kind: EventLine, Name: l.name, Level: level})
	}
	if cb != nil {
		cb(level)
	}
	return nil
}

// Level returns the current level.
func (l *VirtualLine) Level() gpio.Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// Writes returns how many times Out succeeded.
func (l *VirtualLine) Writes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writes
}

// FailNext makes the next Out return err.
func (l *VirtualLine) FailNext(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext = err
}

// Name returns the line name.
func (l *VirtualLine) Name() string {
	return l.name
}
