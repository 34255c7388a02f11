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

// Package spi opens the host's SPI ports and GPIO lines through periph.io.
// Chip select is driven by GPIO lines, never by the SPI controller, so one
// port can serve several devices with strobe-level control.
package spi

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const (
	// Mode is SPI mode 0 with the controller's own chip select disabled.
	Mode = spi.Mode0 | spi.NoCS

	bitsPerWord = 8
)

// ErrPinNotFound is returned when a GPIO name does not resolve.
var ErrPinNotFound = errors.New("gpio pin not found")

// Bus is an open SPI port.
type Bus struct {
	port spi.PortCloser
	conn spi.Conn
	name string
}

// Init loads the periph host drivers. Safe to call more than once.
func Init() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph host: %w", err)
	}
	return nil
}

// Open opens SPI port portName at freq.
func Open(portName string, freq physic.Frequency) (*Bus, error) {
	if err := Init(); err != nil {
		return nil, err
	}

	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %s: %w", portName, err)
	}
	return newBus(port, portName, freq)
}

func newBus(port spi.PortCloser, name string, freq physic.Frequency) (*Bus, error) {
	conn, err := port.Connect(freq, Mode, bitsPerWord)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to connect SPI %s: %w", name, err)
	}
	return &Bus{port: port, conn: conn, name: name}, nil
}

// Conn returns the connection for device drivers.
func (b *Bus) Conn() spi.Conn {
	return b.conn
}

// String returns the port name.
func (b *Bus) String() string {
	return b.name
}

// Close closes the port.
func (b *Bus) Close() error {
	if b.port == nil {
		return nil
	}
	if err := b.port.Close(); err != nil {
		return fmt.Errorf("SPI %s close failed: %w", b.name, err)
	}
	return nil
}

// OutputPin resolves a GPIO by name and drives it to initial.
func OutputPin(name string, initial gpio.Level) (gpio.PinIO, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("%w: %s", ErrPinNotFound, name)
	}
	if err := pin.Out(initial); err != nil {
		return nil, fmt.Errorf("failed to drive %s: %w", name, err)
	}
	return pin, nil
}

// OutputPins resolves several GPIOs, all driven to initial.
func OutputPins(names []string, initial gpio.Level) ([]gpio.PinIO, error) {
	pins := make([]gpio.PinIO, len(names))
	for i, name := range names {
		pin, err := OutputPin(name, initial)
		if err != nil {
			return nil, err
		}
		pins[i] = pin
	}
	return pins, nil
}

// StartClock drives a 50% duty square wave at freq on the named pin, used to
// feed an oscillator input.
func StartClock(name string, freq physic.Frequency) (gpio.PinIO, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("%w: %s", ErrPinNotFound, name)
	}
	if err := pin.PWM(gpio.DutyHalf, freq); err != nil {
		return nil, fmt.Errorf("failed to start %s clock on %s: %w", freq, name, err)
	}
	return pin, nil
}
