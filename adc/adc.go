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

// Package adc drives the analog front end: a 12-bit, 8-input SPI converter
// whose input 0 is fed by a 16:1 analog multiplexer.
package adc

import (
	"context"
	"errors"
	"fmt"
	"time"

	daq "github.com/ZaparooProject/go-daqnode"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"
)

// Converter command bits (first command byte).
const (
	cmdStart        = 0x80
	cmdSingleEnded  = 0x40
	cmdChannelMask  = 0x07
	cmdChannelShift = 3

	resultHighMask = 0x0F
)

// Front end layout.
const (
	// ConverterInputs is the number of converter channels.
	ConverterInputs = 8
	// MuxInput is the converter channel wired to the multiplexer output.
	MuxInput = 0
	// MuxAddressLines is the number of multiplexer select lines.
	MuxAddressLines = 4
)

// Timing defaults.
const (
	// MinSettleDelay is the shortest wait between a multiplexer address change
	// and the conversion that reads it.
	MinSettleDelay = 50 * time.Microsecond
	// DefaultAcquireDelay is the wait between asserting a select line and
	// clocking data.
	DefaultAcquireDelay = 1 * time.Microsecond
)

// Select lines are active low.
const (
	asserted   = gpio.Low
	deasserted = gpio.High
)

var errNilLine = errors.New("adc: nil control line")

// Line is a digital output. gpio.PinOut satisfies it.
type Line interface {
	Out(l gpio.Level) error
}

// Mux holds the multiplexer control lines. Select[k] carries bit k of the
// channel address.
type Mux struct {
	Enable Line
	Select [MuxAddressLines]Line
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithSettleDelay sets the multiplexer settling interval. Values below
// MinSettleDelay are raised to it.
func WithSettleDelay(d time.Duration) Option {
	return func(s *Sampler) { s.settle = max(d, MinSettleDelay) }
}

// WithAcquireDelay sets the delay after asserting a select line.
func WithAcquireDelay(d time.Duration) Option {
	return func(s *Sampler) { s.acquire = d }
}

// WithSleep replaces time.Sleep, mainly for tests.
func WithSleep(sleep func(time.Duration)) Option {
	return func(s *Sampler) { s.sleep = sleep }
}

// Sampler produces ReadingVectors from the front end.
type Sampler struct {
	conn    spi.Conn
	cs      Line
	sleep   func(time.Duration)
	mux     Mux
	settle  time.Duration
	acquire time.Duration
}

// New creates a sampler. conn must not drive chip select itself; cs is the
// converter select line.
func New(conn spi.Conn, cs Line, mux Mux, opts ...Option) (*Sampler, error) {
	if conn == nil {
		return nil, errors.New("adc: nil SPI connection")
	}
	if cs == nil || mux.Enable == nil {
		return nil, errNilLine
	}
	for i, l := range mux.Select {
		if l == nil {
			return nil, fmt.Errorf("%w: mux select %d", errNilLine, i)
		}
	}

	s := &Sampler{
		conn:    conn,
		cs:      cs,
		mux:     mux,
		sleep:   time.Sleep,
		settle:  MinSettleDelay,
		acquire: DefaultAcquireDelay,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Park every select line de-asserted.
	if err := s.cs.Out(deasserted); err != nil {
		return nil, daq.NewBusError("init", "adc cs", err)
	}
	if err := s.mux.Enable.Out(deasserted); err != nil {
		return nil, daq.NewBusError("init", "mux enable", err)
	}
	return s, nil
}

// SettleDelay returns the configured multiplexer settling interval.
func (s *Sampler) SettleDelay() time.Duration {
	return s.settle
}

// command builds the 2-byte conversion request for converter channel ch.
func command(ch int) [2]byte {
	return [2]byte{cmdStart | cmdSingleEnded | byte(ch&cmdChannelMask)<<cmdChannelShift, 0x00}
}

// decode extracts the 12-bit result; the top nibble of the first byte is
// padding.
func decode(r [2]byte) uint16 {
	return uint16(r[0]&resultHighMask)<<8 | uint16(r[1])
}

// Convert performs one conversion on converter channel ch (0..7).
func (s *Sampler) Convert(ch int) (uint16, error) {
	if ch < 0 || ch >= ConverterInputs {
		return 0, fmt.Errorf("adc: converter channel %d out of range", ch)
	}
	device := fmt.Sprintf("adc ch%d", ch)

	if err := s.cs.Out(asserted); err != nil {
		return 0, daq.NewBusError("select", device, err)
	}
	s.sleep(s.acquire)

	w := command(ch)
	var r [2]byte
	txErr := s.conn.Tx(w[:], r[:])

	// Release the converter even if the transfer failed.
	csErr := s.cs.Out(deasserted)

	if txErr != nil {
		return 0, daq.NewBusError("convert", device, txErr)
	}
	if csErr != nil {
		return 0, daq.NewBusError("deselect", device, csErr)
	}
	return decode(r), nil
}

// selectMux enables the multiplexer and drives the channel address.
func (s *Sampler) selectMux(ch int) error {
	if err := s.mux.Enable.Out(asserted); err != nil {
		return err
	}
	for bit, line := range s.mux.Select {
		if err := line.Out(gpio.Level(ch>>bit&1 == 1)); err != nil {
			return fmt.Errorf("select line %d: %w", bit, err)
		}
	}
	return nil
}

// ReadMux samples multiplexer channel ch (0..15). The multiplexer is enabled
// only for the duration of this call.
func (s *Sampler) ReadMux(ch int) (uint16, error) {
	if ch < 0 || ch >= daq.MuxChannels {
		return 0, fmt.Errorf("adc: mux channel %d out of range", ch)
	}

	if err := s.selectMux(ch); err != nil {
		_ = s.mux.Enable.Out(deasserted)
		return 0, daq.NewBusError("mux select", fmt.Sprintf("mux ch%d", ch), err)
	}

	s.sleep(s.settle)
	v, convErr := s.Convert(MuxInput)

	if err := s.mux.Enable.Out(deasserted); err != nil && convErr == nil {
		return 0, daq.NewBusError("mux release", fmt.Sprintf("mux ch%d", ch), err)
	}
	return v, convErr
}

// ReadChannel samples a single ReadingVector index.
func (s *Sampler) ReadChannel(ctx context.Context, index int) (uint16, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	switch {
	case index >= 0 && index < daq.DirectChannels:
		return s.Convert(index + 1)
	case index >= daq.DirectChannels && index < daq.NumChannels:
		return s.ReadMux(index - daq.DirectChannels)
	default:
		return 0, fmt.Errorf("adc: channel index %d out of range", index)
	}
}

// Read samples every channel: direct channels first, then the multiplexed
// bank. A failed channel does not stop the cycle; all failures are returned
// together as a *daq.SampleError and the vector must then be discarded.
func (s *Sampler) Read(ctx context.Context) (daq.ReadingVector, error) {
	var out daq.ReadingVector
	if err := ctx.Err(); err != nil {
		return out, err
	}

	var faults []daq.ChannelFault
	for ch := 1; ch <= daq.DirectChannels; ch++ {
		v, err := s.Convert(ch)
		if err != nil {
			faults = append(faults, daq.ChannelFault{Index: daq.DirectIndex(ch), Err: err})
			continue
		}
		out[daq.DirectIndex(ch)] = v
	}
	for ch := range daq.MuxChannels {
		v, err := s.ReadMux(ch)
		if err != nil {
			faults = append(faults, daq.ChannelFault{Index: daq.MuxIndex(ch), Err: err})
			continue
		}
		out[daq.MuxIndex(ch)] = v
	}

	if len(faults) > 0 {
		return out, &daq.SampleError{Faults: faults}
	}
	return out, nil
}

var _ daq.Sampler = (*Sampler)(nil)
