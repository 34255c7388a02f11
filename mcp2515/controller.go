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

package mcp2515

import (
	"context"
	"errors"
	"fmt"
	"time"

	daq "github.com/ZaparooProject/go-daqnode"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

const deviceName = "mcp2515"

var debug = daq.DeviceDebug(deviceName)

// Line is a digital output. gpio.PinOut satisfies it.
type Line interface {
	Out(l gpio.Level) error
}

// State is the controller operating state as seen by the driver.
type State int

const (
	// StateUnknown is the state before Init.
	StateUnknown State = iota
	// StateReset follows the reset instruction.
	StateReset
	// StateConfiguring is active while timing registers are written.
	StateConfiguring
	// StateNormal is the runtime state.
	StateNormal
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateReset:
		return "reset"
	case StateConfiguring:
		return "configuring"
	case StateNormal:
		return "normal"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config holds controller settings.
type Config struct {
	// Oscillator is the clock feeding the controller.
	Oscillator physic.Frequency
	// BitRate is the bus bit rate.
	BitRate physic.Frequency
	// TxBuffer selects the hardware transmit buffer (0..2).
	TxBuffer int
	// ResetDelay is waited after reset; never less than MinResetDelay.
	ResetDelay time.Duration
	// InterFrameDelay separates frames of a batch; never less than
	// MinInterFrameDelay.
	InterFrameDelay time.Duration
}

// DefaultConfig returns 500 kbit/s from an 8 MHz oscillator on buffer 0.
func DefaultConfig() Config {
	return Config{
		Oscillator:      8 * physic.MegaHertz,
		BitRate:         500 * physic.KiloHertz,
		TxBuffer:        0,
		ResetDelay:      MinResetDelay,
		InterFrameDelay: MinInterFrameDelay,
	}
}

// Option configures a Controller.
type Option func(*Controller)

// WithSleep replaces time.Sleep, mainly for tests.
func WithSleep(sleep func(time.Duration)) Option {
	return func(c *Controller) { c.sleep = sleep }
}

// Controller drives the bus controller. It is not safe for concurrent use.
type Controller struct {
	conn   spi.Conn
	cs     Line
	sleep  func(time.Duration)
	trace  *daq.TraceBuffer
	cfg    Config
	timing Timing
	state  State
}

// New validates cfg, computes bit timing and parks the select line. The
// controller is not touched until Init.
func New(conn spi.Conn, cs Line, cfg Config, opts ...Option) (*Controller, error) {
	if conn == nil || cs == nil {
		return nil, errors.New("mcp2515: nil SPI connection or select line")
	}
	if cfg.TxBuffer < 0 || cfg.TxBuffer >= NumTxBuffers {
		return nil, fmt.Errorf("mcp2515: transmit buffer %d out of range", cfg.TxBuffer)
	}
	timing, err := ComputeTiming(cfg.Oscillator, cfg.BitRate)
	if err != nil {
		return nil, err
	}
	cfg.ResetDelay = max(cfg.ResetDelay, MinResetDelay)
	cfg.InterFrameDelay = max(cfg.InterFrameDelay, MinInterFrameDelay)

	c := &Controller{
		conn:   conn,
		cs:     cs,
		cfg:    cfg,
		timing: timing,
		sleep:  time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := cs.Out(gpio.High); err != nil {
		return nil, daq.NewBusError("init", deviceName+" cs", err)
	}
	return c, nil
}

// State returns the driver's view of the operating state.
func (c *Controller) State() State {
	return c.state
}

// Timing returns the computed bit timing.
func (c *Controller) Timing() Timing {
	return c.timing
}

// Config returns the effective configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// strobe runs one instruction with chip select asserted around it only.
func (c *Controller) strobe(w, r []byte, note string) error {
	if c.trace != nil {
		c.trace.RecordTX(w, note)
	}
	if err := c.cs.Out(gpio.Low); err != nil {
		return daq.NewBusError(note, deviceName, err)
	}
	txErr := c.conn.Tx(w, r)
	csErr := c.cs.Out(gpio.High)
	if txErr != nil {
		return daq.NewBusError(note, deviceName, txErr)
	}
	if csErr != nil {
		return daq.NewBusError(note, deviceName, csErr)
	}
	if c.trace != nil && r != nil {
		c.trace.RecordRX(r, note)
	}
	return nil
}

func (c *Controller) writeRegister(addr, value byte) error {
	return c.strobe([]byte{cmdWrite, addr, value}, nil, fmt.Sprintf("write 0x%02X", addr))
}

func (c *Controller) readRegister(addr byte) (byte, error) {
	r := make([]byte, 3)
	if err := c.strobe([]byte{cmdRead, addr, 0x00}, r, fmt.Sprintf("read 0x%02X", addr)); err != nil {
		return 0, err
	}
	return r[2], nil
}

// Init resets the controller, programs bit timing and switches it to Normal
// mode. Every step is verified by reading the controller back; the first
// failure aborts with a *daq.ControllerInitError carrying the wire trace.
// There is no retry.
func (c *Controller) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.trace = daq.NewTraceBuffer(deviceName, 32)
	defer func() { c.trace = nil }()

	fail := func(step string, err error) error {
		return &daq.ControllerInitError{Step: step, Err: c.trace.WrapError(err)}
	}

	c.state = StateReset
	if err := c.strobe([]byte{cmdReset}, nil, "reset"); err != nil {
		return fail("reset", err)
	}
	c.sleep(c.cfg.ResetDelay)

	c.state = StateConfiguring
	if err := c.expectMode(modeConfig); err != nil {
		return fail("reset acknowledge", err)
	}
	if err := c.writeRegister(regCANCTRL, modeConfig); err != nil {
		return fail("configuration mode", err)
	}
	c.sleep(modeSwitchDelay)

	if err := c.writeVerified(regCNF1, c.timing.CNF1()); err != nil {
		return fail("CNF1", err)
	}
	if err := c.writeVerified(regCNF2, c.timing.CNF2()); err != nil {
		return fail("CNF2", err)
	}

	if err := c.writeRegister(regCANCTRL, modeNormal); err != nil {
		return fail("normal mode", err)
	}
	if err := c.expectMode(modeNormal); err != nil {
		return fail("normal mode acknowledge", err)
	}

	c.state = StateNormal
	debug.Printf("normal mode, nominal %s from %s, %s on the wire (CNF1=0x%02X CNF2=0x%02X, %d quanta, sample point %.1f%%)",
		c.timing.BitRate(c.cfg.Oscillator), c.cfg.Oscillator, c.timing.WireBitRate(c.cfg.Oscillator),
		c.timing.CNF1(), c.timing.CNF2(), c.timing.Quanta(), c.timing.SamplePoint())
	return nil
}

func (c *Controller) expectMode(mode byte) error {
	stat, err := c.readRegister(regCANSTAT)
	if err != nil {
		return err
	}
	if stat&modeMask != mode {
		return fmt.Errorf("%w: CANSTAT 0x%02X, want mode 0x%02X", daq.ErrNotReady, stat, mode)
	}
	return nil
}

func (c *Controller) writeVerified(addr, value byte) error {
	if err := c.writeRegister(addr, value); err != nil {
		return err
	}
	got, err := c.readRegister(addr)
	if err != nil {
		return err
	}
	if got != value {
		return fmt.Errorf("%w: register 0x%02X reads 0x%02X, wrote 0x%02X", daq.ErrNotReady, addr, got, value)
	}
	return nil
}

// Transmit sends one standard-identifier frame through the configured buffer:
// load instruction, identifier/length/payload, request to send. Chip select is
// released between the three steps.
func (c *Controller) Transmit(f *daq.Frame) error {
	if c.state != StateNormal {
		return fmt.Errorf("%w: controller is %s", daq.ErrNotReady, c.state)
	}
	if err := f.Validate(); err != nil {
		return err
	}
	if f.Extended {
		return fmt.Errorf("%w: extended identifiers are not supported", daq.ErrInvalidFrame)
	}

	slot := c.cfg.TxBuffer
	if err := c.strobe([]byte{cmdLoadTxBuffer | loadOffset(slot), loadStdIDFlag}, nil, "load"); err != nil {
		return err
	}

	sidh, sidl := encodeStdID(f.ID)
	buf := make([]byte, 0, 5+daq.MaxPayload)
	buf = append(buf, sidh, sidl, 0, 0, f.Len)
	buf = append(buf, f.Payload()...)
	if err := c.strobe(buf, nil, "data"); err != nil {
		return err
	}

	return c.strobe([]byte{cmdRTS | rtsMask(slot)}, nil, "rts")
}

// SendBatch transmits the frames in order with InterFrameDelay between them.
// A failed frame is reported and the batch moves on. onSent runs right after
// each accepted frame. If no frame could be sent the error wraps
// daq.ErrBatchFailed. Cancellation is checked between frames only.
func (c *Controller) SendBatch(ctx context.Context, batch daq.FrameBatch, onSent func(*daq.Frame)) (daq.BatchReport, error) {
	var report daq.BatchReport

	for i := range batch {
		if i > 0 {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			c.sleep(c.cfg.InterFrameDelay)
		}

		f := &batch[i]
		if err := c.Transmit(f); err != nil {
			report.Failed = append(report.Failed, &daq.FrameTransmitError{ID: f.ID, Index: f.Index, Err: err})
			continue
		}
		report.Sent++
		if onSent != nil {
			onSent(f)
		}
	}

	if report.Sent == 0 && len(report.Failed) > 0 {
		return report, fmt.Errorf("%w (%d frames): %w", daq.ErrBatchFailed, len(report.Failed), report.Failed[0])
	}
	return report, nil
}

var _ daq.Transmitter = (*Controller)(nil)
