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

package spi

import (
	"errors"
	"testing"

	virt "github.com/ZaparooProject/go-daqnode/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

type mockPort struct {
	connectErr error
	closeErr   error
	conn       spi.Conn
	mode       spi.Mode
	freq       physic.Frequency
	bits       int
	closed     bool
}

func (m *mockPort) String() string { return "mock" }

func (m *mockPort) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	m.freq, m.mode, m.bits = f, mode, bits
	if m.connectErr != nil {
		return nil, m.connectErr
	}
	return m.conn, nil
}

func (*mockPort) LimitSpeed(physic.Frequency) error { return nil }

func (m *mockPort) Close() error {
	m.closed = true
	return m.closeErr
}

func TestNewBus_ConnectsWithSoftwareChipSelect(t *testing.T) {
	t.Parallel()

	dev := virt.NewVirtualFrontEnd()
	port := &mockPort{conn: dev}

	bus, err := newBus(port, "/dev/spidev0.0", 2*physic.MegaHertz)
	require.NoError(t, err)

	assert.Equal(t, spi.Mode0|spi.NoCS, port.mode)
	assert.Equal(t, 2*physic.MegaHertz, port.freq)
	assert.Equal(t, 8, port.bits)
	assert.Same(t, dev, bus.Conn())
	assert.Equal(t, "/dev/spidev0.0", bus.String())

	require.NoError(t, bus.Close())
	assert.True(t, port.closed)
}

func TestNewBus_ConnectFailureClosesPort(t *testing.T) {
	t.Parallel()

	port := &mockPort{connectErr: errors.New("mode unsupported")}
	_, err := newBus(port, "/dev/spidev1.0", physic.MegaHertz)
	require.Error(t, err)
	assert.True(t, port.closed)
}

func TestBus_CloseError(t *testing.T) {
	t.Parallel()

	cause := errors.New("busy")
	bus, err := newBus(&mockPort{conn: virt.NewVirtualMCP2515(), closeErr: cause}, "spi1", physic.MegaHertz)
	require.NoError(t, err)
	require.ErrorIs(t, bus.Close(), cause)

	assert.NoError(t, (&Bus{}).Close())
}

func TestOutputPin_Unknown(t *testing.T) {
	t.Parallel()

	_, err := OutputPin("NO_SUCH_PIN_DAQ", gpio.High)
	require.ErrorIs(t, err, ErrPinNotFound)

	_, err = OutputPins([]string{"NO_SUCH_PIN_DAQ"}, gpio.Low)
	require.ErrorIs(t, err, ErrPinNotFound)

	_, err = StartClock("NO_SUCH_PIN_DAQ", 8*physic.MegaHertz)
	require.ErrorIs(t, err, ErrPinNotFound)
}
