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

package testing

import (
	"fmt"
	"time"

	daq "github.com/ZaparooProject/go-daqnode"
	"github.com/ZaparooProject/go-daqnode/internal/syncutil"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"
)

// Front end electrical limits checked by the simulator.
const (
	frontEndSettle  = 50 * time.Microsecond
	frontEndAcquire = 1 * time.Microsecond
)

// VirtualFrontEnd simulates the 8-input 12-bit converter and the 16:1
// multiplexer wired to converter input 0. A conversion request is
// {0xC0 | ch<<3, 0x00}; the response carries the 12-bit value with a noisy
// top nibble that the driver must mask.
type VirtualFrontEnd struct {
	failDirect map[int]error
	failMux    map[int]error
	log        *EventLog

	CS        *VirtualLine
	MuxEnable *VirtualLine
	MuxSelect [4]*VirtualLine

	violations  []string
	conversions int

	sinceMuxChange time.Duration
	sinceSelect    time.Duration
	direct         [8]uint16
	mux            [daq.MuxChannels]uint16
	mu             syncutil.Mutex
}

// NewVirtualFrontEnd creates a front end with every line de-asserted.
func NewVirtualFrontEnd() *VirtualFrontEnd {
	v := &VirtualFrontEnd{
		failDirect: make(map[int]error),
		failMux:    make(map[int]error),
		log:        &EventLog{},
	}
	v.CS = NewVirtualLine("adc_cs", gpio.High, v.log)
	v.CS.onChange = func(l gpio.Level) {
		if l == gpio.Low {
			v.mu.Lock()
			v.sinceSelect = 0
			v.mu.Unlock()
		}
	}
	v.MuxEnable = NewVirtualLine("mux_en", gpio.High, v.log)
	v.MuxEnable.onChange = func(gpio.Level) { v.muxChanged() }
	for i := range v.MuxSelect {
		v.MuxSelect[i] = NewVirtualLine(fmt.Sprintf("mux_s%d", i), gpio.Low, v.log)
		v.MuxSelect[i].onChange = func(gpio.Level) { v.muxChanged() }
	}
	return v
}

func (v *VirtualFrontEnd) muxChanged() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sinceMuxChange = 0
}

// Log returns the event log shared by all lines of the front end.
func (v *VirtualFrontEnd) Log() *EventLog {
	return v.log
}

// Sleep records a driver delay and advances the simulator's notion of time.
func (v *VirtualFrontEnd) Sleep(d time.Duration) {
	v.log.Add(Event{Kind: EventSleep, Duration: d})
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sinceMuxChange += d
	v.sinceSelect += d
}

// SetDirect sets the value presented on converter input ch (1..7).
func (v *VirtualFrontEnd) SetDirect(ch int, value uint16) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.direct[ch] = value & daq.MaxReading
}

// SetMux sets the value presented on multiplexer input ch (0..15).
func (v *VirtualFrontEnd) SetMux(ch int, value uint16) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mux[ch] = value & daq.MaxReading
}

// SetVector presents a whole ReadingVector on the inputs.
func (v *VirtualFrontEnd) SetVector(values daq.ReadingVector) {
	for ch := 1; ch <= daq.DirectChannels; ch++ {
		v.SetDirect(ch, values[daq.DirectIndex(ch)])
	}
	for ch := range daq.MuxChannels {
		v.SetMux(ch, values[daq.MuxIndex(ch)])
	}
}

// FailDirect makes conversions of converter input ch fail with err.
func (v *VirtualFrontEnd) FailDirect(ch int, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err == nil {
		delete(v.failDirect, ch)
		return
	}
	v.failDirect[ch] = err
}

// FailMux makes conversions of multiplexer input ch fail with err.
func (v *VirtualFrontEnd) FailMux(ch int, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err == nil {
		delete(v.failMux, ch)
		return
	}
	v.failMux[ch] = err
}

// Violations returns every protocol breach seen so far.
func (v *VirtualFrontEnd) Violations() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, len(v.violations))
	copy(out, v.violations)
	return out
}

// Conversions returns the number of completed conversions.
func (v *VirtualFrontEnd) Conversions() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.conversions
}

func (v *VirtualFrontEnd) muxAddress() int {
	addr := 0
	for i, l := range v.MuxSelect {
		if l.Level() == gpio.High {
			addr |= 1 << i
		}
	}
	return addr
}

func (v *VirtualFrontEnd) violate(format string, args ...any) {
	v.violations = append(v.violations, fmt.Sprintf(format, args...))
}

// Tx implements spi.Conn.
//
//nolint:varnamelen // Interface compliance requires these parameter names
func (v *VirtualFrontEnd) Tx(w, r []byte) error {
	v.log.Add(Event{Kind: EventTx, Name: "adc", Data: append([]byte(nil), w...)})

	csLow := v.CS.Level() == gpio.Low
	muxOn := v.MuxEnable.Level() == gpio.Low
	addr := v.muxAddress()

	v.mu.Lock()
	defer v.mu.Unlock()

	if !csLow {
		v.violate("conversion without converter select")
	}
	if v.sinceSelect < frontEndAcquire {
		v.violate("data clocked %s after select", v.sinceSelect)
	}
	if len(w) != 2 || len(r) != 2 || w[0]&0xC0 != 0xC0 {
		return fmt.Errorf("virtual adc: malformed request % X", w)
	}

	ch := int(w[0]>>3) & 0x07
	var value uint16
	if ch == 0 {
		if !muxOn {
			v.violate("mux read with multiplexer disabled")
		}
		if v.sinceMuxChange < frontEndSettle {
			v.violate("mux ch%d converted %s after select change", addr, v.sinceMuxChange)
		}
		if err := v.failMux[addr]; err != nil {
			return err
		}
		value = v.mux[addr]
	} else {
		if muxOn {
			v.violate("multiplexer enabled during direct conversion of ch%d", ch)
		}
		if err := v.failDirect[ch]; err != nil {
			return err
		}
		value = v.direct[ch]
	}

	v.conversions++
	r[0] = 0xA0 | byte(value>>8)
	r[1] = byte(value)
	return nil
}

// Duplex implements conn.Conn.
func (*VirtualFrontEnd) Duplex() conn.Duplex {
	return conn.Full
}

// String returns connection name.
func (*VirtualFrontEnd) String() string {
	return "virtual://adc"
}

// TxPackets implements spi.Conn.
func (v *VirtualFrontEnd) TxPackets(p []spi.Packet) error {
	for _, pkt := range p {
		if err := v.Tx(pkt.W, pkt.R); err != nil {
			return err
		}
	}
	return nil
}

var _ spi.Conn = (*VirtualFrontEnd)(nil)
