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

// Controller instruction set and register map understood by the simulator.
const (
	mcpReset   = 0xC0
	mcpWrite   = 0x02
	mcpRead    = 0x03
	mcpLoad    = 0x40
	mcpRTS     = 0x80
	mcpStdFlag = 0x08

	MCPRegCANSTAT = 0x0E
	MCPRegCANCTRL = 0x0F
	MCPRegCNF3    = 0x28
	MCPRegCNF2    = 0x29
	MCPRegCNF1    = 0x2A

	mcpModeMask   = 0xE0
	mcpModeNormal = 0x00
	mcpModeConfig = 0x80
)

// MCPResetSettle is the time the simulated controller needs after reset.
const MCPResetSettle = 10 * time.Millisecond

// VirtualMCP2515 simulates the bus controller at instruction level. Each
// chip-select assertion must carry exactly one instruction. Frames requested
// for transmission are collected and can be read back with Sent.
type VirtualMCP2515 struct {
	failNextTx error
	failFrame  map[uint32]error
	corrupt    map[byte]byte
	log        *EventLog

	CS *VirtualLine

	violations []string
	sent       []daq.Frame
	pending    *daq.Frame

	sinceReset  time.Duration
	txInSelect  int
	loadPending int
	stuckMode   *byte
	regs        [128]byte
	mu          syncutil.Mutex
	resetSeen   bool
}

// NewVirtualMCP2515 creates a controller in an undefined state that needs
// a reset instruction before use.
func NewVirtualMCP2515() *VirtualMCP2515 {
	v := &VirtualMCP2515{
		failFrame:   make(map[uint32]error),
		corrupt:     make(map[byte]byte),
		log:         &EventLog{},
		loadPending: -1,
	}
	v.regs[MCPRegCANSTAT] = 0x40
	v.CS = NewVirtualLine("can_cs", gpio.High, v.log)
	v.CS.onChange = func(l gpio.Level) {
		v.mu.Lock()
		defer v.mu.Unlock()
		if l == gpio.Low {
			v.txInSelect = 0
		}
	}
	return v
}

// Log returns the event log of the controller.
func (v *VirtualMCP2515) Log() *EventLog {
	return v.log
}

// Sleep records a driver delay.
func (v *VirtualMCP2515) Sleep(d time.Duration) {
	v.log.Add(Event{Kind: EventSleep, Duration: d})
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sinceReset += d
}

// FailNextTx makes the next SPI transfer fail with err.
func (v *VirtualMCP2515) FailNextTx(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failNextTx = err
}

// FailFrame makes every data load for identifier id fail with err. A nil err
// clears the fault.
func (v *VirtualMCP2515) FailFrame(id uint32, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err == nil {
		delete(v.failFrame, id)
		return
	}
	v.failFrame[id] = err
}

// StickMode pins the reported operating mode regardless of mode requests.
func (v *VirtualMCP2515) StickMode(mode byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	m := mode & mcpModeMask
	v.stuckMode = &m
}

// CorruptRegister XORs every read of addr with mask.
func (v *VirtualMCP2515) CorruptRegister(addr, mask byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.corrupt[addr] = mask
}

// Register returns the raw content of addr.
func (v *VirtualMCP2515) Register(addr byte) byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.regs[addr&0x7F]
}

// Mode returns the current operating mode bits.
func (v *VirtualMCP2515) Mode() byte {
	return v.Register(MCPRegCANSTAT) & mcpModeMask
}

// Sent returns the frames that were requested for transmission in order.
func (v *VirtualMCP2515) Sent() []daq.Frame {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]daq.Frame, len(v.sent))
	copy(out, v.sent)
	return out
}

// Violations returns every protocol breach seen so far.
func (v *VirtualMCP2515) Violations() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, len(v.violations))
	copy(out, v.violations)
	return out
}

func (v *VirtualMCP2515) violate(format string, args ...any) {
	v.violations = append(v.violations, fmt.Sprintf(format, args...))
}

// Tx implements spi.Conn.
//
//nolint:varnamelen // Interface compliance requires these parameter names
func (v *VirtualMCP2515) Tx(w, r []byte) error {
	v.log.Add(Event{Kind: EventTx, Name: "mcp2515", Data: append([]byte(nil), w...)})
	csLow := v.CS.Level() == gpio.Low

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.failNextTx != nil {
		err := v.failNextTx
		v.failNextTx = nil
		return err
	}
	if len(w) == 0 {
		return nil
	}
	if !csLow {
		v.violate("instruction 0x%02X without chip select", w[0])
	}
	v.txInSelect++
	if v.txInSelect > 1 {
		v.violate("instruction 0x%02X shares a chip select assertion", w[0])
	}

	// A data strobe directly follows a load; its first byte is SIDH and can
	// collide with any opcode.
	if v.loadPending >= 0 {
		return v.loadData(w)
	}

	if w[0] != mcpReset {
		if !v.resetSeen {
			v.violate("instruction 0x%02X before reset", w[0])
		} else if v.sinceReset < MCPResetSettle {
			v.violate("instruction 0x%02X %s after reset", w[0], v.sinceReset)
			for i := range r {
				r[i] = 0xFF
			}
			return nil
		}
	}

	switch op := w[0]; {
	case op == mcpReset:
		v.reset()
	case op == mcpWrite:
		if len(w) < 3 {
			return fmt.Errorf("virtual mcp2515: short write % X", w)
		}
		v.write(w[1], w[2])
	case op == mcpRead:
		if len(w) < 3 || len(r) < 3 {
			return fmt.Errorf("virtual mcp2515: short read % X", w)
		}
		addr := w[1] & 0x7F
		r[2] = v.regs[addr] ^ v.corrupt[addr]
	case op&0xF8 == mcpLoad:
		if len(w) != 2 || w[1] != mcpStdFlag {
			v.violate("load instruction % X without standard identifier flag", w)
		}
		v.loadPending = int(op>>1) & 0x03
	case op&0xF0 == mcpRTS:
		v.requestToSend(op & 0x07)
	default:
		return fmt.Errorf("virtual mcp2515: unknown instruction 0x%02X", op)
	}
	return nil
}

func (v *VirtualMCP2515) reset() {
	v.regs = [128]byte{}
	v.regs[MCPRegCANSTAT] = mcpModeConfig
	v.regs[MCPRegCANCTRL] = mcpModeConfig | 0x07
	v.resetSeen = true
	v.sinceReset = 0
	v.pending = nil
	v.loadPending = -1
}

func (v *VirtualMCP2515) write(addr, value byte) {
	addr &= 0x7F
	mode := v.regs[MCPRegCANSTAT] & mcpModeMask
	switch addr {
	case MCPRegCNF1, MCPRegCNF2, MCPRegCNF3:
		if mode != mcpModeConfig {
			v.violate("timing register 0x%02X written outside configuration mode", addr)
			return
		}
	case MCPRegCANSTAT:
		v.violate("write to read-only CANSTAT")
		return
	}
	v.regs[addr] = value
	if addr == MCPRegCANCTRL {
		next := value & mcpModeMask
		if v.stuckMode != nil {
			next = *v.stuckMode
		}
		v.regs[MCPRegCANSTAT] = v.regs[MCPRegCANSTAT]&^mcpModeMask | next
	}
}

func (v *VirtualMCP2515) loadData(w []byte) error {
	slot := v.loadPending
	v.loadPending = -1
	if len(w) < 5 {
		return fmt.Errorf("virtual mcp2515: short buffer load % X", w)
	}

	f := daq.Frame{
		ID:  uint32(w[0])<<3 | uint32(w[1]>>5),
		Len: w[4],
	}
	if err := v.failFrame[f.ID]; err != nil {
		return err
	}
	if int(f.Len) > daq.MaxPayload || len(w) != 5+int(f.Len) {
		v.violate("buffer %d load with length %d and %d data bytes", slot, f.Len, len(w)-5)
		return nil
	}
	copy(f.Data[:], w[5:])
	f.Index = slot
	v.pending = &f
	return nil
}

func (v *VirtualMCP2515) requestToSend(mask byte) {
	if v.regs[MCPRegCANSTAT]&mcpModeMask != mcpModeNormal {
		v.violate("request to send in mode 0x%02X", v.regs[MCPRegCANSTAT]&mcpModeMask)
		return
	}
	if v.pending == nil || mask != 1<<byte(v.pending.Index) {
		v.violate("request to send 0x%02X for an unloaded buffer", mask)
		return
	}
	f := *v.pending
	f.Index = len(v.sent)
	v.sent = append(v.sent, f)
	v.pending = nil
}

// Duplex implements conn.Conn.
func (*VirtualMCP2515) Duplex() conn.Duplex {
	return conn.Full
}

// String returns connection name.
func (*VirtualMCP2515) String() string {
	return "virtual://mcp2515"
}

// TxPackets implements spi.Conn.
func (v *VirtualMCP2515) TxPackets(p []spi.Packet) error {
	for _, pkt := range p {
		if err := v.Tx(pkt.W, pkt.R); err != nil {
			return err
		}
	}
	return nil
}

var _ spi.Conn = (*VirtualMCP2515)(nil)
