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

// Package mcp2515 drives a discrete bus controller over SPI: register-level
// bring-up into Normal mode and load/request-to-send frame transmission.
package mcp2515

import "time"

// SPI instruction opcodes
const (
	cmdReset        = 0xC0
	cmdWrite        = 0x02
	cmdRead         = 0x03
	cmdLoadTxBuffer = 0x40 // | buffer offset
	cmdRTS          = 0x80 // | buffer bitmask

	// loadStdIDFlag qualifies the load command for the standard identifier
	// layout.
	loadStdIDFlag = 0x08
)

// Register addresses
const (
	regCANSTAT = 0x0E
	regCANCTRL = 0x0F
	regCNF2    = 0x29
	regCNF1    = 0x2A
)

// Operating modes (REQOP in CANCTRL, OPMOD in CANSTAT, bits 7:5)
const (
	modeMask   = 0xE0
	modeNormal = 0x00
	modeConfig = 0x80
)

// Transmit buffers
const (
	// NumTxBuffers is the number of hardware transmit buffers.
	NumTxBuffers = 3
)

// Timing defaults
const (
	// MinResetDelay is the settle time after the reset instruction.
	MinResetDelay = 10 * time.Millisecond
	// MinInterFrameDelay is the gap between frames of one batch.
	MinInterFrameDelay = 5 * time.Millisecond

	modeSwitchDelay = 1 * time.Millisecond
)

// loadOffset returns the load-instruction offset bits of buffer n.
func loadOffset(n int) byte {
	return byte(n) << 1
}

// rtsMask returns the request-to-send bitmask of buffer n.
func rtsMask(n int) byte {
	return 1 << byte(n)
}

// encodeStdID splits an 11-bit identifier into the SIDH/SIDL register bytes.
func encodeStdID(id uint32) (sidh, sidl byte) {
	return byte(id >> 3), byte(id&0x07) << 5
}

// decodeStdID is the inverse of encodeStdID.
func decodeStdID(sidh, sidl byte) uint32 {
	return uint32(sidh)<<3 | uint32(sidl>>5)
}
