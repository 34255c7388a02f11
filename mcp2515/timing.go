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
	"errors"
	"fmt"

	"periph.io/x/conn/v3/physic"
)

// Bit-timing limits of the controller.
const (
	MinQuanta = 8
	MaxQuanta = 25

	maxBRP      = 63
	maxSegment  = 8
	minPhaseSeg = 2
)

var errNoTiming = errors.New("mcp2515: no bit timing for clock and rate")

// Timing is a bit-timing solution. Segment lengths are in time quanta.
// PhaseSeg2 follows PhaseSeg1 (BTLMODE clear), so only CNF1 and CNF2 are
// programmed.
//
// This package takes a quantum to be BRP+1 oscillator periods. The MCP2515
// datasheet defines it as 2*(BRP+1) periods, so a real chip programmed with
// these registers runs the bus at half of BitRate; WireBitRate reports that
// rate. Do not use BitRate as the rate seen on the wire.
type Timing struct {
	BRP       uint8
	SJW       uint8
	PropSeg   uint8
	PhaseSeg1 uint8
	PhaseSeg2 uint8
}

// Quanta returns the number of time quanta per bit.
func (t Timing) Quanta() int {
	return 1 + int(t.PropSeg) + int(t.PhaseSeg1) + int(t.PhaseSeg2)
}

// CNF1 returns the SJW/BRP register value.
func (t Timing) CNF1() byte {
	return (t.SJW-1)<<6 | t.BRP
}

// CNF2 returns the PHSEG1/PRSEG register value.
func (t Timing) CNF2() byte {
	return (t.PhaseSeg1-1)<<3 | (t.PropSeg - 1)
}

// SamplePoint returns the sample point in percent of the bit time.
func (t Timing) SamplePoint() float64 {
	return 100 * float64(1+int(t.PropSeg)+int(t.PhaseSeg1)) / float64(t.Quanta())
}

// BitRate returns the nominal rate of this timing with oscillator osc, with
// one quantum per BRP+1 periods.
func (t Timing) BitRate(osc physic.Frequency) physic.Frequency {
	return osc / physic.Frequency((int(t.BRP)+1)*t.Quanta())
}

// WireBitRate returns the rate an MCP2515 clocked by osc puts on the bus with
// these registers, whose prescaler divides by 2*(BRP+1).
func (t Timing) WireBitRate(osc physic.Frequency) physic.Frequency {
	return osc / physic.Frequency(2*(int(t.BRP)+1)*t.Quanta())
}

// ComputeTiming finds register values realizing rate exactly from oscillator
// osc. One quantum lasts BRP+1 oscillator periods. The smallest prescaler
// giving 8..25 quanta per bit wins; the phase segments take 3/8 of the bit
// each and the propagation segment the rest.
func ComputeTiming(osc, rate physic.Frequency) (Timing, error) {
	if osc <= 0 || rate <= 0 || osc < rate {
		return Timing{}, fmt.Errorf("%w: %s / %s", errNoTiming, osc, rate)
	}
	if osc%rate != 0 {
		return Timing{}, fmt.Errorf("%w: %s is not a multiple of %s", errNoTiming, osc, rate)
	}
	ratio := int64(osc / rate)

	for brp := int64(0); brp <= maxBRP; brp++ {
		if ratio%(brp+1) != 0 {
			continue
		}
		quanta := ratio / (brp + 1)
		if quanta < MinQuanta || quanta > MaxQuanta {
			continue
		}

		phase := max(min(quanta*3/8, maxSegment), minPhaseSeg)
		prop := quanta - 1 - 2*phase
		if prop < 1 || prop > maxSegment {
			continue
		}

		return Timing{
			BRP:       uint8(brp),
			SJW:       1,
			PropSeg:   uint8(prop),
			PhaseSeg1: uint8(phase),
			PhaseSeg2: uint8(phase),
		}, nil
	}

	return Timing{}, fmt.Errorf("%w: %s / %s", errNoTiming, osc, rate)
}
