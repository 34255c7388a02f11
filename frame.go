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

package daq

import (
	"encoding/binary"
	"fmt"
	"slices"
)

// Frame envelope limits.
const (
	// MaxPayload is the classical bus payload limit in bytes.
	MaxPayload = 8
	// ValueSize is the wire size of one ReadingVector entry.
	ValueSize = 2
	// ValuesPerFrame is how many readings fit in one frame.
	ValuesPerFrame = MaxPayload / ValueSize

	// DefaultBaseID is the product identifier of batch position 0.
	DefaultBaseID = 0x200

	maxStdID = 0x7FF
	maxExtID = 0x1FFFFFFF
)

// BatchSize is the number of frames one ReadingVector packs into.
var BatchSize = FramesFor(NumChannels)

// FramesFor returns how many frames n readings need.
func FramesFor(n int) int {
	return (n*ValueSize + MaxPayload - 1) / MaxPayload
}

// Frame is one message on the bus.
type Frame struct {
	Seq      uint64 // snapshot the payload came from
	Index    int    // batch position
	ID       uint32
	Data     [MaxPayload]byte
	Len      uint8
	Extended bool
}

// Payload returns the valid data bytes.
func (f *Frame) Payload() []byte {
	return f.Data[:f.Len]
}

// Validate returns an error if the frame cannot be put on the bus.
func (f *Frame) Validate() error {
	if f.Len > MaxPayload {
		return fmt.Errorf("%w: length %d", ErrInvalidFrame, f.Len)
	}
	limit := uint32(maxStdID)
	if f.Extended {
		limit = maxExtID
	}
	if f.ID > limit {
		return fmt.Errorf("%w: identifier 0x%X out of range", ErrInvalidFrame, f.ID)
	}
	return nil
}

// FrameBatch is the ordered set of frames derived from one snapshot.
type FrameBatch []Frame

// IDs returns the identifiers of the batch in order.
func (b FrameBatch) IDs() []uint32 {
	ids := make([]uint32, len(b))
	for i := range b {
		ids[i] = b[i].ID
	}
	return ids
}

// Pack splits a snapshot into frames of ValuesPerFrame big-endian readings.
// Frame i is identified as base+i; the last frame carries only the remaining
// readings.
func Pack(snap Snapshot, base uint32) FrameBatch {
	values := snap.Values[:]
	batch := make(FrameBatch, 0, FramesFor(len(values)))

	for pos := 0; pos*ValuesPerFrame < len(values); pos++ {
		start := pos * ValuesPerFrame
		end := min(start+ValuesPerFrame, len(values))

		f := Frame{
			ID:    base + uint32(pos),
			Index: pos,
			Seq:   snap.Seq,
			Len:   uint8((end - start) * ValueSize),
		}
		for i, v := range values[start:end] {
			binary.BigEndian.PutUint16(f.Data[i*ValueSize:], v)
		}
		batch = append(batch, f)
	}

	return batch
}

// Unpack rebuilds a ReadingVector from a batch. Frames may arrive in any
// order; they are placed by identifier relative to base.
func Unpack(batch FrameBatch, base uint32) (ReadingVector, error) {
	var out ReadingVector

	want := FramesFor(NumChannels)
	if len(batch) != want {
		return out, fmt.Errorf("%w: batch has %d frames, want %d", ErrInvalidFrame, len(batch), want)
	}

	sorted := slices.Clone(batch)
	slices.SortFunc(sorted, func(a, b Frame) int {
		return int(a.ID) - int(b.ID)
	})

	for i := range sorted {
		f := &sorted[i]
		if f.ID != base+uint32(i) {
			return out, fmt.Errorf("%w: expected id 0x%03X, got 0x%03X", ErrInvalidFrame, base+uint32(i), f.ID)
		}

		start := i * ValuesPerFrame
		count := min(ValuesPerFrame, NumChannels-start)
		if int(f.Len) != count*ValueSize {
			return out, fmt.Errorf("%w: id 0x%03X has %d bytes, want %d",
				ErrInvalidFrame, f.ID, f.Len, count*ValueSize)
		}
		for j := range count {
			out[start+j] = binary.BigEndian.Uint16(f.Data[j*ValueSize:])
		}
	}

	return out, nil
}
