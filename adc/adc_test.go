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

package adc

import (
	"context"
	"testing"
	"time"

	daq "github.com/ZaparooProject/go-daqnode"
	virt "github.com/ZaparooProject/go-daqnode/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
)

func newVirtualSampler(t *testing.T, opts ...Option) (*Sampler, *virt.VirtualFrontEnd) {
	t.Helper()
	fe := virt.NewVirtualFrontEnd()
	mux := Mux{Enable: fe.MuxEnable}
	for i := range mux.Select {
		mux.Select[i] = fe.MuxSelect[i]
	}
	opts = append([]Option{WithSleep(fe.Sleep)}, opts...)
	s, err := New(fe, fe.CS, mux, opts...)
	require.NoError(t, err)
	return s, fe
}

func TestCommand(t *testing.T) {
	t.Parallel()

	assert.Equal(t, [2]byte{0xC0, 0x00}, command(0))
	assert.Equal(t, [2]byte{0xC8, 0x00}, command(1))
	assert.Equal(t, [2]byte{0xF8, 0x00}, command(7))
}

func TestDecode_MasksPadding(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint16(0x0ABC), decode([2]byte{0xFA, 0xBC}))
	assert.Equal(t, uint16(0x0FFF), decode([2]byte{0xFF, 0xFF}))
	assert.Equal(t, uint16(0), decode([2]byte{0xF0, 0x00}))
}

func TestNew_ParksLines(t *testing.T) {
	t.Parallel()

	_, fe := newVirtualSampler(t)
	assert.Equal(t, gpio.High, fe.CS.Level())
	assert.Equal(t, gpio.High, fe.MuxEnable.Level())
	assert.Zero(t, fe.Conversions())
}

func TestNew_RejectsMissingLines(t *testing.T) {
	t.Parallel()

	fe := virt.NewVirtualFrontEnd()
	_, err := New(fe, fe.CS, Mux{Enable: fe.MuxEnable})
	require.Error(t, err)

	_, err = New(nil, fe.CS, Mux{})
	require.Error(t, err)
}

func TestRead_ChannelMapping(t *testing.T) {
	t.Parallel()

	s, fe := newVirtualSampler(t)

	var want daq.ReadingVector
	for i := range want {
		want[i] = uint16(0x100*(i%16) + i)
	}
	fe.SetVector(want)

	got, err := s.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, daq.NumChannels, fe.Conversions())
	assert.Empty(t, fe.Violations())

	for _, v := range got {
		assert.LessOrEqual(t, v, uint16(daq.MaxReading))
	}
}

func TestRead_DirectThenMuxOrder(t *testing.T) {
	t.Parallel()

	s, fe := newVirtualSampler(t)
	_, err := s.Read(context.Background())
	require.NoError(t, err)

	var channels []byte
	for _, e := range fe.Log().Events() {
		if e.Kind == virt.EventTx {
			channels = append(channels, e.Data[0]>>3&0x07)
		}
	}
	want := []byte{1, 2, 3, 4, 5, 6, 7}
	for range daq.MuxChannels {
		want = append(want, 0)
	}
	assert.Equal(t, want, channels)
}

func TestReadMux_SettlesAfterAddressing(t *testing.T) {
	t.Parallel()

	s, fe := newVirtualSampler(t)
	fe.SetMux(11, 0x321)

	v, err := s.ReadMux(11)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x321), v)
	assert.Empty(t, fe.Violations())

	// Address 11 = 0b1011, LSB on select line 0.
	assert.Equal(t, gpio.High, fe.MuxSelect[0].Level())
	assert.Equal(t, gpio.High, fe.MuxSelect[1].Level())
	assert.Equal(t, gpio.Low, fe.MuxSelect[2].Level())
	assert.Equal(t, gpio.High, fe.MuxSelect[3].Level())
	assert.Equal(t, gpio.High, fe.MuxEnable.Level(), "multiplexer disabled after the read")

	// The settle sleep sits between the last address change and the select.
	events := fe.Log().Events()
	lastSelect, settle := -1, -1
	for i, e := range events {
		switch {
		case e.Kind == virt.EventLine && e.Name == "mux_s3":
			lastSelect = i
		case e.Kind == virt.EventSleep && e.Duration >= MinSettleDelay && settle < 0:
			settle = i
		}
	}
	require.GreaterOrEqual(t, lastSelect, 0)
	assert.Greater(t, settle, lastSelect)
}

func TestWithSettleDelay_Clamped(t *testing.T) {
	t.Parallel()

	s, _ := newVirtualSampler(t, WithSettleDelay(10*time.Microsecond))
	assert.Equal(t, MinSettleDelay, s.SettleDelay())

	s, _ = newVirtualSampler(t, WithSettleDelay(200*time.Microsecond))
	assert.Equal(t, 200*time.Microsecond, s.SettleDelay())
}

func TestConvert_ReleasesSelectOnFailure(t *testing.T) {
	t.Parallel()

	s, fe := newVirtualSampler(t)
	fe.FailDirect(4, virt.ErrInjected)

	_, err := s.Convert(4)
	require.ErrorIs(t, err, daq.ErrBusTransaction)
	require.ErrorIs(t, err, virt.ErrInjected)
	assert.Equal(t, gpio.High, fe.CS.Level())
}

func TestConvert_OutOfRange(t *testing.T) {
	t.Parallel()

	s, _ := newVirtualSampler(t)
	_, err := s.Convert(8)
	require.Error(t, err)
	_, err = s.ReadMux(16)
	require.Error(t, err)
	_, err = s.ReadChannel(context.Background(), daq.NumChannels)
	require.Error(t, err)
}

func TestRead_PartialFailureReportsEveryChannel(t *testing.T) {
	t.Parallel()

	s, fe := newVirtualSampler(t)
	fe.SetVector(daq.ReadingVector{0: 11, 22: 99})
	fe.FailDirect(3, virt.ErrInjected)
	fe.FailMux(5, virt.ErrInjected)

	got, err := s.Read(context.Background())

	var se *daq.SampleError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, []int{daq.DirectIndex(3), daq.MuxIndex(5)}, se.Channels())
	require.ErrorIs(t, err, virt.ErrInjected)
	assert.False(t, daq.IsFatal(err))

	// Healthy channels were still converted. The failed entries read zero,
	// which is why the whole cycle is reported instead of published.
	assert.Equal(t, daq.NumChannels-2, fe.Conversions())
	assert.Equal(t, uint16(11), got[0])
	assert.Equal(t, uint16(99), got[22])
	assert.Empty(t, fe.Violations())
}

func TestReadMux_SelectLineFailure(t *testing.T) {
	t.Parallel()

	s, fe := newVirtualSampler(t)
	fe.MuxSelect[2].FailNext(virt.ErrInjected)

	_, err := s.ReadMux(4)
	require.ErrorIs(t, err, daq.ErrBusTransaction)
	assert.Equal(t, gpio.High, fe.MuxEnable.Level())
	assert.Zero(t, fe.Conversions())
}

func TestReadChannel(t *testing.T) {
	t.Parallel()

	s, fe := newVirtualSampler(t)
	fe.SetDirect(7, 0x777)
	fe.SetMux(0, 0x0F0)

	v, err := s.ReadChannel(context.Background(), daq.DirectIndex(7))
	require.NoError(t, err)
	assert.Equal(t, uint16(0x777), v)

	v, err = s.ReadChannel(context.Background(), daq.MuxIndex(0))
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0F0), v)
}

func TestRead_Cancelled(t *testing.T) {
	t.Parallel()

	s, fe := newVirtualSampler(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Read(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, fe.Conversions())
}
