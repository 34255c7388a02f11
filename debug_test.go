//nolint:paralleltest // Tests modify package-level debug state, cannot run in parallel
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
	"bytes"
	"io"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// saveDebugState saves the current debug state for restoration.
func saveDebugState() (enabled bool, writer io.Writer) {
	return debugEnabled, sessionLogWriter
}

// useBuffer routes the session log into a buffer for the duration of t.
func useBuffer(t *testing.T) *bytes.Buffer {
	t.Helper()
	origEnabled, origWriter := saveDebugState()
	t.Cleanup(func() {
		debugEnabled = origEnabled
		sessionLogWriter = origWriter
	})

	var buf bytes.Buffer
	sessionLogWriter = &buf
	debugEnabled = false
	return &buf
}

func TestDebugf_WritesToSessionLog(t *testing.T) {
	buf := useBuffer(t)

	Debugf("sample cycle %d", 42)

	content := buf.String()
	assert.Contains(t, content, "DEBUG: sample cycle 42")
	assert.True(t, strings.HasSuffix(content, "\n"))
}

func TestDebugf_IncludesTimestamp(t *testing.T) {
	buf := useBuffer(t)

	Debugf("tick")

	matched, err := regexp.MatchString(`^\d{2}:\d{2}:\d{2}\.\d{3} DEBUG:`, buf.String())
	require.NoError(t, err)
	assert.True(t, matched, "Should include timestamp in format HH:MM:SS.mmm, got: %s", buf.String())
}

func TestDebugf_NilSessionWriter(t *testing.T) {
	origEnabled, origWriter := saveDebugState()
	t.Cleanup(func() {
		debugEnabled = origEnabled
		sessionLogWriter = origWriter
	})

	sessionLogWriter = nil
	debugEnabled = false

	assert.NotPanics(t, func() {
		Debugf("dropped %d", 1)
		Debugln("dropped", 2)
	})
}

func TestDebugln_WritesToSessionLog(t *testing.T) {
	buf := useBuffer(t)

	Debugln("value1", 42, "value2", true)

	// fmt.Sprint concatenates without spaces next to strings
	assert.Contains(t, buf.String(), "DEBUG: value142value2true")
}

func TestDebugf_MultipleMessages(t *testing.T) {
	buf := useBuffer(t)

	Debugf("message 1")
	Debugf("message 2")
	Debugf("message 3")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "message 1")
	assert.Contains(t, lines[1], "message 2")
	assert.Contains(t, lines[2], "message 3")
}

func TestSetDebugEnabled(t *testing.T) {
	origEnabled, origWriter := saveDebugState()
	t.Cleanup(func() {
		debugEnabled = origEnabled
		sessionLogWriter = origWriter
	})

	SetDebugEnabled(true)
	assert.True(t, DebugEnabled())

	SetDebugEnabled(false)
	assert.False(t, DebugEnabled())
}

func TestDeviceDebug_TagsLine(t *testing.T) {
	buf := useBuffer(t)

	DeviceDebug("mcp2515").Printf("normal mode at %s", "500kHz")
	Debugf("untagged")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Regexp(t, `^\d{2}:\d{2}:\d{2}\.\d{3} DEBUG \[mcp2515\]: normal mode at 500kHz$`, lines[0])
	assert.Regexp(t, `^\d{2}:\d{2}:\d{2}\.\d{3} DEBUG: untagged$`, lines[1])
}
