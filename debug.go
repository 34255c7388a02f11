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
	"fmt"
	"os"
	"time"
)

// debugEnabled mirrors debug lines to stdout. The session log gets them
// regardless.
var debugEnabled = debugFromEnv()

// debugFromEnv reads DAQ_DEBUG, falling back to the generic DEBUG.
func debugFromEnv() bool {
	return os.Getenv("DAQ_DEBUG") != "" || os.Getenv("DEBUG") != ""
}

// SetDebugEnabled turns stdout debug output on or off.
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// DebugEnabled reports whether stdout debug output is on.
func DebugEnabled() bool {
	return debugEnabled
}

// Debugf logs a node-level debug line.
func Debugf(format string, args ...any) {
	emitDebug("", fmt.Sprintf(format, args...))
}

// Debugln logs a node-level debug line built like fmt.Sprint.
func Debugln(args ...any) {
	emitDebug("", fmt.Sprint(args...))
}

// DeviceDebug tags debug lines with the device or component that produced
// them, the same name its wire trace carries:
//
//	var debug = daq.DeviceDebug("mcp2515")
//	debug.Printf("normal mode at %s", rate)
//
// writes "DEBUG [mcp2515]: normal mode at 500kHz".
type DeviceDebug string

// Printf logs one tagged debug line.
func (d DeviceDebug) Printf(format string, args ...any) {
	emitDebug(string(d), fmt.Sprintf(format, args...))
}

func emitDebug(device, message string) {
	tag := "DEBUG"
	if device != "" {
		tag = "DEBUG [" + device + "]"
	}

	sessionLogMu.Lock()
	if sessionLogWriter != nil {
		_, _ = fmt.Fprintf(sessionLogWriter, "%s %s: %s\n", time.Now().Format("15:04:05.000"), tag, message)
	}
	sessionLogMu.Unlock()

	if debugEnabled {
		_, _ = fmt.Printf("%s: %s\n", tag, message)
	}
}
