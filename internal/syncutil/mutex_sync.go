//go:build !deadlock

// Package syncutil holds the lock types shared by the node: plain sync locks
// by default, go-deadlock tracked locks with -tags=deadlock.
package syncutil

import "sync"

// Detecting reports whether lock tracking is compiled in.
const Detecting = false

// Mutex guards the snapshot store, the session log and the virtual devices.
//
//nolint:gocritic // Embedded so callers use Lock/Unlock directly
type Mutex struct {
	sync.Mutex
}

// RWMutex lets readers copy the latest snapshot while the sampler publishes.
//
//nolint:gocritic // Embedded so callers use Lock/Unlock directly
type RWMutex struct {
	sync.RWMutex
}
