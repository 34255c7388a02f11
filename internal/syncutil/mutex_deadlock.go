//go:build deadlock

// Package syncutil holds the lock types shared by the node: plain sync locks
// by default, go-deadlock tracked locks with -tags=deadlock.
package syncutil

import (
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
)

// Detecting reports whether lock tracking is compiled in.
const Detecting = true

func init() {
	// Any lock held across more than a few acquisition cycles is reported.
	deadlock.Opts.DeadlockTimeout = 5 * time.Second
}

// Mutex is a tracked mutex.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex is a tracked reader/writer lock.
type RWMutex struct {
	deadlock.RWMutex
}
