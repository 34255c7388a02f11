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

// Package storage is a directory-backed log medium: append-only text files
// under one mount directory.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	daq "github.com/ZaparooProject/go-daqnode"
	"github.com/ZaparooProject/go-daqnode/internal/syncutil"
)

var debug = daq.DeviceDebug("storage")

// ErrNotMounted is returned by operations on an unmounted medium.
var ErrNotMounted = errors.New("storage not mounted")

// Dir keeps one append handle per file open between calls so each line is a
// single write.
type Dir struct {
	files   map[string]*os.File
	path    string
	mu      syncutil.Mutex
	mounted bool
}

// Mount prepares dir as the log medium, creating it if needed.
func Mount(dir string) (*Dir, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mount %s: %w", dir, err)
	}

	d := &Dir{
		path:    dir,
		files:   make(map[string]*os.File),
		mounted: true,
	}

	if free, ok := freeBytes(dir); ok {
		debug.Printf("mounted %s (%d MiB free)", dir, free>>20)
	} else {
		debug.Printf("mounted %s", dir)
	}
	return d, nil
}

// Path returns the mount directory.
func (d *Dir) Path() string {
	return d.path
}

// FreeBytes reports the space available to the logger, when the platform can
// tell.
func (d *Dir) FreeBytes() (uint64, bool) {
	return freeBytes(d.path)
}

// AppendLine appends line and a newline to name.
func (d *Dir) AppendLine(name, line string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.mounted {
		return ErrNotMounted
	}

	f, err := d.open(name)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// open returns the cached append handle for name. A handle whose file is no
// longer reachable at its path is closed and replaced, otherwise writes would
// land in an unlinked inode.
func (d *Dir) open(name string) (*os.File, error) {
	if f, ok := d.files[name]; ok {
		if sameFile(f, filepath.Join(d.path, name)) {
			return f, nil
		}
		debug.Printf("%s vanished from %s, reopening", name, d.path)
		_ = f.Close()
		delete(d.files, name)
	}
	if name == "" || filepath.Base(name) != name {
		return nil, fmt.Errorf("invalid log name %q", name)
	}
	// The directory may have vanished since mount, e.g. a card re-seated.
	if err := os.MkdirAll(d.path, 0o755); err != nil {
		return nil, fmt.Errorf("remount %s: %w", d.path, err)
	}
	f, err := os.OpenFile(filepath.Join(d.path, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // name is validated above
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	d.files[name] = f
	return f, nil
}

func sameFile(f *os.File, path string) bool {
	open, err := f.Stat()
	if err != nil {
		return false
	}
	onDisk, err := os.Stat(path)
	if err != nil {
		return false
	}
	return os.SameFile(open, onDisk)
}

// Files lists the regular files on the medium, sorted.
func (d *Dir) Files() ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.mounted {
		return nil, ErrNotMounted
	}

	entries, err := os.ReadDir(d.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", d.path, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Unmount syncs and closes every open file. All files are attempted; the
// errors are joined.
func (d *Dir) Unmount() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.mounted {
		return ErrNotMounted
	}
	d.mounted = false

	var errs []error
	for name, f := range d.files {
		if err := f.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync %s: %w", name, err))
		}
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(d.files, name)
	}
	return errors.Join(errs...)
}

var _ daq.Storage = (*Dir)(nil)
