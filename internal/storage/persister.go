/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Persister is the durability strategy used to write raw bytes to segment files.

STRATEGIES:
===========
  - FilePersister: writes go straight to the OS file handle and rely on the
    page cache being flushed by the kernel. Fastest; a power loss can drop
    acknowledged writes.
  - FsyncPersister: every write is followed by a synchronous flush to stable
    storage (fdatasync on Linux). An append is only acknowledged after the
    flush returns; a flush failure is surfaced, never retried.

The strategy is chosen once per process from partition.enforce_fsync and
shared by every segment. Both implementations are stateless and safe for
concurrent use as long as each file has a single writer, which the owning
partition guarantees.
*/
package storage

import (
	"fmt"
	"os"
)

// Persister writes raw bytes to segment files.
type Persister interface {
	// Append writes p at the end of f.
	Append(f *os.File, p []byte) error
	// Sync makes previously appended bytes of f durable according to the
	// strategy. Used when sealing a segment.
	Sync(f *os.File) error
	// Delete removes the file at path.
	Delete(path string) error
	// Name identifies the strategy in logs.
	Name() string
}

// NewPersister returns the strategy selected by enforceFsync.
func NewPersister(enforceFsync bool) Persister {
	if enforceFsync {
		return FsyncPersister{}
	}
	return FilePersister{}
}

// FilePersister writes to the OS file handle without forcing a flush.
type FilePersister struct{}

// Append writes p to f.
func (FilePersister) Append(f *os.File, p []byte) error {
	return writeAll(f, p)
}

// Sync is a no-op: the kernel decides when buffered pages reach disk.
func (FilePersister) Sync(*os.File) error { return nil }

// Delete removes the file.
func (FilePersister) Delete(path string) error { return os.Remove(path) }

// Name returns "buffered".
func (FilePersister) Name() string { return "buffered" }

// FsyncPersister writes to the file and flushes it to stable storage before
// returning.
type FsyncPersister struct{}

// Append writes p to f and flushes it.
func (FsyncPersister) Append(f *os.File, p []byte) error {
	if err := writeAll(f, p); err != nil {
		return err
	}
	if err := syncData(f); err != nil {
		return fmt.Errorf("fsync %s: %w", f.Name(), err)
	}
	return nil
}

// Sync flushes f to stable storage.
func (FsyncPersister) Sync(f *os.File) error {
	return syncData(f)
}

// Delete removes the file.
func (FsyncPersister) Delete(path string) error { return os.Remove(path) }

// Name returns "fsync".
func (FsyncPersister) Name() string { return "fsync" }

func writeAll(f *os.File, p []byte) error {
	n, err := f.Write(p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return fmt.Errorf("short write to %s: %d of %d bytes", f.Name(), n, len(p))
	}
	return nil
}
