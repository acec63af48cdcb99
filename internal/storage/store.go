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
Package storage implements the segment layer of the FlyStream log.

ARCHITECTURE OVERVIEW:
======================
A partition's log is a sequence of segments. The package provides:

1. Persister - Durability strategy (buffered or fsync-on-write)
2. Store - Append-only data file with length-prefixed records
3. Index - Memory-mapped offset-to-position index
4. Segment - A Store and Index pair covering a contiguous offset range
5. Log - The chain of segments holding one partition's durable data
6. Message - The record type and its binary encoding
7. PayloadCodec - Optional compression and encryption of payloads

Partitions (internal/streaming) own a Log and decide when data is flushed.

STORAGE FORMAT:
===============
Each record in the store is written as:

	+------------------+------------------+
	| Length (8 bytes) | Record (N bytes) |
	+------------------+------------------+

The 8-byte length prefix (big-endian uint64) frames the record so the file
can be scanned from the start during recovery. The record body carries its
own checksum (see message.go).

DURABILITY GUARANTEES:
======================
All writes go through the configured Persister. A batch of records is
written with a single Persister.Append call, so under the fsync strategy one
append costs one flush. A failed write truncates the file back to its size
before the batch; no partial batch survives.

CONCURRENCY MODEL:
==================
- Each store has exactly one writer: the partition holding its write lock
- Reads use ReadAt and may run concurrently with each other
- The store's RWMutex protects the size field against racing readers
*/
package storage

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

// enc is the byte order used for encoding integers.
var (
	enc = binary.BigEndian
)

// lenWidth is the size in bytes of the length prefix for each record.
const (
	lenWidth = 8
)

// Store is an append-only data file holding length-prefixed records.
//
// FILE FORMAT:
//
//	[len1][record1][len2][record2][len3][record3]...
type Store struct {
	// File is the underlying file handle, opened with O_APPEND.
	File *os.File

	mu sync.RWMutex

	persister Persister

	// size tracks the current file size (next write position).
	size uint64
}

// OpenStore opens or creates the store file at path.
func OpenStore(path string, persister Persister) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Store{
		File:      f,
		persister: persister,
		size:      uint64(fi.Size()),
	}, nil
}

// AppendBatch frames every record, writes the batch with a single persister
// call and returns the position of each record.
//
// ATOMICITY:
// If the write fails the file is truncated back to its previous size, so the
// store never keeps part of a batch.
func (s *Store) AppendBatch(records [][]byte) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, r := range records {
		total += lenWidth + len(r)
	}
	buf := make([]byte, 0, total)
	positions := make([]uint64, len(records))
	pos := s.size
	for i, r := range records {
		positions[i] = pos
		buf = enc.AppendUint64(buf, uint64(len(r)))
		buf = append(buf, r...)
		pos += uint64(lenWidth + len(r))
	}

	if err := s.persister.Append(s.File, buf); err != nil {
		if terr := s.File.Truncate(int64(s.size)); terr != nil {
			return nil, fmt.Errorf("%w: %v (rollback: %v)", ErrWriteFailed, err, terr)
		}
		return nil, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	s.size = pos
	return positions, nil
}

// Read reads the record at pos. The position must be the start of a record
// as returned by AppendBatch or recorded in the index.
func (s *Store) Read(pos uint64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if pos+lenWidth > s.size {
		return nil, io.EOF
	}
	size := make([]byte, lenWidth)
	if _, err := s.File.ReadAt(size, int64(pos)); err != nil {
		return nil, err
	}
	n := enc.Uint64(size)
	if pos+lenWidth+n > s.size {
		return nil, errTornRecord
	}
	b := make([]byte, n)
	if _, err := s.File.ReadAt(b, int64(pos+lenWidth)); err != nil {
		return nil, err
	}
	return b, nil
}

// ReadAt reads len(p) bytes from the store starting at offset off.
func (s *Store) ReadAt(p []byte, off int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.File.ReadAt(p, off)
}

// Truncate cuts the file to size bytes. Used by recovery to drop a torn
// tail.
func (s *Store) Truncate(size uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.File.Truncate(int64(size)); err != nil {
		return err
	}
	s.size = size
	return nil
}

// Sync makes the store durable according to the persister.
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persister.Sync(s.File)
}

// Size returns the current size of the store in bytes.
func (s *Store) Size() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Close flushes the file to disk and closes it. After Close, the Store should
// not be used.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.File.Sync(); err != nil {
		return err
	}
	return s.File.Close()
}

// Name returns the name of the underlying file.
func (s *Store) Name() string {
	return s.File.Name()
}
