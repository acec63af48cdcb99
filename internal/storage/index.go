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
Index provides a memory-mapped index for offset-to-position lookups.

PURPOSE:
========
The index maps the offsets of a segment to byte positions in its store.
Offsets inside a segment are contiguous, so the entry for offset o lives at
slot (o - baseOffset) and a lookup is a single memory read.

INDEX ENTRY FORMAT:
===================
Each entry is 12 bytes:

	+---------------------------+--------------------+
	| Relative Offset (4 bytes) | Position (8 bytes) |
	+---------------------------+--------------------+

PRE-ALLOCATION AND GROWTH:
==========================
The file is pre-allocated and mapped. When the mapping fills up, the index
syncs, unmaps, doubles the file and maps it again. Growth only happens under
the owning partition's write lock, so readers never see a stale mapping.

RECOVERY:
=========
On a clean close the file is truncated to the bytes in use. After a crash the
file keeps its pre-allocated size; the used size is found by searching for the
first all-zero slot. Entry 0 of a segment is (0, 0) and is indistinguishable
from unused space, so Segment always validates the index against its store
and rebuilds it when they disagree.
*/
package storage

import (
	"io"
	"os"

	"github.com/tysonmote/gommap"
)

// Index entry dimensions.
var (
	offWidth uint64 = 4
	posWidth uint64 = 8
	entWidth        = offWidth + posWidth
)

// Index is a memory-mapped file of offset-to-position entries.
type Index struct {
	file *os.File
	mmap gommap.MMap

	// size is the number of bytes in use.
	size uint64
}

// NewIndex maps the index file f, pre-allocating it to at least initialBytes.
func NewIndex(f *os.File, initialBytes uint64) (*Index, error) {
	idx := &Index{
		file: f,
	}

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	savedSize := uint64(fi.Size())

	capacity := initialBytes - initialBytes%entWidth
	if capacity < entWidth {
		capacity = entWidth * 1024
	}
	for capacity < savedSize {
		capacity *= 2
	}
	if err := f.Truncate(int64(capacity)); err != nil {
		return nil, err
	}
	if idx.mmap, err = gommap.Map(f.Fd(), gommap.PROT_READ|gommap.PROT_WRITE, gommap.MAP_SHARED); err != nil {
		return nil, err
	}

	idx.size = idx.recoverActualSize(savedSize, capacity)
	return idx, nil
}

// recoverActualSize finds the used size after open. A file smaller than the
// mapping was closed cleanly and its size is authoritative.
func (i *Index) recoverActualSize(savedSize, capacity uint64) uint64 {
	if savedSize < capacity && savedSize%entWidth == 0 {
		return savedSize
	}

	// Binary search for the first zero entry, skipping entry 0 which is
	// legitimately all zeros.
	numEntries := uint64(len(i.mmap)) / entWidth
	low := uint64(1)
	high := numEntries
	for low < high {
		mid := (low + high) / 2
		if i.isZeroEntry(mid * entWidth) {
			high = mid
		} else {
			low = mid + 1
		}
	}
	if low == 1 && i.isZeroEntry(entWidth) {
		return 0
	}
	return low * entWidth
}

func (i *Index) isZeroEntry(pos uint64) bool {
	if pos+entWidth > uint64(len(i.mmap)) {
		return true
	}
	for j := pos; j < pos+entWidth; j++ {
		if i.mmap[j] != 0 {
			return false
		}
	}
	return true
}

// Read returns the entry at slot in, or the last entry when in is -1.
// It returns io.EOF when the slot is not in use.
func (i *Index) Read(in int64) (out uint32, pos uint64, err error) {
	if i.size == 0 {
		return 0, 0, io.EOF
	}

	var slot uint64
	if in == -1 {
		slot = i.size/entWidth - 1
	} else if in < 0 {
		return 0, 0, io.EOF
	} else {
		slot = uint64(in)
	}

	p := slot * entWidth
	if i.size < p+entWidth {
		return 0, 0, io.EOF
	}
	out = enc.Uint32(i.mmap[p : p+offWidth])
	pos = enc.Uint64(i.mmap[p+offWidth : p+entWidth])
	return out, pos, nil
}

// Write appends an entry, growing the mapping when it is full.
func (i *Index) Write(off uint32, pos uint64) error {
	if uint64(len(i.mmap)) < i.size+entWidth {
		if err := i.grow(); err != nil {
			return err
		}
	}
	enc.PutUint32(i.mmap[i.size:i.size+offWidth], off)
	enc.PutUint64(i.mmap[i.size+offWidth:i.size+entWidth], pos)
	i.size += entWidth
	return nil
}

func (i *Index) grow() error {
	capacity := uint64(len(i.mmap)) * 2
	if err := i.mmap.Sync(gommap.MS_SYNC); err != nil {
		return err
	}
	if err := i.mmap.UnsafeUnmap(); err != nil {
		return err
	}
	if err := i.file.Truncate(int64(capacity)); err != nil {
		return err
	}
	m, err := gommap.Map(i.file.Fd(), gommap.PROT_READ|gommap.PROT_WRITE, gommap.MAP_SHARED)
	if err != nil {
		return err
	}
	i.mmap = m
	return nil
}

// Reset discards entries from slot n onwards. Reset(0) empties the index.
func (i *Index) Reset(n uint64) {
	if n*entWidth >= i.size {
		return
	}
	for j := n * entWidth; j < i.size; j++ {
		i.mmap[j] = 0
	}
	i.size = n * entWidth
}

// Entries returns the number of entries in use.
func (i *Index) Entries() uint64 {
	return i.size / entWidth
}

// Sync flushes the mapping to disk.
func (i *Index) Sync() error {
	return i.mmap.Sync(gommap.MS_SYNC)
}

// Close syncs the mapping, truncates the file to the bytes in use and
// closes it.
func (i *Index) Close() error {
	if err := i.mmap.Sync(gommap.MS_SYNC); err != nil {
		return err
	}
	if err := i.mmap.UnsafeUnmap(); err != nil {
		return err
	}
	if err := i.file.Sync(); err != nil {
		return err
	}
	if err := i.file.Truncate(int64(i.size)); err != nil {
		return err
	}
	return i.file.Close()
}

// Name returns the name of the underlying file.
func (i *Index) Name() string {
	return i.file.Name()
}
