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

package storage

import "errors"

// Errors returned by the storage layer. Callers classify failures with
// errors.Is; the wrapped message carries the segment or file involved.
var (
	// ErrOffsetOutOfRange is returned when an offset is not retained by a
	// segment or lies outside the range a read or commit may address.
	ErrOffsetOutOfRange = errors.New("offset out of range")

	// ErrWriteFailed wraps any I/O failure on the append or persist path.
	ErrWriteFailed = errors.New("write failed")

	// ErrReadFailed wraps any I/O failure while reading segment data.
	ErrReadFailed = errors.New("read failed")

	// ErrCorruptState is returned when recovery finds segment data that
	// cannot be reconciled with the offset sequence.
	ErrCorruptState = errors.New("corrupt state")

	// ErrSegmentSealed is returned when appending to a sealed segment.
	ErrSegmentSealed = errors.New("segment is sealed")

	// errTornRecord marks a record cut short by a crash mid-write.
	errTornRecord = errors.New("torn record")

	// errChecksumMismatch marks a record whose body fails its CRC.
	errChecksumMismatch = errors.New("checksum mismatch")
)
