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
Storage Configuration for FlyStream.

CONFIGURATION OPTIONS:
======================
- MaxStoreBytes: Size of a segment data file at which the segment is sealed
- MaxMessages: Message count at which the segment is sealed (0 = no limit)
- IndexInitialBytes: Initial pre-allocation of each index file
*/
package storage

// Config holds the segment configuration shared by every partition.
type Config struct {
	Segment SegmentConfig
}

// SegmentConfig holds configuration for log segments.
type SegmentConfig struct {
	// MaxStoreBytes is the data file size that seals a segment. Default: 1GB.
	MaxStoreBytes uint64

	// MaxMessages is the message count that seals a segment. 0 disables the
	// count limit.
	MaxMessages uint64

	// IndexInitialBytes is the initial size of the memory-mapped index.
	// The index grows on demand. Default: 1MB.
	IndexInitialBytes uint64
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.Segment.MaxStoreBytes == 0 {
		c.Segment.MaxStoreBytes = 1 << 30
	}
	if c.Segment.IndexInitialBytes == 0 {
		c.Segment.IndexInitialBytes = 1 << 20
	}
	return c
}
