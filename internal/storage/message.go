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
Message defines the immutable record stored in a partition's log and its
on-disk encoding.

RECORD FORMAT:
==============
Each message is stored as one record inside the store's length-prefixed
framing (see store.go). The record body is:

	+-----------+----------+-------------+----------------+-----------+
	| CRC32 (4) | Flags (1)| Offset (8)  | Timestamp (8)  | ID (16)   |
	+-----------+----------+-------------+----------------+-----------+
	| KeyLen (4) | Key | HeadersLen (4) | Headers | PayloadLen (4) | Payload |
	+------------+-----+----------------+---------+----------------+---------+

The CRC covers every byte after itself. Headers are encoded as a count
followed by (keyLen, key, valueLen, value) tuples in sorted key order so the
same message always encodes to the same bytes.

FLAGS:
======
The flags byte records how the payload was transformed before storage
(compression codec, encryption), so data written under one configuration
stays readable after the configuration changes. See payload.go.
*/
package storage

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"sort"

	"github.com/google/uuid"
)

const (
	crcWidth = 4
	// recordHeaderWidth is the fixed part of a record body: crc, flags,
	// offset, timestamp, id and the three length fields.
	recordHeaderWidth = crcWidth + 1 + 8 + 8 + 16 + 4 + 4 + 4
)

// Message is a single record in a partition's log. Messages are created on
// append and never mutated afterwards.
type Message struct {
	// Offset is the partition-relative position assigned on append.
	Offset uint64

	// Timestamp is the append time in microseconds since the Unix epoch.
	// Timestamps never decrease within a partition.
	Timestamp uint64

	// ID identifies the message independently of its position.
	ID uuid.UUID

	// Flags describes the payload transformation (see payload.go).
	Flags byte

	Key     []byte
	Headers map[string][]byte
	Payload []byte
}

// Size returns the number of bytes the message occupies on disk, including
// the store's length prefix. The cache uses the same figure for its memory
// accounting.
func (m *Message) Size() uint64 {
	return uint64(lenWidth + recordHeaderWidth + len(m.Key) + headersSize(m.Headers) + len(m.Payload))
}

// Clone returns a deep copy of m that shares no memory with it.
func (m *Message) Clone() *Message {
	return m.withPayload(bytes.Clone(m.Payload))
}

// withPayload returns a copy of m with its own key and headers and the given
// payload.
func (m *Message) withPayload(payload []byte) *Message {
	c := *m
	c.Key = bytes.Clone(m.Key)
	c.Headers = CloneHeaders(m.Headers)
	c.Payload = payload
	return &c
}

// CloneHeaders returns a copy of h whose values share no memory with h.
func CloneHeaders(h map[string][]byte) map[string][]byte {
	if h == nil {
		return nil
	}
	c := make(map[string][]byte, len(h))
	for k, v := range h {
		c[k] = bytes.Clone(v)
	}
	return c
}

func headersSize(h map[string][]byte) int {
	if len(h) == 0 {
		return 0
	}
	n := 4
	for k, v := range h {
		n += 4 + len(k) + 4 + len(v)
	}
	return n
}

// EncodeMessage encodes m into a record body ready for the store.
func EncodeMessage(m *Message) []byte {
	buf := make([]byte, m.Size()-lenWidth)
	encodeMessageTo(buf, m)
	return buf
}

// encodeMessageTo writes the record for m into buf, which must be exactly
// m.Size()-lenWidth bytes long.
func encodeMessageTo(buf []byte, m *Message) {
	p := crcWidth
	buf[p] = m.Flags
	p++
	enc.PutUint64(buf[p:], m.Offset)
	p += 8
	enc.PutUint64(buf[p:], m.Timestamp)
	p += 8
	copy(buf[p:p+16], m.ID[:])
	p += 16

	enc.PutUint32(buf[p:], uint32(len(m.Key)))
	p += 4
	p += copy(buf[p:], m.Key)

	hs := headersSize(m.Headers)
	enc.PutUint32(buf[p:], uint32(hs))
	p += 4
	if hs > 0 {
		keys := make([]string, 0, len(m.Headers))
		for k := range m.Headers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		enc.PutUint32(buf[p:], uint32(len(keys)))
		p += 4
		for _, k := range keys {
			v := m.Headers[k]
			enc.PutUint32(buf[p:], uint32(len(k)))
			p += 4
			p += copy(buf[p:], k)
			enc.PutUint32(buf[p:], uint32(len(v)))
			p += 4
			p += copy(buf[p:], v)
		}
	}

	enc.PutUint32(buf[p:], uint32(len(m.Payload)))
	p += 4
	copy(buf[p:], m.Payload)

	enc.PutUint32(buf[0:crcWidth], crc32.ChecksumIEEE(buf[crcWidth:]))
}

// DecodeMessage decodes a record body produced by EncodeMessage. The
// returned message does not alias b.
func DecodeMessage(b []byte) (*Message, error) {
	if len(b) < recordHeaderWidth {
		return nil, fmt.Errorf("%w: record of %d bytes", errTornRecord, len(b))
	}
	if crc32.ChecksumIEEE(b[crcWidth:]) != enc.Uint32(b[0:crcWidth]) {
		return nil, errChecksumMismatch
	}

	m := &Message{}
	p := crcWidth
	m.Flags = b[p]
	p++
	m.Offset = enc.Uint64(b[p:])
	p += 8
	m.Timestamp = enc.Uint64(b[p:])
	p += 8
	copy(m.ID[:], b[p:p+16])
	p += 16

	var err error
	if m.Key, p, err = readSized(b, p); err != nil {
		return nil, err
	}
	var hb []byte
	if hb, p, err = readSized(b, p); err != nil {
		return nil, err
	}
	if len(hb) > 0 {
		if m.Headers, err = decodeHeaders(hb); err != nil {
			return nil, err
		}
	}
	if m.Payload, p, err = readSized(b, p); err != nil {
		return nil, err
	}
	if p != len(b) {
		return nil, fmt.Errorf("%w: %d trailing bytes", errChecksumMismatch, len(b)-p)
	}
	return m, nil
}

func readSized(b []byte, p int) ([]byte, int, error) {
	if p+4 > len(b) {
		return nil, p, errTornRecord
	}
	n := int(enc.Uint32(b[p:]))
	p += 4
	if n < 0 || p+n > len(b) {
		return nil, p, errTornRecord
	}
	if n == 0 {
		return nil, p, nil
	}
	out := make([]byte, n)
	copy(out, b[p:p+n])
	return out, p + n, nil
}

func decodeHeaders(b []byte) (map[string][]byte, error) {
	if len(b) < 4 {
		return nil, errTornRecord
	}
	count := int(enc.Uint32(b))
	h := make(map[string][]byte, count)
	p := 4
	for i := 0; i < count; i++ {
		k, np, err := readSized(b, p)
		if err != nil {
			return nil, err
		}
		v, np, err := readSized(b, np)
		if err != nil {
			return nil, err
		}
		if v == nil {
			v = []byte{}
		}
		h[string(k)] = v
		p = np
	}
	return h, nil
}
