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

import (
	"bytes"
	"fmt"

	"flystream/internal/compression"
	"flystream/internal/crypto"
)

const (
	// FlagEncrypted marks a payload sealed by the partition's encryptor.
	FlagEncrypted byte = 0x01

	compressionShift = 4
)

// CompressionOf returns the compression type recorded in flags.
func CompressionOf(flags byte) compression.Type {
	return compression.Type(flags >> compressionShift)
}

// PayloadCodec transforms payloads on their way to and from storage.
// Payloads are compressed first and then encrypted. Decoding looks only at
// the record's flags, so a codec can always read what an earlier
// configuration wrote as long as the key is unchanged.
type PayloadCodec struct {
	compressor compression.Compressor
	minSize    int
	encryptor  crypto.Encryptor

	decompressors map[compression.Type]compression.Compressor
}

// NewPayloadCodec creates a codec. A nil compressor disables compression; a
// nil encryptor disables encryption. Payloads shorter than minSize are
// stored uncompressed.
func NewPayloadCodec(c compression.Compressor, minSize int, e crypto.Encryptor) (*PayloadCodec, error) {
	if c == nil {
		c = compression.Noop{}
	}
	pc := &PayloadCodec{
		compressor:    c,
		minSize:       minSize,
		encryptor:     e,
		decompressors: make(map[compression.Type]compression.Compressor),
	}
	for _, t := range []compression.Type{compression.Gzip, compression.LZ4, compression.Snappy, compression.Zstd} {
		if t == c.Type() {
			pc.decompressors[t] = c
			continue
		}
		d, err := compression.New(t, 0)
		if err != nil {
			return nil, err
		}
		pc.decompressors[t] = d
	}
	return pc, nil
}

// Encrypted reports whether new payloads are encrypted.
func (pc *PayloadCodec) Encrypted() bool { return pc != nil && pc.encryptor != nil }

// Encode returns the stored form of payload and the flags describing it.
// The result never shares memory with payload.
func (pc *PayloadCodec) Encode(payload []byte) ([]byte, byte, error) {
	if pc == nil {
		return bytes.Clone(payload), 0, nil
	}
	var flags byte
	out := payload
	if t := pc.compressor.Type(); t != compression.None && len(payload) >= pc.minSize {
		compressed, err := pc.compressor.Compress(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("compress payload: %w", err)
		}
		if len(compressed) < len(payload) {
			out = compressed
			flags |= byte(t) << compressionShift
		}
	}
	if pc.encryptor != nil {
		sealed, err := pc.encryptor.Encrypt(out)
		if err != nil {
			return nil, 0, fmt.Errorf("encrypt payload: %w", err)
		}
		out = sealed
		flags |= FlagEncrypted
	}
	if flags == 0 {
		out = bytes.Clone(payload)
	}
	return out, flags, nil
}

// Decode reverses Encode for a payload stored with flags.
func (pc *PayloadCodec) Decode(stored []byte, flags byte) ([]byte, error) {
	out := stored
	if flags&FlagEncrypted != 0 {
		if pc == nil || pc.encryptor == nil {
			return nil, fmt.Errorf("%w: payload is encrypted and no key is configured", ErrReadFailed)
		}
		plain, err := pc.encryptor.Decrypt(out)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrReadFailed, err)
		}
		out = plain
	}
	if t := CompressionOf(flags); t != compression.None {
		var d compression.Compressor
		if pc != nil {
			d = pc.decompressors[t]
		}
		if d == nil {
			var err error
			if d, err = compression.New(t, 0); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrReadFailed, err)
			}
		}
		plain, err := d.Decompress(out)
		if err != nil {
			return nil, fmt.Errorf("%w: decompress %s: %v", ErrReadFailed, t, err)
		}
		out = plain
	}
	return out, nil
}

// DecodeMessage returns a copy of m with its payload in plain form. The
// copy shares no memory with m.
func (pc *PayloadCodec) DecodeMessage(m *Message) (*Message, error) {
	if m.Flags == 0 {
		return m.Clone(), nil
	}
	payload, err := pc.Decode(m.Payload, m.Flags)
	if err != nil {
		return nil, fmt.Errorf("offset %d: %w", m.Offset, err)
	}
	c := m.withPayload(payload)
	c.Flags = 0
	return c, nil
}
