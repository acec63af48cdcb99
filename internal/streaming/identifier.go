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

package streaming

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"flystream/internal/metastore"
)

// Identifier addresses a stream, topic or consumer either by numeric id or by
// name. Names are unique within the parent scope.
type Identifier struct {
	ID   uint32
	Name string
}

// NumericID returns an identifier for id.
func NumericID(id uint32) Identifier { return Identifier{ID: id} }

// NamedID returns an identifier for name.
func NamedID(name string) Identifier { return Identifier{Name: name} }

// ParseIdentifier treats s as a numeric id when it is a decimal number and as
// a name otherwise.
func ParseIdentifier(s string) Identifier {
	if n, err := strconv.ParseUint(s, 10, 32); err == nil && n > 0 {
		return NumericID(uint32(n))
	}
	return NamedID(s)
}

// IsNumeric reports whether the identifier carries an id.
func (i Identifier) IsNumeric() bool { return i.Name == "" }

func (i Identifier) String() string {
	if i.IsNumeric() {
		return strconv.FormatUint(uint64(i.ID), 10)
	}
	return strconv.Quote(i.Name)
}

// resolve looks up an identifier in a scope keyed by id with a name index.
func resolve[T any](id Identifier, byID map[uint32]T, byName map[string]uint32, what string) (T, error) {
	key := id.ID
	if !id.IsNumeric() {
		n, ok := byName[id.Name]
		if !ok {
			var zero T
			return zero, fmt.Errorf("%w: %s %s", ErrNotFound, what, id)
		}
		key = n
	}
	v, ok := byID[key]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s %s", ErrNotFound, what, id)
	}
	return v, nil
}

// ConsumerKind distinguishes a single consumer from a consumer group.
type ConsumerKind = metastore.ConsumerKind

const (
	ConsumerKindSingle = metastore.ConsumerSingle
	ConsumerKindGroup  = metastore.ConsumerGroup
)

// Consumer identifies whose offset a poll or commit refers to. Single
// consumers are identified by a client-chosen numeric id; groups by the
// identifier of a consumer group of the topic.
type Consumer struct {
	Kind ConsumerKind
	ID   Identifier
}

// SingleConsumer returns a consumer with the given id.
func SingleConsumer(id uint32) Consumer {
	return Consumer{Kind: ConsumerKindSingle, ID: NumericID(id)}
}

// GroupConsumer returns the consumer group identified by id.
func GroupConsumer(id Identifier) Consumer {
	return Consumer{Kind: ConsumerKindGroup, ID: id}
}

// AppendMessage is a message submitted for append. A zero ID is replaced by
// a random UUID.
type AppendMessage struct {
	ID      uuid.UUID
	Key     []byte
	Headers map[string][]byte
	Payload []byte
}

// OffsetRange is the inclusive range of offsets assigned to an appended
// batch.
type OffsetRange struct {
	PartitionID uint32
	First       uint64
	Last        uint64
}

// Count returns the number of offsets in the range.
func (r OffsetRange) Count() uint64 { return r.Last - r.First + 1 }
