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
Package metastore persists FlyStream's metadata in an embedded LevelDB.

CONTENTS:
=========
- version: storage format version written on first start
- streams, topics, consumer groups: Avro-encoded records
- users: Avro-encoded records with password hashes and permissions
- consumer offsets: 8-byte big-endian values

KEY LAYOUT:
===========
Identifiers are zero-padded so that prefix iteration returns children in
id order:

	version
	streams/{stream:010}
	topics/{stream:010}/{topic:010}
	groups/{stream:010}/{topic:010}/{group:010}
	offsets/{stream:010}/{topic:010}/{kind}/{consumer:010}/{partition:010}
	users/{user:010}

Deleting a stream or topic removes every key below it in one batch.
*/
package metastore

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hamba/avro/v2"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("metastore: not found")

var versionKey = []byte("version")

// ConsumerKind distinguishes single consumers from consumer groups in
// offset keys.
type ConsumerKind uint8

const (
	ConsumerSingle ConsumerKind = 1
	ConsumerGroup  ConsumerKind = 2
)

// OffsetKey identifies one stored consumer offset.
type OffsetKey struct {
	StreamID    uint32
	TopicID     uint32
	Kind        ConsumerKind
	ConsumerID  uint32
	PartitionID uint32
}

func (k OffsetKey) bytes() []byte {
	return []byte(fmt.Sprintf("offsets/%010d/%010d/%d/%010d/%010d",
		k.StreamID, k.TopicID, k.Kind, k.ConsumerID, k.PartitionID))
}

func streamKey(id uint32) []byte { return []byte(fmt.Sprintf("streams/%010d", id)) }

func topicKey(streamID, topicID uint32) []byte {
	return []byte(fmt.Sprintf("topics/%010d/%010d", streamID, topicID))
}

func groupKey(streamID, topicID, groupID uint32) []byte {
	return []byte(fmt.Sprintf("groups/%010d/%010d/%010d", streamID, topicID, groupID))
}

func userKey(id uint32) []byte { return []byte(fmt.Sprintf("users/%010d", id)) }

// Store is the metadata store. It is safe for concurrent use.
type Store struct {
	db    *leveldb.DB
	write *opt.WriteOptions
}

// Open opens or creates the store in dir. With syncWrites every write is
// flushed to stable storage before it returns.
func Open(dir string, syncWrites bool) (*Store, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("open metastore %s: %w", dir, err)
	}
	return &Store{db: db, write: &opt.WriteOptions{Sync: syncWrites}}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) get(key []byte) ([]byte, error) {
	v, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return v, err
}

func (s *Store) put(key []byte, schema avro.Schema, v interface{}) error {
	data, err := avro.Marshal(schema, v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.db.Put(key, data, s.write)
}

// scan decodes every value under prefix. newItem returns the value to decode
// into and is called once per key.
func (s *Store) scan(prefix string, schema avro.Schema, newItem func() interface{}) error {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	for iter.Next() {
		if err := avro.Unmarshal(schema, iter.Value(), newItem()); err != nil {
			return fmt.Errorf("decode %s: %w", iter.Key(), err)
		}
	}
	return iter.Error()
}

// deletePrefixes removes every key under the given prefixes, plus extra
// keys, in a single batch.
func (s *Store) deletePrefixes(prefixes []string, extra ...[]byte) error {
	batch := new(leveldb.Batch)
	for _, p := range prefixes {
		iter := s.db.NewIterator(util.BytesPrefix([]byte(p)), nil)
		for iter.Next() {
			batch.Delete(append([]byte(nil), iter.Key()...))
		}
		iter.Release()
		if err := iter.Error(); err != nil {
			return err
		}
	}
	for _, k := range extra {
		batch.Delete(k)
	}
	return s.db.Write(batch, s.write)
}

// Version returns the stored format version.
func (s *Store) Version() (string, error) {
	v, err := s.get(versionKey)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// SetVersion stores the format version.
func (s *Store) SetVersion(v string) error {
	return s.db.Put(versionKey, []byte(v), s.write)
}

// SaveStream creates or replaces a stream record.
func (s *Store) SaveStream(r StreamRecord) error {
	return s.put(streamKey(uint32(r.ID)), streamSchema, &r)
}

// Streams returns every stream record in id order.
func (s *Store) Streams() ([]StreamRecord, error) {
	var out []StreamRecord
	err := s.scan("streams/", streamSchema, func() interface{} {
		out = append(out, StreamRecord{})
		return &out[len(out)-1]
	})
	return out, err
}

// DeleteStream removes a stream with all its topics, groups and offsets.
func (s *Store) DeleteStream(id uint32) error {
	p := fmt.Sprintf("%010d/", id)
	return s.deletePrefixes([]string{"topics/" + p, "groups/" + p, "offsets/" + p}, streamKey(id))
}

// SaveTopic creates or replaces a topic record.
func (s *Store) SaveTopic(r TopicRecord) error {
	return s.put(topicKey(uint32(r.StreamID), uint32(r.ID)), topicSchema, &r)
}

// Topics returns the topic records of a stream in id order.
func (s *Store) Topics(streamID uint32) ([]TopicRecord, error) {
	var out []TopicRecord
	err := s.scan(fmt.Sprintf("topics/%010d/", streamID), topicSchema, func() interface{} {
		out = append(out, TopicRecord{})
		return &out[len(out)-1]
	})
	return out, err
}

// DeleteTopic removes a topic with its groups and offsets.
func (s *Store) DeleteTopic(streamID, topicID uint32) error {
	p := fmt.Sprintf("%010d/%010d/", streamID, topicID)
	return s.deletePrefixes([]string{"groups/" + p, "offsets/" + p}, topicKey(streamID, topicID))
}

// SaveConsumerGroup creates or replaces a consumer group record.
func (s *Store) SaveConsumerGroup(r ConsumerGroupRecord) error {
	return s.put(groupKey(uint32(r.StreamID), uint32(r.TopicID), uint32(r.ID)), consumerGroupSchema, &r)
}

// ConsumerGroups returns the groups of a topic in id order.
func (s *Store) ConsumerGroups(streamID, topicID uint32) ([]ConsumerGroupRecord, error) {
	var out []ConsumerGroupRecord
	err := s.scan(fmt.Sprintf("groups/%010d/%010d/", streamID, topicID), consumerGroupSchema, func() interface{} {
		out = append(out, ConsumerGroupRecord{})
		return &out[len(out)-1]
	})
	return out, err
}

// DeleteConsumerGroup removes a group and its stored offsets.
func (s *Store) DeleteConsumerGroup(streamID, topicID, groupID uint32) error {
	p := fmt.Sprintf("offsets/%010d/%010d/%d/%010d/", streamID, topicID, ConsumerGroup, groupID)
	return s.deletePrefixes([]string{p}, groupKey(streamID, topicID, groupID))
}

// StoreOffset stores a consumer offset.
func (s *Store) StoreOffset(k OffsetKey, offset uint64) error {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], offset)
	return s.db.Put(k.bytes(), v[:], s.write)
}

// Offset returns a stored consumer offset.
func (s *Store) Offset(k OffsetKey) (uint64, error) {
	v, err := s.get(k.bytes())
	if err != nil {
		return 0, err
	}
	if len(v) != 8 {
		return 0, fmt.Errorf("metastore: offset %s has %d bytes", k.bytes(), len(v))
	}
	return binary.BigEndian.Uint64(v), nil
}

// DeleteTopicOffsets removes the stored offsets of a topic. When partitions
// is not empty only offsets of those partitions are removed.
func (s *Store) DeleteTopicOffsets(streamID, topicID uint32, partitions ...uint32) error {
	prefix := []byte(fmt.Sprintf("offsets/%010d/%010d/", streamID, topicID))
	suffixes := make(map[string]struct{}, len(partitions))
	for _, p := range partitions {
		suffixes[fmt.Sprintf("/%010d", p)] = struct{}{}
	}

	batch := new(leveldb.Batch)
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	for iter.Next() {
		key := iter.Key()
		if len(suffixes) > 0 {
			if _, ok := suffixes[string(key[len(key)-11:])]; !ok {
				continue
			}
		}
		batch.Delete(append([]byte(nil), key...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}
	return s.db.Write(batch, s.write)
}

// SaveUser creates or replaces a user record.
func (s *Store) SaveUser(r UserRecord) error {
	return s.put(userKey(uint32(r.ID)), userSchema, &r)
}

// Users returns every user record in id order.
func (s *Store) Users() ([]UserRecord, error) {
	var out []UserRecord
	err := s.scan("users/", userSchema, func() interface{} {
		out = append(out, UserRecord{})
		return &out[len(out)-1]
	})
	return out, err
}

// DeleteUser removes a user record.
func (s *Store) DeleteUser(id uint32) error {
	return s.db.Delete(userKey(id), s.write)
}
