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

package metastore

import (
	"github.com/hamba/avro/v2"
)

// Records are encoded with Avro. Integer identifiers use int/long because
// Avro has no unsigned types; the conversion happens at the package boundary.

// StreamRecord describes a stream.
type StreamRecord struct {
	ID        int32  `avro:"id"`
	Name      string `avro:"name"`
	CreatedAt int64  `avro:"created_at"`
}

// TopicRecord describes a topic of a stream.
type TopicRecord struct {
	StreamID   int32  `avro:"stream_id"`
	ID         int32  `avro:"id"`
	Name       string `avro:"name"`
	Partitions int32  `avro:"partitions"`
	CreatedAt  int64  `avro:"created_at"`
}

// ConsumerGroupRecord describes a consumer group of a topic.
type ConsumerGroupRecord struct {
	StreamID int32  `avro:"stream_id"`
	TopicID  int32  `avro:"topic_id"`
	ID       int32  `avro:"id"`
	Name     string `avro:"name"`
}

// StreamPermissionsRecord scopes permission bits to one stream.
type StreamPermissionsRecord struct {
	StreamID int32 `avro:"stream_id"`
	Bits     int64 `avro:"bits"`
}

// UserRecord describes a user.
type UserRecord struct {
	ID           int32                     `avro:"id"`
	Username     string                    `avro:"username"`
	PasswordHash string                    `avro:"password_hash"`
	Active       bool                      `avro:"active"`
	Global       int64                     `avro:"global"`
	Streams      []StreamPermissionsRecord `avro:"streams"`
	CreatedAt    int64                     `avro:"created_at"`
}

var (
	streamSchema = avro.MustParse(`{
		"type": "record", "name": "Stream", "namespace": "flystream.metastore",
		"fields": [
			{"name": "id", "type": "int"},
			{"name": "name", "type": "string"},
			{"name": "created_at", "type": "long"}
		]}`)

	topicSchema = avro.MustParse(`{
		"type": "record", "name": "Topic", "namespace": "flystream.metastore",
		"fields": [
			{"name": "stream_id", "type": "int"},
			{"name": "id", "type": "int"},
			{"name": "name", "type": "string"},
			{"name": "partitions", "type": "int"},
			{"name": "created_at", "type": "long"}
		]}`)

	consumerGroupSchema = avro.MustParse(`{
		"type": "record", "name": "ConsumerGroup", "namespace": "flystream.metastore",
		"fields": [
			{"name": "stream_id", "type": "int"},
			{"name": "topic_id", "type": "int"},
			{"name": "id", "type": "int"},
			{"name": "name", "type": "string"}
		]}`)

	userSchema = avro.MustParse(`{
		"type": "record", "name": "User", "namespace": "flystream.metastore",
		"fields": [
			{"name": "id", "type": "int"},
			{"name": "username", "type": "string"},
			{"name": "password_hash", "type": "string"},
			{"name": "active", "type": "boolean"},
			{"name": "global", "type": "long"},
			{"name": "streams", "type": {"type": "array", "items": {
				"type": "record", "name": "StreamPermissions",
				"fields": [
					{"name": "stream_id", "type": "int"},
					{"name": "bits", "type": "long"}
				]}}},
			{"name": "created_at", "type": "long"}
		]}`)
)
