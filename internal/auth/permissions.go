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

package auth

import (
	"sort"
	"strings"
)

// Permission is a set of capabilities. Permissions are granted globally or
// per stream and combined with bitwise or.
type Permission uint64

const (
	PermissionReadStreams Permission = 1 << iota
	PermissionManageStreams
	PermissionReadTopics
	PermissionManageTopics
	PermissionPollMessages
	PermissionSendMessages
	PermissionReadUsers
	PermissionManageUsers

	// PermissionAll grants every capability.
	PermissionAll = PermissionReadStreams | PermissionManageStreams |
		PermissionReadTopics | PermissionManageTopics |
		PermissionPollMessages | PermissionSendMessages |
		PermissionReadUsers | PermissionManageUsers
)

var permissionNames = map[Permission]string{
	PermissionReadStreams:   "read_streams",
	PermissionManageStreams: "manage_streams",
	PermissionReadTopics:    "read_topics",
	PermissionManageTopics:  "manage_topics",
	PermissionPollMessages:  "poll_messages",
	PermissionSendMessages:  "send_messages",
	PermissionReadUsers:     "read_users",
	PermissionManageUsers:   "manage_users",
}

// Has reports whether p contains every bit of other.
func (p Permission) Has(other Permission) bool {
	return p&other == other
}

func (p Permission) String() string {
	if p == 0 {
		return "none"
	}
	var names []string
	for bit, name := range permissionNames {
		if p&bit != 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// Role is a named permission set used when creating users.
type Role struct {
	Name        string
	Permissions Permission
	Description string
}

// DefaultRoles defines the built-in roles.
var DefaultRoles = map[string]*Role{
	"admin": {
		Name:        "admin",
		Permissions: PermissionAll,
		Description: "Full access to all operations",
	},
	"producer": {
		Name:        "producer",
		Permissions: PermissionReadStreams | PermissionReadTopics | PermissionSendMessages,
		Description: "Append messages",
	},
	"consumer": {
		Name:        "consumer",
		Permissions: PermissionReadStreams | PermissionReadTopics | PermissionPollMessages,
		Description: "Poll messages and commit offsets",
	},
	"guest": {
		Name:        "guest",
		Permissions: PermissionReadStreams | PermissionReadTopics,
		Description: "List streams and topics",
	},
}

// RolePermissions returns the union of the permissions of the named roles.
// Unknown roles are ignored.
func RolePermissions(roles ...string) Permission {
	var p Permission
	for _, r := range roles {
		if role, ok := DefaultRoles[r]; ok {
			p |= role.Permissions
		}
	}
	return p
}
