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

import "fmt"

// Session identifies the caller of an operation.
type Session struct {
	UserID uint32
}

// NewSession returns a session for an already authenticated user.
func NewSession(userID uint32) *Session {
	return &Session{UserID: userID}
}

// IsAuthenticated reports whether the session belongs to a user.
func (s *Session) IsAuthenticated() bool {
	return s != nil && s.UserID != 0
}

// Permissioner decides whether a user may perform an action. A streamID of 0
// means the action is not scoped to a stream.
type Permissioner interface {
	Authorize(userID uint32, perm Permission, streamID uint32) error
}

// Authorizer is the Permissioner backed by a UserStore.
type Authorizer struct {
	users *UserStore
}

// NewAuthorizer returns a Permissioner that checks users' stored permissions.
func NewAuthorizer(users *UserStore) *Authorizer {
	return &Authorizer{users: users}
}

// Authorize grants perm when the user's global permissions, or its
// permissions for streamID, contain it.
func (a *Authorizer) Authorize(userID uint32, perm Permission, streamID uint32) error {
	u, ok := a.users.GetUser(userID)
	if !ok {
		return fmt.Errorf("%w: unknown user %d", ErrUnauthenticated, userID)
	}
	if !u.Enabled {
		return ErrUserDisabled
	}
	if u.Global.Has(perm) {
		return nil
	}
	if streamID != 0 && u.Streams[streamID].Has(perm) {
		return nil
	}
	return fmt.Errorf("%w: user %q lacks %s", ErrUnauthorized, u.Username, perm)
}

// AllowAll grants every request.
type AllowAll struct{}

// Authorize always returns nil.
func (AllowAll) Authorize(uint32, Permission, uint32) error { return nil }
