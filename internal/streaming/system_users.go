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
	"context"

	"flystream/internal/auth"
)

// Login verifies credentials and returns a session.
func (s *System) Login(ctx context.Context, username, password string) (*auth.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.meta == nil {
		return nil, ErrNotStarted
	}
	return s.users.Authenticate(username, password)
}

// CreateUser creates a user with global permissions.
func (s *System) CreateUser(ctx context.Context, session *auth.Session, username, password string,
	global auth.Permission) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.authorize(session, auth.PermissionManageUsers, 0); err != nil {
		return nil, err
	}
	u, err := s.users.CreateUser(username, password, global)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Created user", "id", u.ID, "username", username)
	return u, nil
}

// DeleteUser deletes a user. The root user cannot be deleted.
func (s *System) DeleteUser(ctx context.Context, session *auth.Session, userID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.authorize(session, auth.PermissionManageUsers, 0); err != nil {
		return err
	}
	return s.users.DeleteUser(userID)
}

// UpdatePermissions replaces a user's global and per-stream permissions.
func (s *System) UpdatePermissions(ctx context.Context, session *auth.Session, userID uint32,
	global auth.Permission, streams map[uint32]auth.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.authorize(session, auth.PermissionManageUsers, 0); err != nil {
		return err
	}
	return s.users.SetPermissions(userID, global, streams)
}

// ChangePassword replaces a user's password. Users may change their own
// password; changing another user's requires ManageUsers.
func (s *System) ChangePassword(ctx context.Context, session *auth.Session, userID uint32, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.meta == nil {
		return ErrNotStarted
	}
	if !session.IsAuthenticated() {
		return auth.ErrUnauthenticated
	}
	if session.UserID != userID {
		if err := s.authorize(session, auth.PermissionManageUsers, 0); err != nil {
			return err
		}
	}
	return s.users.UpdatePassword(userID, password)
}

// GetUsers returns every user ordered by id.
func (s *System) GetUsers(ctx context.Context, session *auth.Session) ([]*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.authorize(session, auth.PermissionReadUsers, 0); err != nil {
		return nil, err
	}
	return s.users.ListUsers(), nil
}
