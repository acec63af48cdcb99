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

// Package auth provides users, sessions and the permission gate consulted
// before every storage operation.
package auth

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"flystream/internal/metastore"
)

// RootUserID is the id of the user created on first start.
const RootUserID uint32 = 1

// User represents a user account.
type User struct {
	ID           uint32
	Username     string
	PasswordHash string
	Enabled      bool
	Global       Permission
	Streams      map[uint32]Permission
	CreatedAt    time.Time
}

// Repository persists user records. metastore.Store implements it.
type Repository interface {
	SaveUser(metastore.UserRecord) error
	DeleteUser(id uint32) error
	Users() ([]metastore.UserRecord, error)
}

// UserStore manages user credentials and permissions.
type UserStore struct {
	mu     sync.RWMutex
	users  map[uint32]*User
	byName map[string]uint32
	nextID uint32
	repo   Repository
	cost   int
}

// NewUserStore creates a user store. A nil repository keeps users in memory
// only. cost is the bcrypt cost; 0 selects bcrypt.DefaultCost.
func NewUserStore(repo Repository, cost int) *UserStore {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &UserStore{
		users:  make(map[uint32]*User),
		byName: make(map[string]uint32),
		nextID: RootUserID,
		repo:   repo,
		cost:   cost,
	}
}

// Load reads every user from the repository.
func (s *UserStore) Load() error {
	if s.repo == nil {
		return nil
	}
	records, err := s.repo.Users()
	if err != nil {
		return fmt.Errorf("load users: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		u := fromRecord(r)
		s.users[u.ID] = u
		s.byName[u.Username] = u.ID
		if u.ID >= s.nextID {
			s.nextID = u.ID + 1
		}
	}
	return nil
}

// EnsureRoot creates the root user with every permission unless it already
// exists. It reports whether the user was created.
func (s *UserStore) EnsureRoot(username, password string) (bool, error) {
	s.mu.RLock()
	_, exists := s.users[RootUserID]
	s.mu.RUnlock()
	if exists {
		return false, nil
	}
	if _, err := s.createUser(RootUserID, username, password, PermissionAll); err != nil {
		return false, err
	}
	return true, nil
}

// CreateUser creates a new user with the given password and global
// permissions and returns it.
func (s *UserStore) CreateUser(username, password string, global Permission) (*User, error) {
	return s.createUser(0, username, password, global)
}

func (s *UserStore) createUser(id uint32, username, password string, global Permission) (*User, error) {
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[username]; exists {
		return nil, fmt.Errorf("%w: %q", ErrUserExists, username)
	}
	if id == 0 {
		id = s.nextID
	}
	if id >= s.nextID {
		s.nextID = id + 1
	}

	u := &User{
		ID:           id,
		Username:     username,
		PasswordHash: string(hash),
		Enabled:      true,
		Global:       global,
		Streams:      make(map[uint32]Permission),
		CreatedAt:    time.Now(),
	}
	if err := s.save(u); err != nil {
		return nil, err
	}
	s.users[id] = u
	s.byName[username] = id
	return u.clone(), nil
}

// Authenticate verifies username and password and returns a session.
func (s *UserStore) Authenticate(username, password string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byName[username]
	if !exists {
		return nil, ErrInvalidCredentials
	}
	user := s.users[id]
	if !user.Enabled {
		return nil, ErrUserDisabled
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &Session{UserID: id}, nil
}

// GetUser returns a copy of a user.
func (s *UserStore) GetUser(id uint32) (*User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, false
	}
	return u.clone(), true
}

// GetUserByName returns a copy of a user.
func (s *UserStore) GetUserByName(username string) (*User, bool) {
	s.mu.RLock()
	id, ok := s.byName[username]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return s.GetUser(id)
}

// ListUsers returns every user ordered by id.
func (s *UserStore) ListUsers() []*User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DeleteUser removes a user. The root user cannot be deleted.
func (s *UserStore) DeleteUser(id uint32) error {
	if id == RootUserID {
		return ErrRootUser
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, exists := s.users[id]
	if !exists {
		return fmt.Errorf("%w: %d", ErrUserNotFound, id)
	}
	if s.repo != nil {
		if err := s.repo.DeleteUser(id); err != nil {
			return err
		}
	}
	delete(s.users, id)
	delete(s.byName, u.Username)
	return nil
}

// UpdatePassword replaces a user's password.
func (s *UserStore) UpdatePassword(id uint32, newPassword string) error {
	if newPassword == "" {
		return ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.cost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	return s.update(id, func(u *User) { u.PasswordHash = string(hash) })
}

// SetPermissions replaces a user's global and per-stream permissions.
func (s *UserStore) SetPermissions(id uint32, global Permission, streams map[uint32]Permission) error {
	return s.update(id, func(u *User) {
		u.Global = global
		u.Streams = make(map[uint32]Permission, len(streams))
		for k, v := range streams {
			u.Streams[k] = v
		}
	})
}

// SetUserEnabled enables or disables a user.
func (s *UserStore) SetUserEnabled(id uint32, enabled bool) error {
	if id == RootUserID && !enabled {
		return ErrRootUser
	}
	return s.update(id, func(u *User) { u.Enabled = enabled })
}

// RemoveStream drops the per-stream permissions of a deleted stream.
func (s *UserStore) RemoveStream(streamID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if _, ok := u.Streams[streamID]; !ok {
			continue
		}
		updated := u.clone()
		delete(updated.Streams, streamID)
		if err := s.save(updated); err != nil {
			return err
		}
		s.users[u.ID] = updated
	}
	return nil
}

func (s *UserStore) update(id uint32, fn func(*User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, exists := s.users[id]
	if !exists {
		return fmt.Errorf("%w: %d", ErrUserNotFound, id)
	}
	updated := u.clone()
	fn(updated)
	if err := s.save(updated); err != nil {
		return err
	}
	s.users[id] = updated
	return nil
}

func (s *UserStore) save(u *User) error {
	if s.repo == nil {
		return nil
	}
	return s.repo.SaveUser(toRecord(u))
}

func (u *User) clone() *User {
	c := *u
	c.Streams = make(map[uint32]Permission, len(u.Streams))
	for k, v := range u.Streams {
		c.Streams[k] = v
	}
	return &c
}

func toRecord(u *User) metastore.UserRecord {
	r := metastore.UserRecord{
		ID:           int32(u.ID),
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		Active:       u.Enabled,
		Global:       int64(u.Global),
		CreatedAt:    u.CreatedAt.UnixMicro(),
	}
	for id, p := range u.Streams {
		r.Streams = append(r.Streams, metastore.StreamPermissionsRecord{StreamID: int32(id), Bits: int64(p)})
	}
	sort.Slice(r.Streams, func(i, j int) bool { return r.Streams[i].StreamID < r.Streams[j].StreamID })
	return r
}

func fromRecord(r metastore.UserRecord) *User {
	u := &User{
		ID:           uint32(r.ID),
		Username:     r.Username,
		PasswordHash: r.PasswordHash,
		Enabled:      r.Active,
		Global:       Permission(r.Global),
		Streams:      make(map[uint32]Permission, len(r.Streams)),
		CreatedAt:    time.UnixMicro(r.CreatedAt),
	}
	for _, sp := range r.Streams {
		u.Streams[uint32(sp.StreamID)] = Permission(sp.Bits)
	}
	return u
}

// HashPassword hashes a password using bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Common errors
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserDisabled       = errors.New("user account is disabled")
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrRootUser           = errors.New("the root user cannot be deleted or disabled")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrUnauthorized       = errors.New("unauthorized")
)
