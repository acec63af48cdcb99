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
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"flystream/internal/metastore"
)

func newTestStore(t *testing.T, repo Repository) *UserStore {
	t.Helper()
	return NewUserStore(repo, bcrypt.MinCost)
}

func TestUserStore_CreateAndAuthenticate(t *testing.T) {
	store := newTestStore(t, nil)

	u, err := store.CreateUser("testuser", "password123", RolePermissions("producer"))
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if u.ID != RootUserID {
		t.Errorf("Expected first id %d, got %d", RootUserID, u.ID)
	}

	session, err := store.Authenticate("testuser", "password123")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if !session.IsAuthenticated() || session.UserID != u.ID {
		t.Errorf("Unexpected session %+v", session)
	}

	if _, err := store.Authenticate("testuser", "wrongpassword"); err != ErrInvalidCredentials {
		t.Errorf("Expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := store.Authenticate("nobody", "password123"); err != ErrInvalidCredentials {
		t.Errorf("Expected ErrInvalidCredentials, got %v", err)
	}
}

func TestUserStore_DuplicateUser(t *testing.T) {
	store := newTestStore(t, nil)
	if _, err := store.CreateUser("dup", "pw", 0); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if _, err := store.CreateUser("dup", "pw", 0); !errors.Is(err, ErrUserExists) {
		t.Errorf("Expected ErrUserExists, got %v", err)
	}
}

func TestUserStore_DisabledUser(t *testing.T) {
	store := newTestStore(t, nil)
	if _, err := store.EnsureRoot("root", "rootpw"); err != nil {
		t.Fatalf("EnsureRoot failed: %v", err)
	}
	u, _ := store.CreateUser("disabled", "pw", 0)

	if err := store.SetUserEnabled(u.ID, false); err != nil {
		t.Fatalf("SetUserEnabled failed: %v", err)
	}
	if _, err := store.Authenticate("disabled", "pw"); err != ErrUserDisabled {
		t.Errorf("Expected ErrUserDisabled, got %v", err)
	}
	if err := store.SetUserEnabled(RootUserID, false); err != ErrRootUser {
		t.Errorf("Expected ErrRootUser, got %v", err)
	}
	if err := store.DeleteUser(RootUserID); err != ErrRootUser {
		t.Errorf("Expected ErrRootUser, got %v", err)
	}
}

func TestUserStore_EnsureRootOnce(t *testing.T) {
	store := newTestStore(t, nil)

	created, err := store.EnsureRoot("root", "rootpw")
	if err != nil || !created {
		t.Fatalf("EnsureRoot = %v, %v", created, err)
	}
	created, err = store.EnsureRoot("root", "other")
	if err != nil || created {
		t.Fatalf("second EnsureRoot = %v, %v", created, err)
	}

	next, err := store.CreateUser("alice", "pw", 0)
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if next.ID != RootUserID+1 {
		t.Errorf("Expected id %d, got %d", RootUserID+1, next.ID)
	}
}

func TestUserStore_UpdatePassword(t *testing.T) {
	store := newTestStore(t, nil)
	u, _ := store.CreateUser("bob", "old", 0)

	if err := store.UpdatePassword(u.ID, "new"); err != nil {
		t.Fatalf("UpdatePassword failed: %v", err)
	}
	if _, err := store.Authenticate("bob", "old"); err != ErrInvalidCredentials {
		t.Errorf("old password still accepted: %v", err)
	}
	if _, err := store.Authenticate("bob", "new"); err != nil {
		t.Errorf("new password rejected: %v", err)
	}
	if err := store.UpdatePassword(999, "x"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}
}

func TestUserStore_PersistsThroughMetastore(t *testing.T) {
	dir := t.TempDir()
	ms, err := metastore.Open(dir, false)
	if err != nil {
		t.Fatalf("metastore.Open failed: %v", err)
	}

	store := newTestStore(t, ms)
	if _, err := store.EnsureRoot("root", "rootpw"); err != nil {
		t.Fatalf("EnsureRoot failed: %v", err)
	}
	u, _ := store.CreateUser("carol", "pw", PermissionReadStreams)
	if err := store.SetPermissions(u.ID, PermissionReadStreams, map[uint32]Permission{7: PermissionSendMessages}); err != nil {
		t.Fatalf("SetPermissions failed: %v", err)
	}
	ms.Close()

	ms, err = metastore.Open(dir, false)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer ms.Close()

	reloaded := newTestStore(t, ms)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := len(reloaded.ListUsers()); got != 2 {
		t.Fatalf("Expected 2 users, got %d", got)
	}
	carol, ok := reloaded.GetUserByName("carol")
	if !ok {
		t.Fatal("carol not found after reload")
	}
	if carol.Streams[7] != PermissionSendMessages {
		t.Errorf("stream permissions lost: %v", carol.Streams)
	}
	if _, err := reloaded.Authenticate("carol", "pw"); err != nil {
		t.Errorf("Authenticate after reload failed: %v", err)
	}

	// New ids continue after the highest stored id.
	dave, _ := reloaded.CreateUser("dave", "pw", 0)
	if dave.ID != carol.ID+1 {
		t.Errorf("Expected id %d, got %d", carol.ID+1, dave.ID)
	}
}

func TestAuthorizer(t *testing.T) {
	store := newTestStore(t, nil)
	store.EnsureRoot("root", "rootpw")
	producer, _ := store.CreateUser("producer", "pw", RolePermissions("producer"))
	scoped, _ := store.CreateUser("scoped", "pw", PermissionReadStreams)
	store.SetPermissions(scoped.ID, PermissionReadStreams, map[uint32]Permission{3: PermissionPollMessages})

	a := NewAuthorizer(store)

	tests := []struct {
		name    string
		user    uint32
		perm    Permission
		stream  uint32
		wantErr error
	}{
		{"root manages streams", RootUserID, PermissionManageStreams, 0, nil},
		{"producer sends", producer.ID, PermissionSendMessages, 1, nil},
		{"producer cannot poll", producer.ID, PermissionPollMessages, 1, ErrUnauthorized},
		{"scoped polls its stream", scoped.ID, PermissionPollMessages, 3, nil},
		{"scoped cannot poll other stream", scoped.ID, PermissionPollMessages, 4, ErrUnauthorized},
		{"unknown user", 42, PermissionReadStreams, 0, ErrUnauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.Authorize(tt.user, tt.perm, tt.stream)
			if tt.wantErr == nil && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	if err := (AllowAll{}).Authorize(42, PermissionManageUsers, 0); err != nil {
		t.Errorf("AllowAll rejected: %v", err)
	}
}

func TestRemoveStreamPermissions(t *testing.T) {
	store := newTestStore(t, nil)
	u, _ := store.CreateUser("erin", "pw", 0)
	store.SetPermissions(u.ID, 0, map[uint32]Permission{5: PermissionAll})

	if err := store.RemoveStream(5); err != nil {
		t.Fatalf("RemoveStream failed: %v", err)
	}
	got, _ := store.GetUser(u.ID)
	if _, ok := got.Streams[5]; ok {
		t.Error("stream permissions survived RemoveStream")
	}
}

func TestPermissionString(t *testing.T) {
	if got := (PermissionPollMessages | PermissionReadStreams).String(); got != "poll_messages,read_streams" {
		t.Errorf("String() = %q", got)
	}
	if got := Permission(0).String(); got != "none" {
		t.Errorf("String() = %q", got)
	}
	if !PermissionAll.Has(PermissionManageUsers) {
		t.Error("PermissionAll lacks ManageUsers")
	}
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("secret")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")) != nil {
		t.Error("hash does not verify")
	}
}
