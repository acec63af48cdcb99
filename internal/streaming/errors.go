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
	"errors"

	"flystream/internal/auth"
	"flystream/internal/metastore"
	"flystream/internal/storage"
)

// Errors returned by the System. Storage failures keep their storage
// sentinel (ErrWriteFailed, ErrReadFailed, ...) in the chain.
var (
	ErrNotFound              = errors.New("not found")
	ErrAlreadyExists         = errors.New("already exists")
	ErrInvalid               = errors.New("invalid argument")
	ErrCannotCreateDirectory = errors.New("cannot create directory")
	ErrNotStarted            = errors.New("system is not initialized")

	ErrOffsetOutOfRange = storage.ErrOffsetOutOfRange
	ErrWriteFailed      = storage.ErrWriteFailed
	ErrReadFailed       = storage.ErrReadFailed
	ErrCorruptState     = storage.ErrCorruptState
)

// ErrorKind classifies an error for the transport layer.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindNotFound
	KindAlreadyExists
	KindInvalid
	KindOffsetOutOfRange
	KindWriteFailed
	KindReadFailed
	KindUnauthenticated
	KindUnauthorized
	KindCorruptState
	KindCannotCreateDirectory
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAlreadyExists:
		return "already_exists"
	case KindInvalid:
		return "invalid"
	case KindOffsetOutOfRange:
		return "offset_out_of_range"
	case KindWriteFailed:
		return "write_failed"
	case KindReadFailed:
		return "read_failed"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindUnauthorized:
		return "unauthorized"
	case KindCorruptState:
		return "corrupt_state"
	case KindCannotCreateDirectory:
		return "cannot_create_directory"
	default:
		return "internal"
	}
}

// KindOf returns the kind of err. A nil error has KindInternal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrNotFound), errors.Is(err, metastore.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, auth.ErrUserExists):
		return KindAlreadyExists
	case errors.Is(err, ErrInvalid), errors.Is(err, auth.ErrRootUser):
		return KindInvalid
	case errors.Is(err, ErrOffsetOutOfRange):
		return KindOffsetOutOfRange
	case errors.Is(err, ErrCorruptState):
		return KindCorruptState
	case errors.Is(err, ErrCannotCreateDirectory):
		return KindCannotCreateDirectory
	case errors.Is(err, ErrWriteFailed):
		return KindWriteFailed
	case errors.Is(err, ErrReadFailed):
		return KindReadFailed
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrInvalidCredentials):
		return KindUnauthenticated
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrUserDisabled):
		return KindUnauthorized
	default:
		return KindInternal
	}
}
