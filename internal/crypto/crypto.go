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

// Package crypto provides payload encryption at rest.
// The only built-in implementation is AES-256-GCM, which authenticates every
// payload so that a tampered or mis-keyed record fails to decrypt instead of
// returning garbage.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const (
	// KeySize is the required key size for AES-256 (32 bytes).
	KeySize = 32

	// NonceSize is the size of the GCM nonce (12 bytes).
	NonceSize = 12

	// TagSize is the size of the GCM authentication tag (16 bytes).
	TagSize = 16
)

var (
	// ErrInvalidKeySize is returned when the key is not 32 bytes.
	ErrInvalidKeySize = errors.New("crypto: key must be 32 bytes (256 bits)")

	// ErrInvalidKeyFormat is returned when the key is neither hex nor base64.
	ErrInvalidKeyFormat = errors.New("crypto: key must be hex or base64 encoded")

	// ErrCiphertextTooShort is returned when ciphertext is shorter than nonce + tag.
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")

	// ErrDecryptionFailed is returned when decryption or authentication fails.
	ErrDecryptionFailed = errors.New("crypto: decryption failed, data may be corrupted or the key is wrong")
)

// Encryptor encrypts and decrypts whole payloads.
// Implementations must be safe for concurrent use.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// AESGCM is an AES-256-GCM Encryptor.
type AESGCM struct {
	gcm cipher.AEAD
}

var _ Encryptor = (*AESGCM)(nil)

// NewAESGCM creates an encryptor from an encoded key. The key may be 64 hex
// characters or the standard base64 encoding of 32 bytes.
func NewAESGCM(encodedKey string) (*AESGCM, error) {
	key, err := DecodeKey(encodedKey)
	if err != nil {
		return nil, err
	}
	return NewAESGCMFromBytes(key)
}

// NewAESGCMFromBytes creates an encryptor from raw key bytes.
func NewAESGCMFromBytes(key []byte) (*AESGCM, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}

	return &AESGCM{gcm: gcm}, nil
}

// Encrypt returns nonce (12 bytes) || ciphertext || tag (16 bytes).
func (e *AESGCM) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}
	return e.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt reverses Encrypt.
func (e *AESGCM) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize+TagSize {
		return nil, ErrCiphertextTooShort
	}

	nonce := ciphertext[:NonceSize]
	plaintext, err := e.gcm.Open(nil, nonce, ciphertext[NonceSize:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// GenerateKey generates a random 256-bit key, hex encoded.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("crypto: failed to generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// DecodeKey decodes a hex or base64 key and checks its length.
func DecodeKey(encodedKey string) ([]byte, error) {
	if key, err := hex.DecodeString(encodedKey); err == nil {
		if len(key) != KeySize {
			return nil, ErrInvalidKeySize
		}
		return key, nil
	}
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, ErrInvalidKeyFormat
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	return key, nil
}

// ValidateKey checks that an encoded key is usable.
func ValidateKey(encodedKey string) error {
	_, err := DecodeKey(encodedKey)
	return err
}
