// Package secrets encrypts and decrypts the per-user provider credentials
// stored alongside settings. AES-256-GCM with a random nonce prefixed to the
// ciphertext.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/alwayssunny/alwayssunny/pkg/types"
)

func newGCM(key string) (cipher.AEAD, error) {
	if key == "" {
		return nil, errors.New("no encryption key configured")
	}
	if len(key) != 32 {
		return nil, errors.New("invalid encryption key length (must be 32 bytes)")
	}
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return gcm, nil
}

// EncryptCredentials serializes and encrypts creds with the given key.
func EncryptCredentials(key string, creds types.Credentials) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	jsonBytes, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal credentials: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, jsonBytes, nil), nil
}

// DecryptCredentials reverses EncryptCredentials. An empty blob decrypts to
// zero credentials without requiring a key.
func DecryptCredentials(key string, encrypted []byte) (types.Credentials, error) {
	if len(encrypted) == 0 {
		return types.Credentials{}, nil
	}

	gcm, err := newGCM(key)
	if err != nil {
		return types.Credentials{}, err
	}

	if len(encrypted) < gcm.NonceSize() {
		return types.Credentials{}, errors.New("malformed encrypted credentials")
	}

	nonce, ciphertext := encrypted[:gcm.NonceSize()], encrypted[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return types.Credentials{}, fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	var creds types.Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return types.Credentials{}, fmt.Errorf("failed to unmarshal credentials: %w", err)
	}
	return creds, nil
}
