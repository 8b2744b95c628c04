// Package auth provides password hashing for the credential store.
//
// Passwords are hashed with PBKDF2-HMAC-SHA256 using a random 16-byte salt and
// 100k iterations. Salt and hash are hex-encoded so they can live in TEXT
// columns.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 16
	iterations = 100_000
	keyLength  = 32
)

// HashPassword converts a plain-text password into a hex-encoded (salt, hash)
// pair ready for storage.
func HashPassword(password string) (saltHex, hashHex string, err error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", "", fmt.Errorf("auth: generate salt: %w", err)
	}
	hash := pbkdf2.Key([]byte(password), salt, iterations, keyLength, sha256.New)
	return hex.EncodeToString(salt), hex.EncodeToString(hash), nil
}

// VerifyPassword reports whether password matches the stored salt/hash pair.
// Malformed stored values simply fail verification.
func VerifyPassword(password, saltHex, hashHex string) bool {
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}
	stored, err := hex.DecodeString(hashHex)
	if err != nil {
		return false
	}
	hash := pbkdf2.Key([]byte(password), salt, iterations, keyLength, sha256.New)
	return hmac.Equal(hash, stored)
}
