package main

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/scrypt"
)

const saltSize = 16

// passwordHasher derives "<hashHex>.<saltHex>" values with scrypt. The salt's
// hex text, not the raw bytes, is fed to the KDF so that hashes produced by
// older deployments keep verifying.
type passwordHasher struct {
	N      int
	R      int
	P      int
	KeyLen int
}

var defaultHasher = passwordHasher{N: 16384, R: 8, P: 1, KeyLen: 64}

func (h passwordHasher) Hash(password string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	saltHex := hex.EncodeToString(salt)

	key, err := h.derive(password, saltHex)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(key) + "." + saltHex, nil
}

// Verify reports whether password matches stored. Malformed stored values
// never match.
func (h passwordHasher) Verify(password, stored string) bool {
	if strings.HasPrefix(stored, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	}

	hashHex, saltHex, ok := strings.Cut(stored, ".")
	if !ok || saltHex == "" || strings.Contains(saltHex, ".") {
		return false
	}
	want, err := hex.DecodeString(hashHex)
	if err != nil || len(want) != h.KeyLen {
		return false
	}

	got, err := h.derive(password, saltHex)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(got, want) == 1
}

func (h passwordHasher) derive(password, salt string) ([]byte, error) {
	key, err := scrypt.Key([]byte(password), []byte(salt), h.N, h.R, h.P, h.KeyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	return key, nil
}

func hashPassword(password string) (string, error) {
	return defaultHasher.Hash(password)
}

func checkPassword(stored, password string) bool {
	return defaultHasher.Verify(password, stored)
}

func mustHashPassword(password string) string {
	hash, err := hashPassword(password)
	if err != nil {
		panic(err)
	}
	return hash
}
