// Package cryptox implements the store-key check: a passphrase is stretched
// with argon2id and only a SHA-256 verifier of the result is persisted.
package cryptox

import (
	"crypto/sha256"
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
)

const (
	SaltSize = 16
	KeySize  = 32
)

// DeriveStoreKey stretches passphrase with argon2id (t=1, m=64MiB, p=4).
func DeriveStoreKey(passphrase []byte, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, KeySize)
}

func MakeVerifier(storeKey []byte) []byte {
	hash := sha256.Sum256(storeKey)
	return hash[:]
}

// VerifyStoreKey reports whether passphrase derives to the stored verifier.
// The comparison is constant time.
func VerifyStoreKey(passphrase, salt, verifier []byte) bool {
	candidate := MakeVerifier(DeriveStoreKey(passphrase, salt))
	return subtle.ConstantTimeCompare(candidate, verifier) == 1
}
