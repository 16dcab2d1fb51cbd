package auth

import (
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
)

// SaltSize is the length of the per-user random salt.
const SaltSize = 32

// DeriveVerifier hashes password with argon2id using the same parameters
// for every account, so stored verifiers stay comparable.
func DeriveVerifier(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, 32)
}

// CheckVerifier compares in constant time.
func CheckVerifier(verifier []byte, candidate []byte) bool {
	return subtle.ConstantTimeCompare(verifier, candidate) == 1
}
