// Package crypto implements server-side password hashing and verification.
package crypto

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Cost is the bcrypt work factor for stored password hashes.
const Cost = 10

// dummyHash is compared against when the account does not exist so that
// unknown emails cost the same as wrong passwords.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("homestock-timing-equalizer"), Cost)

// HashPassword returns a salted bcrypt hash of password.
func HashPassword(password []byte) ([]byte, error) {
	h, err := bcrypt.GenerateFromPassword(password, Cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return h, nil
}

// VerifyPassword reports whether password matches hash. A mismatch is false, not an error.
func VerifyPassword(password, hash []byte) bool {
	if len(hash) == 0 {
		BurnCompare(password)
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, password) == nil
}

// BurnCompare spends one bcrypt comparison without a stored hash.
func BurnCompare(password []byte) {
	_ = bcrypt.CompareHashAndPassword(dummyHash, password)
}
