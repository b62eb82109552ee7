package security

import (
	"crypto/rand"
	"errors"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the floor for any password accepted at signup or
// chosen during reset approval.
const MinPasswordLength = 8

// TempPasswordLength is the length of generated temporary passwords.
const TempPasswordLength = 12

// tempAlphabet excludes visually confusable characters (0/O, 1/I/l).
const tempAlphabet = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var ErrWeakPassword = errors.New("password must be at least 8 characters")

// Hash password hashes a plain text password with bcrypt.
func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)

	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// helper that compares a bcrypt hash with a plaintext password.

func CheckPassword(hash, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
}

// GenerateTempPassword returns a random temporary password drawn from the
// unambiguous alphabet. Shown to the admin exactly once, never persisted
// in plaintext.
func GenerateTempPassword() (string, error) {
	max := big.NewInt(int64(len(tempAlphabet)))
	out := make([]byte, TempPasswordLength)

	for i := range out {
		n, err := rand.Int(rand.Reader, max)

		if err != nil {
			return "", err
		}

		out[i] = tempAlphabet[n.Int64()]
	}

	return string(out), nil
}
