package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const (
	// BcryptCost is the cost factor for bcrypt hashing
	BcryptCost = 12
	// MinAdminKeyLength is the minimum admin key length
	MinAdminKeyLength = 16
)

// ErrAdminKeyTooShort is returned when an admin key is too short to hash
var ErrAdminKeyTooShort = errors.New("admin key must be at least 16 characters")

// HashAdminKey hashes an admin key using bcrypt
func HashAdminKey(key string) (string, error) {
	if len(key) < MinAdminKeyLength {
		return "", ErrAdminKeyTooShort
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(key), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// CheckAdminKey compares a presented key with the configured hash.
// An empty hash disables admin access.
func CheckAdminKey(key, hash string) bool {
	if hash == "" || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}
