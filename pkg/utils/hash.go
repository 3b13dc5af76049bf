package utils

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const passwordCost = 10

// HashOrRead returns password unchanged when it already is a bcrypt hash, so ADMIN_PASSWORD may hold
// either form. Anything else is hashed.
func HashOrRead(password string) ([]byte, error) {
	if IsBcryptHash(password) {
		return []byte(password), nil
	}
	return bcrypt.GenerateFromPassword([]byte(password), passwordCost)
}

func IsBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash []byte, password string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}
