package auth

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrPasswordTooShort   = errors.New("password must be at least 8 characters")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

const (
	bcryptCost        = 12
	minPasswordLength = 8
)

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", ErrPasswordTooShort
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}

	return string(hash), nil
}

func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Operator is the single configured operator account. The password is only
// ever held as a bcrypt hash.
type Operator struct {
	Username     string
	PasswordHash string
}

// Authenticate checks a login attempt. An unconfigured operator rejects
// every attempt.
func (o Operator) Authenticate(username, password string) error {
	if o.Username == "" || o.PasswordHash == "" {
		return ErrInvalidCredentials
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(o.Username)) == 1
	passOK := CheckPassword(password, o.PasswordHash)
	if !userOK || !passOK {
		return ErrInvalidCredentials
	}
	return nil
}
