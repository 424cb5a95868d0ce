package api

import (
	"crypto/rand"
	"math/big"
	"regexp"
)

const (
	idLength = 24
	charset  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	scriptIDPrefix     = "fd_"
	extractionIDPrefix = "ext_"
)

var (
	scriptIDPattern     = regexp.MustCompile(`^fd_[a-zA-Z0-9]{24}$`)
	extractionIDPattern = regexp.MustCompile(`^ext_[a-zA-Z0-9]{24}$`)
)

// NewScriptID generates a new feature-definition script ID with the
// "fd_" prefix followed by 24 cryptographically random alphanumeric
// characters.
func NewScriptID() string {
	return scriptIDPrefix + randomAlphanumeric(idLength)
}

// NewExtractionID generates a new extraction ID with the "ext_" prefix
// followed by 24 cryptographically random alphanumeric characters.
func NewExtractionID() string {
	return extractionIDPrefix + randomAlphanumeric(idLength)
}

// ValidateScriptID checks whether the given string is a valid script ID
// (matches "fd_" + 24 alphanumeric characters).
func ValidateScriptID(id string) bool {
	return scriptIDPattern.MatchString(id)
}

// ValidateExtractionID checks whether the given string is a valid
// extraction ID (matches "ext_" + 24 alphanumeric characters).
func ValidateExtractionID(id string) bool {
	return extractionIDPattern.MatchString(id)
}

func randomAlphanumeric(n int) string {
	max := big.NewInt(int64(len(charset)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		b[i] = charset[idx.Int64()]
	}
	return string(b)
}
