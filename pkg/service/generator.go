package service

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"
)

// Paths the router owns; a link code must never shadow them.
var reservedAliases = map[string]bool{
	"api":    true,
	"admin":  true,
	"health": true,
	"static": true,
}

var aliasRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,50}$`)

const maxCodeAttempts = 5

// GenerateCode returns 8 hex characters from 4 random bytes.
func GenerateCode() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// uniqueCode draws codes until one is not already taken.
func uniqueCode(taken func(code string) bool, generate func() (string, error)) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := generate()
		if err != nil {
			return "", err
		}
		if !taken(code) {
			return code, nil
		}
	}
	return "", ErrCodeExists
}

func ValidateAlias(alias string) bool {
	if alias == "" {
		return true
	}
	if reservedAliases[strings.ToLower(alias)] {
		return false
	}
	return aliasRegex.MatchString(alias)
}
