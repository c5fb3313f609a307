// Package domain contains chat entities and their validation rules, without transport or locking.
package domain

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	MaxTokenLen    = 64
	MaxUsernameLen = 36
)

// ClientToken is the stable per-browser identity. It survives reconnects,
// unlike ConnID which changes with every transport connection.
type ClientToken string

// ConnID identifies one live transport connection.
type ConnID string

func NewClientToken() ClientToken { return ClientToken(uuid.NewString()) }

func NewConnID() ConnID { return ConnID(uuid.NewString()) }

// Valid reports whether a client supplied token can be used as an identity key.
func (t ClientToken) Valid() bool {
	return t != "" && len(t) <= MaxTokenLen
}

// NormalizeUsername trims the display name and enforces its limits.
func NormalizeUsername(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", ErrUsernameEmpty
	}
	if utf8.RuneCountInString(name) > MaxUsernameLen {
		return "", ErrUsernameTooLong
	}
	return name, nil
}
