package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Message is an immutable chat line.
type Message struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Text      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`

	// Sender lets a late joiner recognise its own lines in the history.
	Sender ClientToken `json:"sender"`
}

func NormalizeMessage(raw string, maxLen int) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", ErrMessageEmpty
	}
	if maxLen > 0 && utf8.RuneCountInString(text) > maxLen {
		return "", ErrMessageTooLong
	}
	return text, nil
}
