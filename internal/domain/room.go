package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	CodeLength   = 6
	CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	MaskedCode   = "******"
)

// RoomCode is the short public address of a room.
type RoomCode string

// NormalizeRoomCode accepts user typed codes ("ab12cd ") and returns the canonical form.
func NormalizeRoomCode(raw string) RoomCode {
	return RoomCode(strings.ToUpper(strings.TrimSpace(raw)))
}

func (c RoomCode) Valid() bool {
	if len(c) != CodeLength {
		return false
	}
	for _, r := range string(c) {
		if !strings.ContainsRune(CodeAlphabet, r) {
			return false
		}
	}
	return true
}

// Display returns the code as a given viewer may see it.
func (c RoomCode) Display(visible, viewerIsHost bool) string {
	if visible || viewerIsHost {
		return string(c)
	}
	return MaskedCode
}

// Room is the metadata part of a chat room. Live membership is owned by app.Room.
type Room struct {
	Code         RoomCode
	Name         string
	CodeVisible  bool
	CreatedAt    time.Time
	LastActiveAt time.Time
}

func DefaultRoomName(username string) string {
	return username + "'s Room"
}

func NormalizeRoomName(raw string, maxLen int) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", ErrRoomNameEmpty
	}
	if maxLen > 0 && utf8.RuneCountInString(name) > maxLen {
		return "", ErrRoomNameTooLong
	}
	return name, nil
}

// IdleSince reports whether the room saw no activity after cutoff.
func (r Room) IdleSince(cutoff time.Time) bool {
	return !r.LastActiveAt.After(cutoff)
}
