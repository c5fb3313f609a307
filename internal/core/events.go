package core

import (
	"time"

	"github.com/dkeye/scribe/internal/domain"
)

// Outbound event types. Every payload is a flat JSON object carrying "type".
const (
	EventRoomInfo     = "room_info"
	EventUserList     = "update_user_list"
	EventMessage      = "receive_message"
	EventSystem       = "system_message"
	EventRoomUpdated  = "room_updated"
	EventNewHost      = "new_host"
	EventHostGrace    = "host_disconnect_grace"
	EventHostReturned = "host_returned"
	EventRoomDeleted  = "room_deleted"
	EventError        = "error"
	EventLeft         = "left"
	EventPong         = "pong"
)

const (
	KeyRoomName      = "room_name"
	KeyCodeVisible   = "is_code_visible"
	TimestampLayout  = time.RFC3339Nano
	ReasonHostClosed = "The host has closed this room."
	ReasonExpired    = "This room has expired due to inactivity."
)

type RosterEntry struct {
	Username string `json:"username"`
	IsHost   bool   `json:"is_host"`
	IsActive bool   `json:"is_active"`
	IsSelf   bool   `json:"is_self"`
}

type ChatMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	IsOwn     bool   `json:"is_own"`
}

func NewChatMessage(m domain.Message, own bool) ChatMessage {
	return ChatMessage{
		Type:      EventMessage,
		ID:        m.ID,
		Username:  m.Username,
		Message:   m.Text,
		Timestamp: m.Timestamp.Format(TimestampLayout),
		IsOwn:     own,
	}
}

// RoomInfo is the snapshot sent to a joining connection only.
type RoomInfo struct {
	Type          string        `json:"type"`
	RoomName      string        `json:"room_name"`
	RoomCode      string        `json:"room_code"`
	IsHost        bool          `json:"is_host"`
	IsCodeVisible bool          `json:"is_code_visible"`
	Username      string        `json:"username"`
	ConnectionID  domain.ConnID `json:"connection_id"`
	Members       []RosterEntry `json:"members"`
	Messages      []ChatMessage `json:"messages"`
}

type UserList struct {
	Type  string        `json:"type"`
	Users []RosterEntry `json:"users"`
}

type SystemMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type RoomUpdated struct {
	Type  string `json:"type"`
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type NewHost struct {
	Type         string        `json:"type"`
	ConnectionID domain.ConnID `json:"connection_id"`
	Username     string        `json:"username"`
}

type HostGrace struct {
	Type        string `json:"type"`
	SecondsLeft int    `json:"seconds_left"`
	Username    string `json:"username"`
}

type HostReturned struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

type RoomDeleted struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Simple is used for payload-less events such as pong and left.
type Simple struct {
	Type string `json:"type"`
}
