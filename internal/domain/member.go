package domain

import "time"

type MemberStatus string

const (
	StatusActive MemberStatus = "active"
	StatusAway   MemberStatus = "away"
)

// Member represents a participant of one room.
// Host status is not stored here; the room's host coordinator owns it.
type Member struct {
	Token    ClientToken
	Conn     ConnID
	Username string
	Status   MemberStatus
	JoinedAt time.Time
}

// NewMember avoids raw literals in callers and keeps construction obvious.
func NewMember(token ClientToken, conn ConnID, username string, joinedAt time.Time) *Member {
	return &Member{
		Token:    token,
		Conn:     conn,
		Username: username,
		Status:   StatusActive,
		JoinedAt: joinedAt,
	}
}

func (m *Member) Active() bool { return m.Status == StatusActive }

// Detach marks the member as away and forgets its connection.
func (m *Member) Detach() {
	m.Status = StatusAway
	m.Conn = ""
}

// Attach binds the member to a new connection and marks it active.
func (m *Member) Attach(conn ConnID) {
	m.Conn = conn
	m.Status = StatusActive
}
