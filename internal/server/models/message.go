// Package models defines server-side data models persisted in the database.
package models

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a message. The zero value is invalid.
type Status string

const (
	// StatusSending only exists on clients; the server never stores it.
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusRead    Status = "read"
)

// ParseStatus accepts any letter case ("READ", "read").
func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusSending, StatusSent, StatusRead:
		return st, true
	default:
		return "", false
	}
}

func (s Status) rank() int {
	switch s {
	case StatusSending:
		return 0
	case StatusSent:
		return 1
	case StatusRead:
		return 2
	default:
		return -1
	}
}

// Advances reports whether moving from s to next goes forward.
func (s Status) Advances(next Status) bool {
	return next.rank() > s.rank()
}

// Message is one encrypted direct message. EncryptedContent and IV are
// opaque to the server.
type Message struct {
	ID               string
	SenderID         string
	ReceiverID       string
	Type             string
	EncryptedContent []byte
	IV               []byte
	Status           Status
	CreatedAt        time.Time
	// ReadAt is set together with StatusRead.
	ReadAt *time.Time
}

// HasParticipant reports whether userID is the sender or the receiver.
func (m *Message) HasParticipant(userID string) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// Clone returns a deep copy so in-memory stores never hand out shared slices.
func (m *Message) Clone() *Message {
	c := *m
	c.EncryptedContent = append([]byte(nil), m.EncryptedContent...)
	c.IV = append([]byte(nil), m.IV...)
	if m.ReadAt != nil {
		t := *m.ReadAt
		c.ReadAt = &t
	}
	return &c
}
