package domain

import "time"

// User is the identity-provider profile mirrored into the remote tree
// at users/{uid} on each sign-in.
type User struct {
	UID         string
	Email       string
	DisplayName string
	PhotoURL    string
	IsOnline    bool
	LastSeen    time.Time
}

// Contact is a User-shaped projection stored under
// users/{ownerUid}/contacts/{contactUid}. The key always equals the
// referenced user's real uid so presence on users/{contactUid} can be
// cross-referenced.
type Contact struct {
	ID          string
	Email       string
	DisplayName string
	PhotoURL    string
	IsOnline    bool
	LastSeen    time.Time
}

// Message is one chat message. ID is the remote append key, opaque and
// stable. Timestamp is normalized to a single representation before any
// comparison; within one chat messages are ordered by it ascending.
type Message struct {
	ID         string
	ChatID     string
	SenderID   string
	SenderName string
	Text       string
	Timestamp  time.Time
}

// ChatType distinguishes the public general chat from private pairs.
type ChatType string

const (
	ChatGeneral ChatType = "general"
	ChatPrivate ChatType = "private"
)
