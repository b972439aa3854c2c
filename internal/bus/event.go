package bus

import "time"

// Event kinds published by the core. Subscribers filter by namespace
// prefix, e.g. "session." or "message.".
const (
	KindStatusChanged  = "session.status_changed"
	KindSignedIn       = "session.signed_in"
	KindSignedOut      = "session.signed_out"
	KindMessages       = "message.snapshot"
	KindContacts       = "contact.snapshot"
	KindContactAdded   = "contact.added"
	KindContactRemoved = "contact.removed"
	KindTyping         = "typing.snapshot"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// New builds an event stamped with the current time.
func New(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
