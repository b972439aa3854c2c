// Package contact maintains the authenticated user's contact graph.
// A contact entry is always keyed by the referenced user's real uid, so
// presence on the canonical users/{uid} record can be cross-referenced;
// the entry itself is a profile snapshot taken at add time.
package contact

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ncastel/charla/internal/bus"
	"github.com/ncastel/charla/internal/domain"
	"github.com/ncastel/charla/internal/feed"
	"github.com/ncastel/charla/internal/policy"
)

const invitationMessage = "You have been invited to join the chat"

// ListSnapshot is the bus payload for a contact list change.
type ListSnapshot struct {
	OwnerUID string
	Contacts []domain.Contact
}

// Manager owns contact adds, removals, and the contact list feed for one
// signed-in user.
type Manager struct {
	backend feed.Backend
	guards  *policy.Guards
	bus     *bus.Bus
	logger  *zap.Logger
}

// NewManager creates a contact manager.
func NewManager(backend feed.Backend, guards *policy.Guards, b *bus.Bus, logger *zap.Logger) *Manager {
	return &Manager{backend: backend, guards: guards, bus: b, logger: logger}
}

// LoadContacts subscribes to the owner's contact subtree and delivers
// the full list on every change.
func (m *Manager) LoadContacts(ownerUID string, fn func([]domain.Contact)) feed.UnsubscribeFunc {
	return m.backend.Subscribe(domain.ContactsPath(ownerUID), func(snap feed.Snapshot) {
		contacts := decodeContacts(snap)
		if m.bus != nil {
			m.bus.Publish(bus.New(bus.KindContacts, ListSnapshot{OwnerUID: ownerUID, Contacts: contacts}))
		}
		fn(contacts)
	})
}

// AddContact resolves email in the user directory and stores a contact
// keyed by the target's real uid.
//
// Failure modes: ValidationError for an address outside the accepted
// domain; NotFoundError, after writing an Invitation, when the address
// has never signed in; DuplicateError when the contact already exists.
// The add is deliberately not idempotent: the caller sees the duplicate.
func (m *Manager) AddContact(ctx context.Context, ownerUID, email string) (*domain.Contact, error) {
	if err := m.guards.CheckContactEmail(email); err != nil {
		return nil, err
	}

	matches, err := m.backend.QueryEqual(ctx, domain.UsersRoot, "email", email)
	if err != nil {
		return nil, &domain.WriteError{Op: "lookup", Path: domain.UsersRoot, Err: err}
	}
	if len(matches) == 0 {
		if err := m.invite(ctx, email); err != nil {
			return nil, err
		}
		return nil, &domain.NotFoundError{Kind: "user", ID: email}
	}

	// Use the target's real identity id as the contact key.
	uids := make([]string, 0, len(matches))
	for uid := range matches {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	targetUID := uids[0]

	contactPath := domain.ContactPath(ownerUID, targetUID)
	existing, err := m.backend.Get(ctx, contactPath)
	if err != nil {
		return nil, &domain.WriteError{Op: "check contact", Path: contactPath, Err: err}
	}
	if existing != nil {
		return nil, &domain.DuplicateError{Kind: "contact", ID: targetUID}
	}

	profile, _ := matches[targetUID].(map[string]any)
	contact := contactFromProfile(targetUID, email, profile)
	if contact.LastSeen.IsZero() {
		// Profile has no lastSeen yet; stamp the add time.
		contact.LastSeen = time.Now()
	}

	record := map[string]any{
		"id":          contact.ID,
		"email":       contact.Email,
		"displayName": contact.DisplayName,
		"isOnline":    contact.IsOnline,
		"lastSeen":    contact.LastSeen.UnixMilli(),
	}
	if contact.PhotoURL != "" {
		record["photoURL"] = contact.PhotoURL
	}
	if err := m.backend.Set(ctx, contactPath, record); err != nil {
		return nil, &domain.WriteError{Op: "add contact", Path: contactPath, Err: err}
	}

	if m.bus != nil {
		m.bus.Publish(bus.New(bus.KindContactAdded, contact))
	}
	return &contact, nil
}

// GetUserInfo reads the canonical users/{uid} record. Unlike the contact
// entry, which is a snapshot taken at add time, this reflects the target's
// current profile and presence.
func (m *Manager) GetUserInfo(ctx context.Context, uid string) (*domain.User, error) {
	path := domain.UserPath(uid)
	raw, err := m.backend.Get(ctx, path)
	if err != nil {
		return nil, &domain.WriteError{Op: "lookup", Path: path, Err: err}
	}
	if raw == nil {
		return nil, &domain.NotFoundError{Kind: "user", ID: uid}
	}

	profile, _ := raw.(map[string]any)
	user := domain.User{
		UID:         uid,
		Email:       asString(profile["email"]),
		DisplayName: asString(profile["displayName"]),
		PhotoURL:    asString(profile["photoURL"]),
	}
	if user.DisplayName == "" {
		user.DisplayName = user.Email
	}
	if online, ok := profile["isOnline"].(bool); ok {
		user.IsOnline = online
	}
	if ts, ok := domain.NormalizeTimestamp(profile["lastSeen"]); ok {
		user.LastSeen = ts
	}
	return &user, nil
}

// RemoveContact deletes the keyed entry. Removing an absent contact is a
// no-op success.
func (m *Manager) RemoveContact(ctx context.Context, ownerUID, contactUID string) error {
	path := domain.ContactPath(ownerUID, contactUID)
	if err := m.backend.Delete(ctx, path); err != nil {
		return &domain.WriteError{Op: "remove contact", Path: path, Err: err}
	}
	if m.bus != nil {
		m.bus.Publish(bus.New(bus.KindContactRemoved, contactUID))
	}
	return nil
}

// invite records a pending invitation for an address with no directory
// entry. Write-once; never read back by this client.
func (m *Manager) invite(ctx context.Context, email string) error {
	id := invitationID(email, time.Now())
	path := domain.InvitationPath(id)
	err := m.backend.Set(ctx, path, map[string]any{
		"email":     email,
		"message":   invitationMessage,
		"timestamp": feed.ServerTimestamp(),
	})
	if err != nil {
		return &domain.WriteError{Op: "invite", Path: path, Err: err}
	}
	if m.logger != nil {
		m.logger.Info("invitation recorded", zap.String("email", email))
	}
	return nil
}

// invitationID builds the sanitized-email plus timestamp composite key.
func invitationID(email string, now time.Time) string {
	sanitized := strings.NewReplacer(".", "_", "@", "_").Replace(email)
	return sanitized + "_" + strconv.FormatInt(now.UnixMilli(), 10)
}

func decodeContacts(snap feed.Snapshot) []domain.Contact {
	branch, ok := snap.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(branch))
	for k := range branch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	contacts := make([]domain.Contact, 0, len(branch))
	for _, k := range keys {
		raw, ok := branch[k].(map[string]any)
		if !ok {
			continue
		}
		contacts = append(contacts, contactFromProfile(k, asString(raw["email"]), raw))
	}
	return contacts
}

func contactFromProfile(uid, email string, profile map[string]any) domain.Contact {
	c := domain.Contact{
		ID:    uid,
		Email: email,
	}
	if profile == nil {
		c.DisplayName = email
		return c
	}
	if e := asString(profile["email"]); e != "" {
		c.Email = e
	}
	c.DisplayName = asString(profile["displayName"])
	if c.DisplayName == "" {
		c.DisplayName = c.Email
	}
	c.PhotoURL = asString(profile["photoURL"])
	if online, ok := profile["isOnline"].(bool); ok {
		c.IsOnline = online
	}
	if ts, ok := domain.NormalizeTimestamp(profile["lastSeen"]); ok {
		c.LastSeen = ts
	}
	return c
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
