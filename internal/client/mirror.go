package client

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ncastel/charla/internal/auth"
	"github.com/ncastel/charla/internal/bus"
	"github.com/ncastel/charla/internal/contact"
	"github.com/ncastel/charla/internal/domain"
	"github.com/ncastel/charla/internal/message"
	"github.com/ncastel/charla/internal/store"
)

// cachedMessageLimit bounds the warm-start page; it matches the default
// ListMessages page size.
const cachedMessageLimit = 50

// Mirror persists bus snapshots into the local cache so a restarted
// client has contacts and messages to render before the first remote
// snapshot arrives. Snapshots arrive whole, so each one replaces the
// cached set it covers.
type Mirror struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewMirror creates a cache mirror over db.
func NewMirror(db *store.DB, b *bus.Bus, logger *zap.Logger) *Mirror {
	return &Mirror{
		db:     db,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to snapshot and session events on the bus.
func (m *Mirror) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	ch, unsub := m.bus.Subscribe("", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				m.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the mirror.
func (m *Mirror) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Mirror) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindMessages:
		snap, ok := evt.Payload.(message.ListSnapshot)
		if !ok {
			return
		}
		if err := m.storeMessages(snap); err != nil {
			m.logger.Error("failed to cache messages", zap.Error(err), zap.String("chat_id", snap.ChatID))
		}
	case bus.KindContacts:
		snap, ok := evt.Payload.(contact.ListSnapshot)
		if !ok {
			return
		}
		if err := m.storeContacts(snap); err != nil {
			m.logger.Error("failed to cache contacts", zap.Error(err), zap.String("owner", snap.OwnerUID))
		}
	case bus.KindSignedIn:
		// Identity details travel on the bridge, not the event; the
		// session row is written by the lifecycle hook after sign-in.
	case bus.KindSignedOut:
		if err := m.db.ClearSession(); err != nil {
			m.logger.Error("failed to clear session", zap.Error(err))
		}
	}
}

// CachedRoster returns the contact list cached for the last persisted
// session, or nil when there is no session or no cached contacts.
func (m *Mirror) CachedRoster() []domain.Contact {
	session, err := m.db.LoadSession()
	if err != nil || session == nil {
		return nil
	}
	rows, err := m.db.ListContacts(session.UID)
	if err != nil {
		m.logger.Warn("could not read cached contacts", zap.Error(err))
		return nil
	}
	contacts := make([]domain.Contact, 0, len(rows))
	for _, r := range rows {
		contacts = append(contacts, domain.Contact{
			ID:          r.ContactUID,
			Email:       r.Email,
			DisplayName: r.DisplayName,
			PhotoURL:    r.PhotoURL,
			IsOnline:    r.IsOnline,
			LastSeen:    time.UnixMilli(r.LastSeen),
		})
	}
	return contacts
}

// CachedMessages returns the cached tail of a chat in ascending
// timestamp order, or nil when the chat has no cached messages.
func (m *Mirror) CachedMessages(chatID string) []domain.Message {
	rows, err := m.db.ListMessages(chatID, 0, cachedMessageLimit)
	if err != nil {
		m.logger.Warn("could not read cached messages", zap.Error(err), zap.String("chat_id", chatID))
		return nil
	}
	// ListMessages pages newest first; rendering wants oldest first.
	msgs := make([]domain.Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		msgs = append(msgs, domain.Message{
			ID:         r.MsgID,
			ChatID:     r.ChatID,
			SenderID:   r.SenderUID,
			SenderName: r.SenderName,
			Text:       r.Body,
			Timestamp:  time.UnixMilli(r.Timestamp),
		})
	}
	if len(msgs) == 0 {
		return nil
	}
	return msgs
}

// SaveIdentity persists the signed-in identity.
func (m *Mirror) SaveIdentity(id *auth.Identity) error {
	return m.db.SaveSession(&store.Session{
		UID:         id.UID,
		Email:       id.Email,
		DisplayName: id.DisplayName,
		PhotoURL:    id.PhotoURL,
	})
}

func (m *Mirror) storeMessages(snap message.ListSnapshot) error {
	rows := make([]store.Message, 0, len(snap.Messages))
	for _, msg := range snap.Messages {
		rows = append(rows, store.Message{
			MsgID:      msg.ID,
			SenderUID:  msg.SenderID,
			SenderName: msg.SenderName,
			Body:       msg.Text,
			Timestamp:  msg.Timestamp.UnixMilli(),
		})
	}
	return m.db.ReplaceMessages(snap.ChatID, rows)
}

func (m *Mirror) storeContacts(snap contact.ListSnapshot) error {
	rows := make([]store.Contact, 0, len(snap.Contacts))
	for _, c := range snap.Contacts {
		rows = append(rows, store.Contact{
			ContactUID:  c.ID,
			Email:       c.Email,
			DisplayName: c.DisplayName,
			PhotoURL:    c.PhotoURL,
			IsOnline:    c.IsOnline,
			LastSeen:    c.LastSeen.UnixMilli(),
		})
	}
	return m.db.ReplaceContacts(snap.OwnerUID, rows)
}
