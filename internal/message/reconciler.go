// Package message owns the canonical ordered message list for each
// conversation. Every snapshot from the feed replaces the whole derived
// list; there is no incremental patching.
package message

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ncastel/charla/internal/bus"
	"github.com/ncastel/charla/internal/domain"
	"github.com/ncastel/charla/internal/feed"
)

// ListSnapshot is the bus payload for a reconciled message list.
type ListSnapshot struct {
	ChatID   string
	Messages []domain.Message
}

// Reconciler derives per-chat message lists from feed snapshots and
// appends outbound messages. It does not re-validate text; policy guards
// run before Send is reached.
type Reconciler struct {
	backend feed.Backend
	bus     *bus.Bus
	logger  *zap.Logger
}

// NewReconciler creates a reconciler over the given backend.
func NewReconciler(backend feed.Backend, b *bus.Bus, logger *zap.Logger) *Reconciler {
	return &Reconciler{backend: backend, bus: b, logger: logger}
}

// Send appends one message to the chat with a server-assigned timestamp.
// Delivery is confirmed only when the change round-trips through Listen.
func (r *Reconciler) Send(ctx context.Context, chatID, senderID, senderName, text string) error {
	path := domain.MessagesPath(chatID)
	payload := map[string]any{
		"senderId":   senderID,
		"senderName": senderName,
		"text":       text,
		"timestamp":  feed.ServerTimestamp(),
	}
	if _, err := r.backend.Push(ctx, path, payload); err != nil {
		return &domain.WriteError{Op: "send", Path: path, Err: err}
	}
	return nil
}

// Listen subscribes to the chat's message subtree. Each snapshot is
// decoded, sorted ascending by normalized timestamp, handed to fn as the
// complete new list, and mirrored onto the bus.
func (r *Reconciler) Listen(chatID string, fn func([]domain.Message)) feed.UnsubscribeFunc {
	return r.backend.Subscribe(domain.MessagesPath(chatID), func(snap feed.Snapshot) {
		msgs := decodeMessages(chatID, snap)
		if r.bus != nil {
			r.bus.Publish(bus.New(bus.KindMessages, ListSnapshot{ChatID: chatID, Messages: msgs}))
		}
		fn(msgs)
	})
}

func decodeMessages(chatID string, snap feed.Snapshot) []domain.Message {
	branch, ok := snap.(map[string]any)
	if !ok {
		return nil
	}

	// Enumerate keys in their natural order so equal-timestamp messages
	// keep the append order of their push keys.
	ids := make([]string, 0, len(branch))
	for id := range branch {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	msgs := make([]domain.Message, 0, len(branch))
	for _, id := range ids {
		raw, ok := branch[id].(map[string]any)
		if !ok {
			continue
		}
		ts, ok := domain.NormalizeTimestamp(raw["timestamp"])
		if !ok {
			ts = time.Now()
		}
		msgs = append(msgs, domain.Message{
			ID:         id,
			ChatID:     chatID,
			SenderID:   asString(raw["senderId"]),
			SenderName: asString(raw["senderName"]),
			Text:       asString(raw["text"]),
			Timestamp:  ts,
		})
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
	return msgs
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
