// Package chat derives conversation identifiers and lazily provisions
// chat root records. Private chat ids are a pure function of the two
// participant ids, so both sides converge on the same record without
// coordination.
package chat

import (
	"context"

	"go.uber.org/zap"

	"github.com/ncastel/charla/internal/domain"
	"github.com/ncastel/charla/internal/feed"
)

// GeneralChatID is the fixed id of the public chat.
const GeneralChatID = "general"

const generalChatName = "General"

// PrivateChatID computes the deterministic id for a private chat:
// participant ids sorted lexicographically, joined under a private_
// prefix. PrivateChatID(a, b) == PrivateChatID(b, a) always.
func PrivateChatID(a, b string) string {
	low, high := a, b
	if high < low {
		low, high = high, low
	}
	return "private_" + low + "_" + high
}

// Resolver provisions chat roots on first access.
type Resolver struct {
	backend feed.Backend
	logger  *zap.Logger
}

// NewResolver creates a resolver over the given backend.
func NewResolver(backend feed.Backend, logger *zap.Logger) *Resolver {
	return &Resolver{backend: backend, logger: logger}
}

// EnsurePrivateChat returns the deterministic chat id for the pair,
// creating the chat root if it does not exist yet. Two sessions racing
// the creation both write identical content, so the race is benign.
func (r *Resolver) EnsurePrivateChat(ctx context.Context, userA, userB string) (string, error) {
	id := PrivateChatID(userA, userB)
	path := domain.ChatPath(id)

	existing, err := r.backend.Get(ctx, path)
	if err != nil {
		return "", &domain.WriteError{Op: "check chat", Path: path, Err: err}
	}
	if existing != nil {
		return id, nil
	}

	record := map[string]any{
		"type": string(domain.ChatPrivate),
		"participants": map[string]any{
			userA: true,
			userB: true,
		},
		"createdAt":    feed.ServerTimestamp(),
		"lastActivity": feed.ServerTimestamp(),
	}
	if err := r.backend.Set(ctx, path, record); err != nil {
		return "", &domain.WriteError{Op: "create chat", Path: path, Err: err}
	}
	if r.logger != nil {
		r.logger.Info("private chat created", zap.String("chat", id))
	}
	return id, nil
}

// EnsureGeneralChat creates the fixed general chat on first access.
func (r *Resolver) EnsureGeneralChat(ctx context.Context) error {
	path := domain.ChatPath(GeneralChatID)

	existing, err := r.backend.Get(ctx, path)
	if err != nil {
		return &domain.WriteError{Op: "check chat", Path: path, Err: err}
	}
	if existing != nil {
		return nil
	}

	record := map[string]any{
		"type": string(domain.ChatGeneral),
		"name": generalChatName,
		"participants": map[string]any{
			"public": true,
		},
		"createdAt":    feed.ServerTimestamp(),
		"lastActivity": feed.ServerTimestamp(),
	}
	if err := r.backend.Set(ctx, path, record); err != nil {
		return &domain.WriteError{Op: "create chat", Path: path, Err: err}
	}
	if r.logger != nil {
		r.logger.Info("general chat created")
	}
	return nil
}
