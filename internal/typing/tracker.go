// Package typing maintains the ephemeral typing indicators for a chat.
// The remote tree has no server-side expiry, so every writer of a mark is
// responsible for deleting it again: a 3 second timer per (chat, user)
// pair, re-armed on every keystroke, emulates the TTL.
package typing

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ncastel/charla/internal/bus"
	"github.com/ncastel/charla/internal/domain"
	"github.com/ncastel/charla/internal/feed"
)

// TTL is how long a typing mark survives after the last SetTyping(true).
const TTL = 3 * time.Second

const expireTimeout = 5 * time.Second

// SetSnapshot is the bus payload for a typing-set change.
type SetSnapshot struct {
	ChatID string
	Users  []string
}

// Tracker writes and expires typing marks and reports the raw set of
// currently-typing user ids per chat. Callers filter out their own id
// for display.
type Tracker struct {
	backend feed.Backend
	bus     *bus.Bus
	logger  *zap.Logger
	ttl     time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewTracker creates a tracker with the standard TTL.
func NewTracker(backend feed.Backend, b *bus.Bus, logger *zap.Logger) *Tracker {
	return &Tracker{
		backend: backend,
		bus:     b,
		logger:  logger,
		ttl:     TTL,
		timers:  make(map[string]*time.Timer),
	}
}

// SetTyping writes or removes the typing mark for userID in chatID.
// Each true call re-arms the deferred removal, so a user typing
// continuously keeps one live timer, not a stack of racing ones. False
// removes immediately; removal is idempotent.
func (t *Tracker) SetTyping(ctx context.Context, chatID, userID string, isTyping bool) error {
	path := domain.TypingMarkPath(chatID, userID)
	key := chatID + "/" + userID

	if !isTyping {
		t.stopTimer(key)
		if err := t.backend.Delete(ctx, path); err != nil {
			return &domain.WriteError{Op: "clear typing", Path: path, Err: err}
		}
		return nil
	}

	err := t.backend.Set(ctx, path, map[string]any{
		"isTyping":  true,
		"timestamp": feed.ServerTimestamp(),
	})
	if err != nil {
		return &domain.WriteError{Op: "set typing", Path: path, Err: err}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	if old, ok := t.timers[key]; ok {
		old.Stop()
	}
	t.timers[key] = time.AfterFunc(t.ttl, func() {
		t.expire(chatID, userID)
	})
	return nil
}

// ListenTyping subscribes to the chat's typing subtree. The snapshot's
// key set is the set of currently-typing user ids; stored booleans are
// ignored because key presence alone means "typing".
func (t *Tracker) ListenTyping(chatID string, fn func([]string)) feed.UnsubscribeFunc {
	return t.backend.Subscribe(domain.TypingPath(chatID), func(snap feed.Snapshot) {
		users := decodeTypingSet(snap)
		if t.bus != nil {
			t.bus.Publish(bus.New(bus.KindTyping, SetSnapshot{ChatID: chatID, Users: users}))
		}
		fn(users)
	})
}

// Close cancels every pending removal timer. Must run before the owning
// context goes away, or an expiry fires a write after teardown.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	for key, timer := range t.timers {
		timer.Stop()
		delete(t.timers, key)
	}
	t.mu.Unlock()
}

func (t *Tracker) stopTimer(key string) {
	t.mu.Lock()
	if timer, ok := t.timers[key]; ok {
		timer.Stop()
		delete(t.timers, key)
	}
	t.mu.Unlock()
}

func (t *Tracker) expire(chatID, userID string) {
	key := chatID + "/" + userID
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	delete(t.timers, key)
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), expireTimeout)
	defer cancel()
	if err := t.backend.Delete(ctx, domain.TypingMarkPath(chatID, userID)); err != nil && t.logger != nil {
		t.logger.Warn("typing mark expiry failed",
			zap.String("chat", chatID),
			zap.String("user", userID),
			zap.Error(err))
	}
}

func decodeTypingSet(snap feed.Snapshot) []string {
	branch, ok := snap.(map[string]any)
	if !ok {
		return nil
	}
	users := make([]string, 0, len(branch))
	for uid := range branch {
		users = append(users, uid)
	}
	sort.Strings(users)
	return users
}
