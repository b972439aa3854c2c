package client

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ncastel/charla/internal/auth"
	"github.com/ncastel/charla/internal/chat"
	"github.com/ncastel/charla/internal/contact"
	"github.com/ncastel/charla/internal/domain"
	"github.com/ncastel/charla/internal/feed"
	"github.com/ncastel/charla/internal/message"
	"github.com/ncastel/charla/internal/policy"
	"github.com/ncastel/charla/internal/typing"
)

// Client is the session-scoped facade over the core components. It owns
// the signed-in identity and the set of live chat subscriptions.
type Client struct {
	bridge   *auth.Bridge
	resolver *chat.Resolver
	contacts *contact.Manager
	messages *message.Reconciler
	tracker  *typing.Tracker
	guards   *policy.Guards
	mirror   *Mirror
	logger   *zap.Logger

	mu         sync.Mutex
	identity   *auth.Identity
	unsubs     map[string]feed.UnsubscribeFunc
	latest     map[string][]domain.Message
	roster     []domain.Contact
	rosterLive bool
}

// New creates the facade. Open must be called before any other method.
func New(bridge *auth.Bridge, resolver *chat.Resolver, contacts *contact.Manager, messages *message.Reconciler, tracker *typing.Tracker, guards *policy.Guards, mirror *Mirror, logger *zap.Logger) *Client {
	return &Client{
		bridge:   bridge,
		resolver: resolver,
		contacts: contacts,
		messages: messages,
		tracker:  tracker,
		guards:   guards,
		mirror:   mirror,
		logger:   logger,
		unsubs:   make(map[string]feed.UnsubscribeFunc),
		latest:   make(map[string][]domain.Message),
	}
}

// Open signs in, provisions the general chat, and starts the contact
// and general message feeds.
func (c *Client) Open(ctx context.Context) error {
	id, err := c.bridge.SignIn(ctx)
	if err != nil {
		return err
	}
	if err := c.mirror.SaveIdentity(id); err != nil {
		c.logger.Warn("could not persist session", zap.Error(err))
	}

	if err := c.resolver.EnsureGeneralChat(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.identity = id
	c.mu.Unlock()

	// Subscribe outside the lock: the backend may deliver the initial
	// snapshot synchronously, and the callback takes c.mu.
	unsub := c.contacts.LoadContacts(id.UID, func(roster []domain.Contact) {
		c.mu.Lock()
		c.roster = roster
		c.rosterLive = true
		c.mu.Unlock()
	})
	c.mu.Lock()
	c.unsubs["contacts"] = unsub
	c.mu.Unlock()

	return c.OpenChat(chat.GeneralChatID)
}

// Identity returns the signed-in identity, or nil.
func (c *Client) Identity() *auth.Identity {
	return c.bridge.Current()
}

// OpenChat starts the message feed for a chat. Opening an already open
// chat is a no-op.
func (c *Client) OpenChat(chatID string) error {
	key := "chat:" + chatID
	c.mu.Lock()
	if c.identity == nil {
		c.mu.Unlock()
		return fmt.Errorf("not signed in")
	}
	if _, ok := c.unsubs[key]; ok {
		c.mu.Unlock()
		return nil
	}
	// Reserve the slot before subscribing; the initial snapshot can
	// arrive synchronously and the callback takes c.mu.
	c.unsubs[key] = func() {}
	c.mu.Unlock()

	unsub := c.messages.Listen(chatID, func(msgs []domain.Message) {
		c.mu.Lock()
		c.latest[chatID] = msgs
		c.mu.Unlock()
	})
	c.mu.Lock()
	c.unsubs[key] = unsub
	c.mu.Unlock()
	return nil
}

// OpenPrivateChat provisions (or finds) the private chat with a contact
// and starts its feed. Returns the chat id.
func (c *Client) OpenPrivateChat(ctx context.Context, contactUID string) (string, error) {
	id := c.Identity()
	if id == nil {
		return "", fmt.Errorf("not signed in")
	}
	chatID, err := c.resolver.EnsurePrivateChat(ctx, id.UID, contactUID)
	if err != nil {
		return "", err
	}
	return chatID, c.OpenChat(chatID)
}

// Send validates, sanitizes, and appends a message to a chat.
func (c *Client) Send(ctx context.Context, chatID, text string) error {
	id := c.Identity()
	if id == nil {
		return fmt.Errorf("not signed in")
	}
	clean, err := c.guards.CheckMessage(text)
	if err != nil {
		return err
	}
	return c.messages.Send(ctx, chatID, id.UID, id.DisplayName, clean)
}

// SetTyping marks or clears the typing indicator for the signed-in user.
// Marks beyond the rate quota are silently dropped; stop signals always
// go through.
func (c *Client) SetTyping(ctx context.Context, chatID string, isTyping bool) error {
	id := c.Identity()
	if id == nil {
		return fmt.Errorf("not signed in")
	}
	if isTyping && !c.guards.AllowTyping() {
		return nil
	}
	return c.tracker.SetTyping(ctx, chatID, id.UID, isTyping)
}

// AddContact adds the user registered under email to the roster.
func (c *Client) AddContact(ctx context.Context, email string) (*domain.Contact, error) {
	id := c.Identity()
	if id == nil {
		return nil, fmt.Errorf("not signed in")
	}
	return c.contacts.AddContact(ctx, id.UID, email)
}

// UserInfo reads the canonical directory record for a user, reflecting
// their current profile and presence rather than the add-time snapshot.
func (c *Client) UserInfo(ctx context.Context, uid string) (*domain.User, error) {
	if c.Identity() == nil {
		return nil, fmt.Errorf("not signed in")
	}
	return c.contacts.GetUserInfo(ctx, uid)
}

// RemoveContact removes a contact from the roster.
func (c *Client) RemoveContact(ctx context.Context, contactUID string) error {
	id := c.Identity()
	if id == nil {
		return fmt.Errorf("not signed in")
	}
	return c.contacts.RemoveContact(ctx, id.UID, contactUID)
}

// Contacts returns the latest roster snapshot. Until the first remote
// snapshot lands it falls back to the contacts cached by the mirror, so
// a restarted client renders its roster immediately.
func (c *Client) Contacts() []domain.Contact {
	c.mu.Lock()
	live := c.rosterLive
	out := make([]domain.Contact, len(c.roster))
	copy(out, c.roster)
	c.mu.Unlock()

	if !live {
		if cached := c.mirror.CachedRoster(); cached != nil {
			return cached
		}
	}
	return out
}

// Messages returns the latest message list for a chat. For a chat with
// no live snapshot yet it falls back to the cached tail.
func (c *Client) Messages(chatID string) []domain.Message {
	c.mu.Lock()
	msgs, live := c.latest[chatID]
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	c.mu.Unlock()

	if !live {
		if cached := c.mirror.CachedMessages(chatID); cached != nil {
			return cached
		}
	}
	return out
}

// CloseChats drops every live subscription.
func (c *Client) CloseChats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, unsub := range c.unsubs {
		unsub()
		delete(c.unsubs, key)
	}
}
