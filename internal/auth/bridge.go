package auth

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ncastel/charla/internal/bus"
	"github.com/ncastel/charla/internal/domain"
	"github.com/ncastel/charla/internal/feed"
	"github.com/ncastel/charla/internal/status"
)

// Bridge ties the identity provider to the local session: it mirrors
// the profile into users/{uid} on sign-in, patches presence on
// sign-out, and drives the session state machine.
//
// The sign-out path must stay a merge-patch. A full overwrite of the
// user record wipes the contacts subtree; that bug shipped once and is
// why mirror() below never calls Set on an existing record.
type Bridge struct {
	provider Provider
	backend  feed.Backend
	machine  *status.Machine
	bus      *bus.Bus
	logger   *zap.Logger

	mu      sync.Mutex
	current *Identity
	unsub   func()
}

// NewBridge creates a bridge over the given provider and backend.
func NewBridge(provider Provider, backend feed.Backend, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *Bridge {
	return &Bridge{
		provider: provider,
		backend:  backend,
		machine:  machine,
		bus:      b,
		logger:   logger,
	}
}

// Start moves the machine out of Booting and watches provider state so
// an externally initiated sign-out (expired session) is reflected
// locally.
func (b *Bridge) Start() error {
	if err := b.machine.Transition(status.Anonymous); err != nil {
		return err
	}
	b.unsub = b.provider.OnStateChange(b.handleProviderState)
	return nil
}

// Close detaches the provider listener.
func (b *Bridge) Close() {
	if b.unsub != nil {
		b.unsub()
		b.unsub = nil
	}
}

// Current returns the signed-in identity, or nil.
func (b *Bridge) Current() *Identity {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// SignIn authenticates and mirrors the profile into the remote tree.
func (b *Bridge) SignIn(ctx context.Context) (*Identity, error) {
	if err := b.machine.Transition(status.Authenticating); err != nil {
		return nil, err
	}

	id, err := b.provider.SignIn(ctx)
	if err != nil {
		_ = b.machine.Transition(status.Anonymous)
		return nil, err
	}

	if err := b.mirror(ctx, id); err != nil {
		_ = b.machine.Transition(status.Anonymous)
		return nil, err
	}

	b.mu.Lock()
	b.current = id
	b.mu.Unlock()

	if err := b.machine.Transition(status.Authenticated); err != nil {
		return nil, err
	}
	b.bus.Publish(bus.New(bus.KindSignedIn, id.UID))
	if b.logger != nil {
		b.logger.Info("signed in", zap.String("uid", id.UID))
	}
	return id, nil
}

// SignOut patches presence fields and transitions to Anonymous. Only
// isOnline and lastSeen are written; everything else on the record,
// contacts included, stays untouched.
func (b *Bridge) SignOut(ctx context.Context) error {
	b.mu.Lock()
	id := b.current
	b.current = nil
	b.mu.Unlock()

	if id != nil {
		path := domain.UserPath(id.UID)
		err := b.backend.Update(ctx, path, map[string]any{
			"isOnline": false,
			"lastSeen": feed.ServerTimestamp(),
		})
		if err != nil {
			return &domain.WriteError{Op: "sign out", Path: path, Err: err}
		}
	}

	if err := b.provider.SignOut(ctx); err != nil {
		return err
	}

	if b.machine.Authenticated() {
		if err := b.machine.Transition(status.Anonymous); err != nil {
			return err
		}
	}
	b.bus.Publish(bus.New(bus.KindSignedOut, nil))
	if b.logger != nil {
		b.logger.Info("signed out")
	}
	return nil
}

// mirror upserts users/{uid}. A new user gets the full record; an
// existing one gets a profile patch so nested contact data survives.
func (b *Bridge) mirror(ctx context.Context, id *Identity) error {
	path := domain.UserPath(id.UID)

	existing, err := b.backend.Get(ctx, path)
	if err != nil {
		return &domain.WriteError{Op: "mirror profile", Path: path, Err: err}
	}

	profile := map[string]any{
		"uid":         id.UID,
		"email":       id.Email,
		"displayName": id.DisplayName,
		"isOnline":    true,
		"lastSeen":    feed.ServerTimestamp(),
	}
	if id.PhotoURL != "" {
		profile["photoURL"] = id.PhotoURL
	}

	if existing == nil {
		if err := b.backend.Set(ctx, path, profile); err != nil {
			return &domain.WriteError{Op: "mirror profile", Path: path, Err: err}
		}
		return nil
	}
	if err := b.backend.Update(ctx, path, profile); err != nil {
		return &domain.WriteError{Op: "mirror profile", Path: path, Err: err}
	}
	return nil
}

// handleProviderState reflects provider-initiated transitions, such as
// a session expiring underneath the client.
func (b *Bridge) handleProviderState(id *Identity) {
	if id != nil {
		return
	}
	b.mu.Lock()
	wasSignedIn := b.current != nil
	b.current = nil
	b.mu.Unlock()

	if wasSignedIn && b.machine.Authenticated() {
		_ = b.machine.Transition(status.Anonymous)
		b.bus.Publish(bus.New(bus.KindSignedOut, nil))
	}
}
