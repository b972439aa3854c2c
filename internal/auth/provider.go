// Package auth bridges the identity provider and the rest of the core:
// it mirrors the signed-in profile into the remote tree and republishes
// provider events as local session state transitions.
package auth

import (
	"context"
	"fmt"
	"sync"
)

// Identity is the stable profile the identity provider yields.
type Identity struct {
	UID         string
	Email       string
	DisplayName string
	PhotoURL    string
}

// StateFunc receives the identity on sign-in, or nil on sign-out.
type StateFunc func(*Identity)

// Provider is the external identity service. Implementations call every
// registered state listener once on registration with current state,
// then on each sign-in/sign-out transition.
type Provider interface {
	SignIn(ctx context.Context) (*Identity, error)
	SignOut(ctx context.Context) error
	OnStateChange(fn StateFunc) (unsubscribe func())
}

// AuthError wraps a failure from the identity provider.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// StaticProvider serves a fixed identity without any remote service.
// It backs the offline mode and the bridge tests.
type StaticProvider struct {
	identity Identity

	mu        sync.Mutex
	current   *Identity
	failWith  error
	listeners map[int]StateFunc
	next      int
}

// NewStaticProvider creates a provider that always signs in as identity.
func NewStaticProvider(identity Identity) *StaticProvider {
	return &StaticProvider{
		identity:  identity,
		listeners: make(map[int]StateFunc),
	}
}

// Fail makes every subsequent SignIn return err. Pass nil to clear.
func (p *StaticProvider) Fail(err error) {
	p.mu.Lock()
	p.failWith = err
	p.mu.Unlock()
}

func (p *StaticProvider) SignIn(context.Context) (*Identity, error) {
	id := p.identity
	p.mu.Lock()
	if p.failWith != nil {
		err := p.failWith
		p.mu.Unlock()
		return nil, err
	}
	p.current = &id
	fns := p.snapshotListeners()
	p.mu.Unlock()
	for _, fn := range fns {
		fn(&id)
	}
	return &id, nil
}

func (p *StaticProvider) SignOut(context.Context) error {
	p.mu.Lock()
	p.current = nil
	fns := p.snapshotListeners()
	p.mu.Unlock()
	for _, fn := range fns {
		fn(nil)
	}
	return nil
}

func (p *StaticProvider) OnStateChange(fn StateFunc) func() {
	p.mu.Lock()
	id := p.next
	p.next++
	p.listeners[id] = fn
	current := p.current
	p.mu.Unlock()

	fn(current)

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// snapshotListeners copies the listener set so callbacks run unlocked.
// Caller holds p.mu.
func (p *StaticProvider) snapshotListeners() []StateFunc {
	fns := make([]StateFunc, 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	return fns
}
