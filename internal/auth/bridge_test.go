package auth

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/ncastel/charla/internal/bus"
	"github.com/ncastel/charla/internal/domain"
	"github.com/ncastel/charla/internal/feed"
	"github.com/ncastel/charla/internal/status"
)

func newTestBridge(t *testing.T) (*Bridge, *feed.Memory, *StaticProvider) {
	t.Helper()
	backend := feed.NewMemory()
	t.Cleanup(func() { backend.Close() })
	b := bus.NewBus()
	machine := status.NewMachine(b)
	provider := NewStaticProvider(Identity{
		UID:         "alice",
		Email:       "alice@gmail.com",
		DisplayName: "Alice",
	})
	bridge := NewBridge(provider, backend, machine, b, zap.NewNop())
	if err := bridge.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(bridge.Close)
	return bridge, backend, provider
}

func userRecord(t *testing.T, backend *feed.Memory, uid string) map[string]any {
	t.Helper()
	snap, err := backend.Get(context.Background(), domain.UserPath(uid))
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if snap == nil {
		return nil
	}
	rec, ok := snap.(map[string]any)
	if !ok {
		t.Fatalf("user record is %T, want map", snap)
	}
	return rec
}

func TestSignInMirrorsProfile(t *testing.T) {
	bridge, backend, _ := newTestBridge(t)

	id, err := bridge.SignIn(context.Background())
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if id.UID != "alice" {
		t.Errorf("uid = %q, want alice", id.UID)
	}
	if got := bridge.Current(); got == nil || got.UID != "alice" {
		t.Errorf("current = %v, want alice", got)
	}

	rec := userRecord(t, backend, "alice")
	if rec == nil {
		t.Fatal("no mirrored record at users/alice")
	}
	if rec["email"] != "alice@gmail.com" {
		t.Errorf("email = %v", rec["email"])
	}
	if rec["isOnline"] != true {
		t.Errorf("isOnline = %v, want true", rec["isOnline"])
	}
	if _, ok := rec["lastSeen"].(float64); !ok {
		t.Errorf("lastSeen = %T, want materialized timestamp", rec["lastSeen"])
	}
}

func TestSignOutPreservesContacts(t *testing.T) {
	bridge, backend, _ := newTestBridge(t)
	ctx := context.Background()

	if _, err := bridge.SignIn(ctx); err != nil {
		t.Fatalf("sign in: %v", err)
	}

	contactPath := domain.ContactPath("alice", "bob")
	err := backend.Set(ctx, contactPath, map[string]any{
		"id":    "bob",
		"email": "bob@gmail.com",
	})
	if err != nil {
		t.Fatalf("seed contact: %v", err)
	}

	if err := bridge.SignOut(ctx); err != nil {
		t.Fatalf("sign out: %v", err)
	}

	rec := userRecord(t, backend, "alice")
	if rec == nil {
		t.Fatal("user record gone after sign out")
	}
	if rec["isOnline"] != false {
		t.Errorf("isOnline = %v, want false", rec["isOnline"])
	}
	if rec["email"] != "alice@gmail.com" {
		t.Errorf("email lost on sign out: %v", rec["email"])
	}

	contact, err := backend.Get(ctx, contactPath)
	if err != nil {
		t.Fatalf("get contact: %v", err)
	}
	if contact == nil {
		t.Fatal("contact wiped by sign out")
	}
	if bridge.Current() != nil {
		t.Error("current identity not cleared")
	}
}

func TestReSignInPatchesExistingRecord(t *testing.T) {
	bridge, backend, _ := newTestBridge(t)
	ctx := context.Background()

	if _, err := bridge.SignIn(ctx); err != nil {
		t.Fatalf("first sign in: %v", err)
	}
	contactPath := domain.ContactPath("alice", "bob")
	if err := backend.Set(ctx, contactPath, map[string]any{"id": "bob"}); err != nil {
		t.Fatalf("seed contact: %v", err)
	}
	if err := bridge.SignOut(ctx); err != nil {
		t.Fatalf("sign out: %v", err)
	}

	if _, err := bridge.SignIn(ctx); err != nil {
		t.Fatalf("second sign in: %v", err)
	}

	contact, err := backend.Get(ctx, contactPath)
	if err != nil {
		t.Fatalf("get contact: %v", err)
	}
	if contact == nil {
		t.Fatal("contact lost across sign-out/sign-in cycle")
	}
	rec := userRecord(t, backend, "alice")
	if rec["isOnline"] != true {
		t.Errorf("isOnline = %v after re-sign-in, want true", rec["isOnline"])
	}
}

func TestSignInDrivesStateMachine(t *testing.T) {
	backend := feed.NewMemory()
	defer backend.Close()
	b := bus.NewBus()
	machine := status.NewMachine(b)
	provider := NewStaticProvider(Identity{UID: "alice", Email: "alice@gmail.com"})
	bridge := NewBridge(provider, backend, machine, b, zap.NewNop())

	events, cancel := b.Subscribe("session.", 16)
	defer cancel()

	if err := bridge.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer bridge.Close()
	if machine.Current() != status.Anonymous {
		t.Fatalf("state after start = %s", machine.Current())
	}

	if _, err := bridge.SignIn(context.Background()); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if !machine.Authenticated() {
		t.Error("machine not authenticated after sign in")
	}

	if err := bridge.SignOut(context.Background()); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if machine.Current() != status.Anonymous {
		t.Errorf("state after sign out = %s", machine.Current())
	}

	var kinds []string
	for len(events) > 0 {
		kinds = append(kinds, (<-events).Kind)
	}
	var sawIn, sawOut bool
	for _, k := range kinds {
		switch k {
		case bus.KindSignedIn:
			sawIn = true
		case bus.KindSignedOut:
			sawOut = true
		}
	}
	if !sawIn || !sawOut {
		t.Errorf("events = %v, want signed_in and signed_out", kinds)
	}
}

func TestFailedSignInReturnsToAnonymous(t *testing.T) {
	backend := feed.NewMemory()
	defer backend.Close()
	b := bus.NewBus()
	machine := status.NewMachine(b)
	provider := NewStaticProvider(Identity{UID: "alice"})
	provider.Fail(&AuthError{Op: "sign in", Err: context.DeadlineExceeded})
	bridge := NewBridge(provider, backend, machine, b, zap.NewNop())
	if err := bridge.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer bridge.Close()

	if _, err := bridge.SignIn(context.Background()); err == nil {
		t.Fatal("expected sign in error")
	}
	if machine.Current() != status.Anonymous {
		t.Errorf("state = %s, want ANONYMOUS", machine.Current())
	}
	if bridge.Current() != nil {
		t.Error("identity set after failed sign in")
	}
}
