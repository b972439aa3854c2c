package client

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ncastel/charla/internal/auth"
	"github.com/ncastel/charla/internal/bus"
	"github.com/ncastel/charla/internal/chat"
	"github.com/ncastel/charla/internal/contact"
	"github.com/ncastel/charla/internal/domain"
	"github.com/ncastel/charla/internal/feed"
	"github.com/ncastel/charla/internal/message"
	"github.com/ncastel/charla/internal/policy"
	"github.com/ncastel/charla/internal/status"
	"github.com/ncastel/charla/internal/store"
	"github.com/ncastel/charla/internal/typing"
)

type fixture struct {
	client  *Client
	backend *feed.Memory
	db      *store.DB
	mirror  *Mirror
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	backend := feed.NewMemory()
	t.Cleanup(func() { backend.Close() })

	db, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.NewBus()
	machine := status.NewMachine(b)
	provider := auth.NewStaticProvider(auth.Identity{
		UID:         "alice",
		Email:       "alice@gmail.com",
		DisplayName: "Alice",
	})
	bridge := auth.NewBridge(provider, backend, machine, b, logger)
	if err := bridge.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(bridge.Close)

	guards := policy.NewGuards("@gmail.com")
	tracker := typing.NewTracker(backend, b, logger)
	t.Cleanup(tracker.Close)
	mirror := NewMirror(db, b, logger)
	mirror.Start(context.Background())
	t.Cleanup(mirror.Stop)

	c := New(
		bridge,
		chat.NewResolver(backend, logger),
		contact.NewManager(backend, guards, b, logger),
		message.NewReconciler(backend, b, logger),
		tracker,
		guards,
		mirror,
		logger,
	)
	t.Cleanup(c.CloseChats)
	return &fixture{client: c, backend: backend, db: db, mirror: mirror}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func TestContactsFallBackToCacheBeforeFirstSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A previous run left a session and roster in the cache.
	err := f.db.SaveSession(&store.Session{UID: "alice", Email: "alice@gmail.com"})
	if err != nil {
		t.Fatal(err)
	}
	err = f.db.ReplaceContacts("alice", []store.Contact{
		{ContactUID: "bob", Email: "bob@gmail.com", DisplayName: "Bob", LastSeen: time.Now().UnixMilli()},
	})
	if err != nil {
		t.Fatal(err)
	}

	contacts := f.client.Contacts()
	if len(contacts) != 1 || contacts[0].ID != "bob" {
		t.Fatalf("warm-start roster = %v, want cached bob", contacts)
	}

	// The first live snapshot replaces the cached roster, even when it
	// is empty.
	if err := f.client.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := f.client.Contacts(); len(got) != 0 {
		t.Errorf("roster after live snapshot = %v, want empty", got)
	}
}

func TestMessagesFallBackToCacheBeforeFirstSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	chatID := "private_alice_bob"
	err := f.db.ReplaceMessages(chatID, []store.Message{
		{MsgID: "m2", SenderUID: "bob", SenderName: "Bob", Body: "second", Timestamp: 2000},
		{MsgID: "m1", SenderUID: "alice", SenderName: "Alice", Body: "first", Timestamp: 1000},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.client.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}

	// The chat is not open, so the cached tail renders, oldest first.
	msgs := f.client.Messages(chatID)
	if len(msgs) != 2 {
		t.Fatalf("warm-start messages = %v, want 2 cached", msgs)
	}
	if msgs[0].Text != "first" || msgs[1].Text != "second" {
		t.Errorf("cached messages out of order: %v", msgs)
	}

	// Opening the chat delivers the live snapshot, which wins even when
	// empty.
	if err := f.client.OpenChat(chatID); err != nil {
		t.Fatal(err)
	}
	if got := f.client.Messages(chatID); len(got) != 0 {
		t.Errorf("messages after live snapshot = %v, want empty", got)
	}
}

func TestOpenProvisionsGeneralChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.client.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}

	snap, err := f.backend.Get(ctx, domain.ChatPath(chat.GeneralChatID))
	if err != nil {
		t.Fatal(err)
	}
	if snap == nil {
		t.Fatal("general chat not provisioned")
	}
	if id := f.client.Identity(); id == nil || id.UID != "alice" {
		t.Errorf("identity = %v", id)
	}
}

func TestSendAndReceive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.client.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if err := f.client.Send(ctx, chat.GeneralChatID, "hello everyone"); err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(t, func() bool {
		return len(f.client.Messages(chat.GeneralChatID)) == 1
	})
	msgs := f.client.Messages(chat.GeneralChatID)
	if msgs[0].Text != "hello everyone" {
		t.Errorf("text = %q", msgs[0].Text)
	}
	if msgs[0].SenderID != "alice" {
		t.Errorf("sender = %q", msgs[0].SenderID)
	}
}

func TestSendRejectsInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.client.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if err := f.client.Send(ctx, chat.GeneralChatID, "   "); err == nil {
		t.Error("blank message accepted")
	}

	time.Sleep(20 * time.Millisecond)
	if n := len(f.client.Messages(chat.GeneralChatID)); n != 0 {
		t.Errorf("messages = %d, want 0", n)
	}
}

func TestContactRosterFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.backend.Set(ctx, domain.UserPath("bob"), map[string]any{
		"uid":         "bob",
		"email":       "bob@gmail.com",
		"displayName": "Bob",
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.client.Open(ctx); err != nil {
		t.Fatal(err)
	}
	added, err := f.client.AddContact(ctx, "bob@gmail.com")
	if err != nil {
		t.Fatalf("add contact: %v", err)
	}
	if added.ID != "bob" {
		t.Errorf("contact id = %q, want bob", added.ID)
	}

	waitFor(t, func() bool {
		return len(f.client.Contacts()) == 1
	})

	// The mirror should have cached the roster for the owner.
	waitFor(t, func() bool {
		cached, err := f.db.ListContacts("alice")
		return err == nil && len(cached) == 1
	})

	if err := f.client.RemoveContact(ctx, "bob"); err != nil {
		t.Fatalf("remove contact: %v", err)
	}
	waitFor(t, func() bool {
		return len(f.client.Contacts()) == 0
	})
}

func TestOpenPrivateChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.client.Open(ctx); err != nil {
		t.Fatal(err)
	}
	chatID, err := f.client.OpenPrivateChat(ctx, "bob")
	if err != nil {
		t.Fatalf("open private chat: %v", err)
	}
	if chatID != "private_alice_bob" {
		t.Errorf("chat id = %q", chatID)
	}

	if err := f.client.Send(ctx, chatID, "psst"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		return len(f.client.Messages(chatID)) == 1
	})
}

func TestTypingThroughFacade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.client.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if err := f.client.SetTyping(ctx, chat.GeneralChatID, true); err != nil {
		t.Fatalf("set typing: %v", err)
	}

	snap, err := f.backend.Get(ctx, domain.TypingMarkPath(chat.GeneralChatID, "alice"))
	if err != nil {
		t.Fatal(err)
	}
	if snap == nil {
		t.Fatal("typing mark not written")
	}

	if err := f.client.SetTyping(ctx, chat.GeneralChatID, false); err != nil {
		t.Fatal(err)
	}
	snap, err = f.backend.Get(ctx, domain.TypingMarkPath(chat.GeneralChatID, "alice"))
	if err != nil {
		t.Fatal(err)
	}
	if snap != nil {
		t.Error("typing mark not cleared")
	}
}

func TestMirrorPersistsSessionAndMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.client.Open(ctx); err != nil {
		t.Fatal(err)
	}
	s, err := f.db.LoadSession()
	if err != nil {
		t.Fatal(err)
	}
	if s == nil || s.UID != "alice" {
		t.Fatalf("session = %v, want alice", s)
	}

	if err := f.client.Send(ctx, chat.GeneralChatID, "cache me"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		n, err := f.db.MessageCount(chat.GeneralChatID)
		return err == nil && n == 1
	})
}
