package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

func TestApplyPutRoot(t *testing.T) {
	got := applyPut(nil, nil, map[string]any{"a": "1"})
	want := map[string]any{"a": "1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestApplyPutNested(t *testing.T) {
	cur := map[string]any{"m1": map[string]any{"text": "hi"}}
	got := applyPut(cur, []string{"m2"}, map[string]any{"text": "yo"})
	branch := got.(map[string]any)
	if len(branch) != 2 {
		t.Fatalf("got %d children, want 2", len(branch))
	}
}

func TestApplyPutNilRemoves(t *testing.T) {
	cur := map[string]any{"u1": map[string]any{"isTyping": true}}
	got := applyPut(cur, []string{"u1"}, nil)
	if got != nil {
		t.Errorf("got %v, want nil after removing only child", got)
	}
}

func TestApplyPatchMerges(t *testing.T) {
	cur := map[string]any{"isOnline": true, "email": "a@gmail.com"}
	got := applyPatch(cur, nil, map[string]any{"isOnline": false})
	branch := got.(map[string]any)
	if branch["isOnline"] != false {
		t.Errorf("isOnline = %v, want false", branch["isOnline"])
	}
	if branch["email"] != "a@gmail.com" {
		t.Error("patch dropped sibling key")
	}
}

func TestStreamDeliversSnapshots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		_, _ = w.Write([]byte("event: put\ndata: {\"path\":\"/\",\"data\":{\"m1\":{\"text\":\"hi\"}}}\n\n"))
		flusher.Flush()
		_, _ = w.Write([]byte("event: keep-alive\ndata: null\n\n"))
		flusher.Flush()
		_, _ = w.Write([]byte("event: patch\ndata: {\"path\":\"/m1\",\"data\":{\"text\":\"edited\"}}\n\n"))
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	snaps := make(chan Snapshot, 8)
	s := &stream{
		path:    "chats/c1/messages",
		fn:      func(v Snapshot) { snaps <- v },
		tokens:  oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "t", Expiry: time.Now().Add(time.Hour)}),
		httpc:   srv.Client(),
		baseURL: srv.URL,
		logger:  zap.NewNop(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.run(ctx)

	first := waitSnapshot(t, snaps)
	branch := first.(map[string]any)
	if branch["m1"].(map[string]any)["text"] != "hi" {
		t.Errorf("first snapshot = %v", first)
	}

	second := waitSnapshot(t, snaps)
	branch = second.(map[string]any)
	if branch["m1"].(map[string]any)["text"] != "edited" {
		t.Errorf("second snapshot = %v", second)
	}
}

func waitSnapshot(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for snapshot")
		return nil
	}
}
