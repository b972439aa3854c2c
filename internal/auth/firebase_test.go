package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func signInServer(t *testing.T, status int, resp signInResponse) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("key = %q, want test-key", r.URL.Query().Get("key"))
		}
		var req signInRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !req.ReturnSecureToken {
			t.Error("returnSecureToken not set")
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPasswordSignIn(t *testing.T) {
	srv := signInServer(t, http.StatusOK, signInResponse{
		LocalID:     "uid-123",
		Email:       "alice@gmail.com",
		DisplayName: "Alice",
	})

	p := NewPasswordProvider("test-key", "alice@gmail.com", "secret")
	p.endpoint = srv.URL

	id, err := p.SignIn(context.Background())
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if id.UID != "uid-123" {
		t.Errorf("uid = %q", id.UID)
	}
	if id.DisplayName != "Alice" {
		t.Errorf("display name = %q", id.DisplayName)
	}
}

func TestPasswordSignInDisplayNameFallsBackToEmail(t *testing.T) {
	srv := signInServer(t, http.StatusOK, signInResponse{
		LocalID: "uid-123",
		Email:   "alice@gmail.com",
	})

	p := NewPasswordProvider("test-key", "alice@gmail.com", "secret")
	p.endpoint = srv.URL

	id, err := p.SignIn(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if id.DisplayName != "alice@gmail.com" {
		t.Errorf("display name = %q, want email fallback", id.DisplayName)
	}
}

func TestPasswordSignInRejected(t *testing.T) {
	srv := signInServer(t, http.StatusBadRequest, signInResponse{})

	p := NewPasswordProvider("test-key", "alice@gmail.com", "wrong")
	p.endpoint = srv.URL

	_, err := p.SignIn(context.Background())
	if err == nil {
		t.Fatal("expected error for rejected credentials")
	}
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Errorf("error type = %T", err)
	}
}

func TestPasswordProviderNotifiesListeners(t *testing.T) {
	srv := signInServer(t, http.StatusOK, signInResponse{
		LocalID: "uid-123",
		Email:   "alice@gmail.com",
	})

	p := NewPasswordProvider("test-key", "alice@gmail.com", "secret")
	p.endpoint = srv.URL

	var states []*Identity
	unsub := p.OnStateChange(func(id *Identity) {
		states = append(states, id)
	})
	defer unsub()

	if len(states) != 1 || states[0] != nil {
		t.Fatalf("initial state = %v, want one nil", states)
	}

	if _, err := p.SignIn(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := p.SignOut(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(states) != 3 {
		t.Fatalf("got %d notifications, want 3", len(states))
	}
	if states[1] == nil || states[1].UID != "uid-123" {
		t.Errorf("sign-in notification = %v", states[1])
	}
	if states[2] != nil {
		t.Errorf("sign-out notification = %v, want nil", states[2])
	}
}
