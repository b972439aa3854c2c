package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

const identityToolkitURL = "https://identitytoolkit.googleapis.com/v1/accounts:signInWithPassword"

// PasswordProvider signs in against the Firebase Identity Toolkit with
// the account credentials from the local config. The refresh flow is
// not needed: the provider only yields the stable profile, all database
// access is authorized separately.
type PasswordProvider struct {
	apiKey   string
	email    string
	password string
	httpc    *http.Client
	endpoint string

	mu        sync.Mutex
	current   *Identity
	listeners map[int]StateFunc
	next      int
}

// NewPasswordProvider creates a provider for the given account.
func NewPasswordProvider(apiKey, email, password string) *PasswordProvider {
	return &PasswordProvider{
		apiKey:    apiKey,
		email:     email,
		password:  password,
		httpc:     &http.Client{},
		endpoint:  identityToolkitURL,
		listeners: make(map[int]StateFunc),
	}
}

type signInRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type signInResponse struct {
	LocalID        string `json:"localId"`
	Email          string `json:"email"`
	DisplayName    string `json:"displayName"`
	ProfilePicture string `json:"profilePicture"`
}

func (p *PasswordProvider) SignIn(ctx context.Context) (*Identity, error) {
	body, err := json.Marshal(signInRequest{
		Email:             p.email,
		Password:          p.password,
		ReturnSecureToken: true,
	})
	if err != nil {
		return nil, &AuthError{Op: "sign in", Err: err}
	}

	url := p.endpoint + "?key=" + p.apiKey
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &AuthError{Op: "sign in", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpc.Do(req)
	if err != nil {
		return nil, &AuthError{Op: "sign in", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, &AuthError{Op: "sign in", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var decoded signInResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &AuthError{Op: "sign in", Err: err}
	}

	id := Identity{
		UID:         decoded.LocalID,
		Email:       decoded.Email,
		DisplayName: decoded.DisplayName,
		PhotoURL:    decoded.ProfilePicture,
	}
	if id.DisplayName == "" {
		id.DisplayName = id.Email
	}

	p.mu.Lock()
	p.current = &id
	fns := p.snapshotListeners()
	p.mu.Unlock()
	for _, fn := range fns {
		fn(&id)
	}
	return &id, nil
}

func (p *PasswordProvider) SignOut(context.Context) error {
	p.mu.Lock()
	p.current = nil
	fns := p.snapshotListeners()
	p.mu.Unlock()
	for _, fn := range fns {
		fn(nil)
	}
	return nil
}

func (p *PasswordProvider) OnStateChange(fn StateFunc) func() {
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

func (p *PasswordProvider) snapshotListeners() []StateFunc {
	fns := make([]StateFunc, 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	return fns
}
