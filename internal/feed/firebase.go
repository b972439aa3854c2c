package feed

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

// Scopes required for Realtime Database REST access.
var databaseScopes = []string{
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/firebase.database",
}

// FirebaseConfig holds the remote connection parameters. All fields are
// required; the config layer refuses to start without them.
type FirebaseConfig struct {
	ProjectID       string
	DatabaseURL     string
	CredentialsFile string
}

// Firebase is the Realtime Database Backend. Writes and queries go
// through the admin SDK; subscriptions use the REST streaming protocol
// (text/event-stream) because the Go SDK exposes no listeners.
type Firebase struct {
	client  *db.Client
	tokens  oauth2.TokenSource
	httpc   *http.Client
	baseURL string
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFirebase connects to the Realtime Database described by cfg.
func NewFirebase(ctx context.Context, cfg FirebaseConfig, logger *zap.Logger) (*Firebase, error) {
	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID:   cfg.ProjectID,
		DatabaseURL: cfg.DatabaseURL,
	}, option.WithCredentialsFile(cfg.CredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("database client: %w", err)
	}

	raw, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, raw, databaseScopes...)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	return &Firebase{
		client:  client,
		tokens:  creds.TokenSource,
		httpc:   &http.Client{},
		baseURL: strings.TrimRight(cfg.DatabaseURL, "/"),
		logger:  logger,
		ctx:     runCtx,
		cancel:  cancel,
	}, nil
}

func (f *Firebase) Get(ctx context.Context, path string) (Snapshot, error) {
	var v any
	if err := f.client.NewRef(path).Get(ctx, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (f *Firebase) Set(ctx context.Context, path string, value any) error {
	return f.client.NewRef(path).Set(ctx, value)
}

func (f *Firebase) Update(ctx context.Context, path string, values map[string]any) error {
	patch := make(map[string]any, len(values))
	for k, v := range values {
		patch[k] = v
	}
	return f.client.NewRef(path).Update(ctx, patch)
}

func (f *Firebase) Push(ctx context.Context, path string, value any) (string, error) {
	ref, err := f.client.NewRef(path).Push(ctx, value)
	if err != nil {
		return "", err
	}
	return ref.Key, nil
}

func (f *Firebase) Delete(ctx context.Context, path string) error {
	return f.client.NewRef(path).Delete(ctx)
}

func (f *Firebase) QueryEqual(ctx context.Context, path, child string, value any) (map[string]Snapshot, error) {
	nodes, err := f.client.NewRef(path).OrderByChild(child).EqualTo(value).GetOrdered(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Snapshot, len(nodes))
	for _, node := range nodes {
		var v any
		if err := node.Unmarshal(&v); err != nil {
			return nil, err
		}
		out[node.Key()] = v
	}
	return out, nil
}

// Subscribe opens a streaming connection for path and delivers whole
// snapshots. Setup and transport failures fail open: the callback sees a
// nil snapshot and the stream retries with backoff until unsubscribed.
func (f *Firebase) Subscribe(path string, fn SnapshotFunc) UnsubscribeFunc {
	ctx, cancel := context.WithCancel(f.ctx)
	s := &stream{
		path:    strings.Trim(path, "/"),
		fn:      fn,
		tokens:  f.tokens,
		httpc:   f.httpc,
		baseURL: f.baseURL,
		logger:  f.logger,
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		s.run(ctx)
	}()
	return UnsubscribeFunc(cancel)
}

func (f *Firebase) Close() error {
	f.cancel()
	f.wg.Wait()
	return nil
}

const (
	streamBackoffMin = time.Second
	streamBackoffMax = 30 * time.Second
)
