package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// stream services one Realtime Database event-stream subscription. The
// server sends put/patch events carrying paths relative to the
// subscribed node; stream folds them into a local copy of the subtree
// and hands the whole snapshot to the callback after every change.
type stream struct {
	path    string
	fn      SnapshotFunc
	tokens  oauth2.TokenSource
	httpc   *http.Client
	baseURL string
	logger  *zap.Logger

	local any
}

type streamEvent struct {
	Path string `json:"path"`
	Data any    `json:"data"`
}

func (s *stream) run(ctx context.Context) {
	backoff := streamBackoffMin
	for {
		err := s.connect(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Warn("stream disconnected",
				zap.String("path", s.path),
				zap.Error(err))
			// Fail open: the subscriber sees empty state, never an error.
			s.fn(nil)
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > streamBackoffMax {
			backoff = streamBackoffMax
		}
	}
}

func (s *stream) connect(ctx context.Context) error {
	tok, err := s.tokens.Token()
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}

	url := fmt.Sprintf("%s/%s.json?access_token=%s", s.baseURL, s.path, tok.AccessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.httpc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream status %d", resp.StatusCode)
	}

	reader := bufio.NewReaderSize(resp.Body, 64*1024)
	var event, data string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "":
			if event != "" {
				if err := s.handle(event, data); err != nil {
					return err
				}
			}
			event, data = "", ""
		}
	}
}

func (s *stream) handle(event, data string) error {
	switch event {
	case "put", "patch":
		var evt streamEvent
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			return fmt.Errorf("decode %s event: %w", event, err)
		}
		segs := splitPath(evt.Path)
		if event == "put" {
			s.local = applyPut(s.local, segs, evt.Data)
		} else {
			patch, _ := evt.Data.(map[string]any)
			s.local = applyPatch(s.local, segs, patch)
		}
		s.fn(deepCopy(s.local))
		return nil
	case "keep-alive":
		return nil
	case "cancel":
		return fmt.Errorf("stream cancelled by server")
	case "auth_revoked":
		// Reconnect picks up a fresh token.
		return fmt.Errorf("stream credential expired")
	default:
		return nil
	}
}

// applyPut replaces the subtree at segs with data. nil data removes the
// node; emptied branches collapse to nil, matching the tree's
// absent-equals-empty convention.
func applyPut(cur any, segs []string, data any) any {
	if len(segs) == 0 {
		return data
	}
	branch, ok := cur.(map[string]any)
	if !ok {
		branch = make(map[string]any)
	}
	child := applyPut(branch[segs[0]], segs[1:], data)
	if child == nil {
		delete(branch, segs[0])
	} else {
		branch[segs[0]] = child
	}
	if len(branch) == 0 {
		return nil
	}
	return branch
}

// applyPatch merges the patch keys into the node at segs. A nil value
// for a key removes that child.
func applyPatch(cur any, segs []string, patch map[string]any) any {
	if len(segs) == 0 {
		branch, ok := cur.(map[string]any)
		if !ok {
			branch = make(map[string]any)
		}
		for k, v := range patch {
			if v == nil {
				delete(branch, k)
				continue
			}
			branch[k] = v
		}
		if len(branch) == 0 {
			return nil
		}
		return branch
	}
	branch, ok := cur.(map[string]any)
	if !ok {
		branch = make(map[string]any)
	}
	child := applyPatch(branch[segs[0]], segs[1:], patch)
	if child == nil {
		delete(branch, segs[0])
	} else {
		branch[segs[0]] = child
	}
	if len(branch) == 0 {
		return nil
	}
	return branch
}
