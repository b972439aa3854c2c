package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Backend with the same contract as the remote
// tree: JSON-shaped values, ordered push keys, materialized server
// timestamps, and whole-snapshot fan-out to subscribers. It backs the
// component tests and the offline mode.
type Memory struct {
	mu        sync.Mutex
	root      map[string]any
	listeners map[uint64]*memListener
	nextID    uint64
	seq       uint64
	closed    bool
}

type memListener struct {
	id   uint64
	path string
	fn   SnapshotFunc
}

// NewMemory creates an empty in-memory tree.
func NewMemory() *Memory {
	return &Memory{
		root:      make(map[string]any),
		listeners: make(map[uint64]*memListener),
	}
}

func (m *Memory) Get(_ context.Context, path string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := getNode(m.root, splitPath(path))
	if !ok {
		return nil, nil
	}
	return deepCopy(v), nil
}

func (m *Memory) Set(_ context.Context, path string, value any) error {
	norm, err := normalizeValue(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	setNode(m.root, splitPath(path), norm)
	pending := m.collect(path)
	m.mu.Unlock()
	dispatch(pending)
	return nil
}

func (m *Memory) Update(_ context.Context, path string, values map[string]any) error {
	norm, err := normalizeValue(values)
	if err != nil {
		return err
	}
	patch, _ := norm.(map[string]any)
	m.mu.Lock()
	segs := splitPath(path)
	node, ok := getNode(m.root, segs)
	branch, isBranch := node.(map[string]any)
	if !ok || !isBranch {
		branch = make(map[string]any)
		setNode(m.root, segs, branch)
	}
	for k, v := range patch {
		if v == nil {
			delete(branch, k)
			continue
		}
		branch[k] = v
	}
	pending := m.collect(path)
	m.mu.Unlock()
	dispatch(pending)
	return nil
}

func (m *Memory) Push(_ context.Context, path string, value any) (string, error) {
	norm, err := normalizeValue(value)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.seq++
	key := fmt.Sprintf("-K%010d-%s", m.seq, uuid.NewString()[:8])
	setNode(m.root, append(splitPath(path), key), norm)
	pending := m.collect(path)
	m.mu.Unlock()
	dispatch(pending)
	return key, nil
}

func (m *Memory) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	deleteNode(m.root, splitPath(path))
	pending := m.collect(path)
	m.mu.Unlock()
	dispatch(pending)
	return nil
}

func (m *Memory) QueryEqual(_ context.Context, path, child string, value any) (map[string]Snapshot, error) {
	want, err := normalizeValue(value)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	node, ok := getNode(m.root, splitPath(path))
	if !ok {
		return nil, nil
	}
	branch, isBranch := node.(map[string]any)
	if !isBranch {
		return nil, nil
	}
	out := make(map[string]Snapshot)
	for key, v := range branch {
		entry, isMap := v.(map[string]any)
		if !isMap {
			continue
		}
		if entry[child] == want {
			out[key] = deepCopy(v)
		}
	}
	return out, nil
}

func (m *Memory) Subscribe(path string, fn SnapshotFunc) UnsubscribeFunc {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		fn(nil)
		return func() {}
	}
	id := m.nextID
	m.nextID++
	m.listeners[id] = &memListener{id: id, path: path, fn: fn}
	node, ok := getNode(m.root, splitPath(path))
	var initial Snapshot
	if ok {
		initial = deepCopy(node)
	}
	m.mu.Unlock()

	// Initial delivery of current state, like the remote feed.
	fn(initial)

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.listeners = make(map[uint64]*memListener)
	m.mu.Unlock()
	return nil
}

type delivery struct {
	fn   SnapshotFunc
	snap Snapshot
}

// collect gathers deliveries for every listener whose subtree overlaps
// the mutated path. Caller holds m.mu.
func (m *Memory) collect(mutated string) []delivery {
	var ids []uint64
	for id, l := range m.listeners {
		if pathsOverlap(l.path, mutated) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []delivery
	for _, id := range ids {
		l := m.listeners[id]
		node, ok := getNode(m.root, splitPath(l.path))
		var snap Snapshot
		if ok {
			snap = deepCopy(node)
		}
		out = append(out, delivery{fn: l.fn, snap: snap})
	}
	return out
}

func dispatch(pending []delivery) {
	for _, d := range pending {
		d.fn(d.snap)
	}
}

// pathsOverlap reports whether a write at b is visible to a listener at
// a: either path is an ancestor of (or equal to) the other.
func pathsOverlap(a, b string) bool {
	as, bs := splitPath(a), splitPath(b)
	n := len(as)
	if len(bs) < n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func getNode(root map[string]any, segs []string) (any, bool) {
	var cur any = root
	for _, s := range segs {
		branch, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = branch[s]
		if !ok {
			return nil, false
		}
	}
	if branch, ok := cur.(map[string]any); ok && len(branch) == 0 {
		return nil, false
	}
	return cur, true
}

func setNode(root map[string]any, segs []string, value any) {
	if len(segs) == 0 {
		for k := range root {
			delete(root, k)
		}
		if branch, ok := value.(map[string]any); ok {
			for k, v := range branch {
				root[k] = v
			}
		}
		return
	}
	cur := root
	for _, s := range segs[:len(segs)-1] {
		next, ok := cur[s].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[s] = next
		}
		cur = next
	}
	if value == nil {
		delete(cur, segs[len(segs)-1])
		return
	}
	cur[segs[len(segs)-1]] = value
}

func deleteNode(root map[string]any, segs []string) {
	setNode(root, segs, nil)
}

func deepCopy(v any) any {
	branch, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := make(map[string]any, len(branch))
	for k, child := range branch {
		out[k] = deepCopy(child)
	}
	return out
}

// normalizeValue round-trips value through JSON so the tree always holds
// map[string]any / []any / string / float64 / bool shapes, then replaces
// server timestamp sentinels with the current epoch milliseconds.
func normalizeValue(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	return materializeServerValues(decoded, time.Now().UnixMilli()), nil
}

func materializeServerValues(v any, nowMillis int64) any {
	branch, ok := v.(map[string]any)
	if !ok {
		return v
	}
	if sv, ok := branch[".sv"]; ok && len(branch) == 1 && sv == "timestamp" {
		return float64(nowMillis)
	}
	for k, child := range branch {
		branch[k] = materializeServerValues(child, nowMillis)
	}
	return branch
}
