// Package feed adapts the remote realtime tree to the rest of the core.
// A Backend exposes atomic node writes and whole-snapshot change
// subscriptions; it never delivers diffs. Callers own diffing, ordering,
// and the one-listener-per-path discipline: subscribing the same path
// twice without unsubscribing first duplicates delivery.
package feed

import "context"

// Snapshot is the decoded value of a subtree at the moment of delivery:
// map[string]any for branches, string/float64/bool for leaves, or nil
// when the path holds no data.
type Snapshot = any

// SnapshotFunc receives the full current snapshot of a subscribed
// subtree. It is invoked once on registration with current state, then
// again after every mutation.
type SnapshotFunc func(Snapshot)

// UnsubscribeFunc tears down a subscription. Safe to call more than
// once. Owners must call it when switching chats or shutting down, or
// deliveries accumulate for the abandoned path.
type UnsubscribeFunc func()

// Backend is the remote ordered tree.
//
// Subscribe is fail-open: transport errors during setup or streaming are
// logged and surfaced to fn as a nil snapshot, never as a panic or a
// synchronous error in the caller's delivery path.
type Backend interface {
	// Get reads the current value at path. A missing path yields nil, nil.
	Get(ctx context.Context, path string) (Snapshot, error)

	// Set writes value at path, replacing any existing subtree.
	Set(ctx context.Context, path string, value any) error

	// Update merges values into the node at path. Untouched children are
	// preserved; this is the patch primitive presence updates depend on.
	Update(ctx context.Context, path string, values map[string]any) error

	// Push appends value under path with a server-generated ordered key
	// and returns that key.
	Push(ctx context.Context, path string, value any) (string, error)

	// Delete removes the subtree at path. Deleting an absent path is a
	// no-op success.
	Delete(ctx context.Context, path string) error

	// QueryEqual returns the children of path whose child field equals
	// value, keyed by child key.
	QueryEqual(ctx context.Context, path, child string, value any) (map[string]Snapshot, error)

	// Subscribe delivers whole-subtree snapshots for path.
	Subscribe(path string, fn SnapshotFunc) UnsubscribeFunc

	// Close releases transport resources and stops all subscriptions.
	Close() error
}

// ServerTimestamp is the server value sentinel: the database replaces it
// with the epoch-millisecond write time. Readers may observe the
// resulting value in several encodings; see domain.NormalizeTimestamp.
func ServerTimestamp() any {
	return map[string]string{".sv": "timestamp"}
}
