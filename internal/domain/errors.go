package domain

import "fmt"

// ValidationError reports input that fails a policy or shape check, such
// as an email outside the accepted domain. Reported inline, never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DuplicateError reports an add for an entry that already exists. Contact
// add is not idempotent at this layer: callers see the duplicate, not a
// silent no-op.
type DuplicateError struct {
	Kind string
	ID   string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Kind, e.ID)
}

// NotFoundError reports a directory lookup miss, such as a contact email
// that has never signed in.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// WriteError wraps a transport failure on a remote write. The caller must
// not assume delivery until the change round-trips back through a listener.
type WriteError struct {
	Op   string
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// SubscriptionError wraps a transport failure while a subscription is
// being established or serviced. Subscriptions fail open to an empty
// snapshot; this error is surfaced through logs, never thrown into the
// caller's delivery path.
type SubscriptionError struct {
	Path string
	Err  error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscribe %s: %v", e.Path, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }
