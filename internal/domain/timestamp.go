package domain

import "time"

// NormalizeTimestamp maps the encodings a stored server timestamp is
// observed in (epoch milliseconds, an ISO-8601 string, or a {seconds}
// wrapper) onto a single time.Time. Reports false when the value is none
// of these; callers fall back to the delivery time.
func NormalizeTimestamp(v any) (time.Time, bool) {
	switch ts := v.(type) {
	case float64:
		return time.UnixMilli(int64(ts)), true
	case int64:
		return time.UnixMilli(ts), true
	case string:
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			return t, true
		}
		return time.Time{}, false
	case map[string]any:
		secs, ok := ts["seconds"].(float64)
		if !ok {
			return time.Time{}, false
		}
		return time.Unix(int64(secs), 0), true
	default:
		return time.Time{}, false
	}
}
