// Package policy holds the guards consulted before any outbound write:
// rate limits, spam detection, length validation, and text sanitization.
// Guards are pure local state; nothing here touches the remote tree.
package policy

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/ncastel/charla/internal/domain"
)

// MaxMessageLength is the longest accepted message text.
const MaxMessageLength = 5000

// Default quotas, one limiter per action kind.
const (
	messageBurst    = 10
	messageWindow   = 10 * time.Second
	contactBurst    = 5
	contactWindow   = time.Minute
	typingBurst     = 20
	typingWindow    = 10 * time.Second
	spamMaxRepeats  = 3
	spamHistorySize = 10
)

var emailRegexp = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// RateLimiter is a sliding-window counter: at most max events per window.
type RateLimiter struct {
	mu     sync.Mutex
	stamps []time.Time
	max    int
	window time.Duration
	now    func() time.Time
}

// NewRateLimiter creates a limiter allowing max events per window.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{max: max, window: window, now: time.Now}
}

// Allow records one event and reports whether it fits the window.
func (l *RateLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.prune(now)
	if len(l.stamps) >= l.max {
		return false
	}
	l.stamps = append(l.stamps, now)
	return true
}

// RetryAfter returns how long until the next event would be allowed.
func (l *RateLimiter) RetryAfter() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.prune(now)
	if len(l.stamps) < l.max {
		return 0
	}
	d := l.window - now.Sub(l.stamps[0])
	if d < 0 {
		return 0
	}
	return d
}

// Reset clears the window.
func (l *RateLimiter) Reset() {
	l.mu.Lock()
	l.stamps = nil
	l.mu.Unlock()
}

func (l *RateLimiter) prune(now time.Time) {
	cut := 0
	for cut < len(l.stamps) && now.Sub(l.stamps[cut]) >= l.window {
		cut++
	}
	l.stamps = l.stamps[cut:]
}

// SpamDetector flags a message repeated too many times within the recent
// history.
type SpamDetector struct {
	mu     sync.Mutex
	recent []string
	max    int
}

// NewSpamDetector creates a detector flagging maxRepeats duplicates.
func NewSpamDetector(maxRepeats int) *SpamDetector {
	return &SpamDetector{max: maxRepeats}
}

// IsSpam records text and reports whether it repeats an earlier message
// beyond the allowed count.
func (d *SpamDetector) IsSpam(text string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	d.mu.Lock()
	defer d.mu.Unlock()
	count := 0
	for _, m := range d.recent {
		if m == normalized {
			count++
		}
	}
	if count >= d.max {
		return true
	}
	d.recent = append(d.recent, normalized)
	if len(d.recent) > spamHistorySize {
		d.recent = d.recent[len(d.recent)-spamHistorySize:]
	}
	return false
}

// Reset clears the history.
func (d *SpamDetector) Reset() {
	d.mu.Lock()
	d.recent = nil
	d.mu.Unlock()
}

// ValidateLength rejects empty-after-trim and over-long message text.
func ValidateLength(text string) error {
	if strings.TrimSpace(text) == "" {
		return &domain.ValidationError{Field: "message", Reason: "empty"}
	}
	if len(text) > MaxMessageLength {
		return &domain.ValidationError{Field: "message", Reason: "too long"}
	}
	return nil
}

// ValidEmail reports whether email has a plausible address shape.
func ValidEmail(email string) bool {
	return emailRegexp.MatchString(email)
}

// Guards bundles the per-session policy state the send paths consult.
type Guards struct {
	Messages    *RateLimiter
	ContactAdds *RateLimiter
	Typing      *RateLimiter
	Spam        *SpamDetector

	sanitizer      *bluemonday.Policy
	acceptedDomain string
}

// NewGuards creates guards with the default quotas. acceptedDomain is
// the required email suffix for contact adds, e.g. "@gmail.com".
func NewGuards(acceptedDomain string) *Guards {
	return &Guards{
		Messages:       NewRateLimiter(messageBurst, messageWindow),
		ContactAdds:    NewRateLimiter(contactBurst, contactWindow),
		Typing:         NewRateLimiter(typingBurst, typingWindow),
		Spam:           NewSpamDetector(spamMaxRepeats),
		sanitizer:      bluemonday.StrictPolicy(),
		acceptedDomain: acceptedDomain,
	}
}

// Sanitize strips markup from text, keeping the content.
func (g *Guards) Sanitize(text string) string {
	return g.sanitizer.Sanitize(text)
}

// CheckMessage runs the full outbound message gauntlet: trim, length,
// rate limit, spam, sanitize. Returns the text to send.
func (g *Guards) CheckMessage(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if err := ValidateLength(trimmed); err != nil {
		return "", err
	}
	if !g.Messages.Allow() {
		return "", &domain.ValidationError{Field: "message", Reason: "rate limit exceeded"}
	}
	if g.Spam.IsSpam(trimmed) {
		return "", &domain.ValidationError{Field: "message", Reason: "repeated message"}
	}
	return g.Sanitize(trimmed), nil
}

// CheckContactEmail validates an address for a contact add.
func (g *Guards) CheckContactEmail(email string) error {
	if !ValidEmail(email) {
		return &domain.ValidationError{Field: "email", Reason: "malformed address"}
	}
	if !strings.HasSuffix(strings.ToLower(email), g.acceptedDomain) {
		return &domain.ValidationError{Field: "email", Reason: "must end with " + g.acceptedDomain}
	}
	if !g.ContactAdds.Allow() {
		return &domain.ValidationError{Field: "email", Reason: "rate limit exceeded"}
	}
	return nil
}

// AllowTyping reports whether a typing signal may be written now.
func (g *Guards) AllowTyping() bool {
	return g.Typing.Allow()
}
