package validate

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

// Errors collects validation failures per field. A nil or empty map means the
// input passed.
type Errors map[string][]string

// Add appends a failure message for a field.
func (e Errors) Add(field, message string) {
	e[field] = append(e[field], message)
}

// Merge folds another error set in, prefixing nested fields.
func (e Errors) Merge(prefix string, other Errors) {
	for field, messages := range other {
		key := field
		if prefix != "" {
			key = prefix + "." + field
		}
		e[key] = append(e[key], messages...)
	}
}

// Empty reports whether no failures were recorded.
func (e Errors) Empty() bool {
	return len(e) == 0
}

// Required checks a trimmed string is non-empty.
func (e Errors) Required(field, value string) {
	if strings.TrimSpace(value) == "" {
		e.Add(field, "is required")
	}
}

// Length checks rune-count bounds on a trimmed string.
func (e Errors) Length(field, value string, min, max int) {
	n := len([]rune(strings.TrimSpace(value)))
	if n < min || n > max {
		e.Add(field, fmt.Sprintf("must be between %d and %d characters", min, max))
	}
}

// Range checks numeric bounds.
func (e Errors) Range(field string, value, min, max float64) {
	if value < min || value > max {
		e.Add(field, fmt.Sprintf("must be between %v and %v", min, max))
	}
}

// Min checks a lower bound.
func (e Errors) Min(field string, value, min float64) {
	if value < min {
		e.Add(field, fmt.Sprintf("must be at least %v", min))
	}
}

// OneOf checks enum membership, case-insensitive.
func (e Errors) OneOf(field, value string, allowed []string) {
	for _, candidate := range allowed {
		if strings.EqualFold(value, candidate) {
			return
		}
	}
	e.Add(field, "must be one of: "+strings.Join(allowed, ", "))
}

// Email checks RFC 5322 address syntax.
func (e Errors) Email(field, value string) {
	if _, err := mail.ParseAddress(strings.TrimSpace(value)); err != nil {
		e.Add(field, "must be a valid email address")
	}
}

var phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// Phone checks an E.164-style number (optional +, 7 to 15 digits).
func (e Errors) Phone(field, value string) {
	if !phonePattern.MatchString(strings.TrimSpace(value)) {
		e.Add(field, "must be a valid phone number")
	}
}

// Match checks a value against a pattern with a custom message.
func (e Errors) Match(field, value string, pattern *regexp.Regexp, message string) {
	if !pattern.MatchString(value) {
		e.Add(field, message)
	}
}

// A short denylist is enough for the product surface; anything serious
// belongs in a moderation service.
var blockedWords = []string{"damn", "crap", "spamspam"}

// Clean rejects values containing denylisted words.
func (e Errors) Clean(field, value string) {
	lowered := strings.ToLower(value)
	for _, word := range blockedWords {
		if strings.Contains(lowered, word) {
			e.Add(field, "contains inappropriate language")
			return
		}
	}
}

var tagPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// Tags checks a tag list: at most max entries, unique, lowercase alnum-dash.
func (e Errors) Tags(field string, tags []string, max int) {
	if len(tags) > max {
		e.Add(field, fmt.Sprintf("must have at most %d tags", max))
	}
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		if !tagPattern.MatchString(tag) {
			e.Add(field, fmt.Sprintf("tag %q must be lowercase letters, digits or dashes", tag))
			continue
		}
		if _, dup := seen[tag]; dup {
			e.Add(field, fmt.Sprintf("tag %q is duplicated", tag))
			continue
		}
		seen[tag] = struct{}{}
	}
}
