// Package email holds the domain types shared by the rewrite workflow and history.
package email

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hpungsan/drip/internal/errors"
)

// Tone is a named style directive for the rewrite service.
type Tone string

// The tones the rewrite service ships with. The accepted set comes from config.
const (
	TonePolite Tone = "Polite"
	ToneFunny  Tone = "Funny"
	ToneKaren  Tone = "Karen"
	ToneDirect Tone = "Direct"
)

// DefaultTone is used when the caller doesn't pick one.
const DefaultTone = TonePolite

// PreviewChars is the length of collapsed history previews.
const PreviewChars = 100

// Tones converts configured tone names into Tones.
func Tones(names []string) []Tone {
	tones := make([]Tone, 0, len(names))
	for _, n := range names {
		tones = append(tones, Tone(n))
	}
	return tones
}

// ParseTone matches s case-insensitively against allowed and returns the canonical tone.
// An empty s yields DefaultTone when it is allowed, otherwise the first allowed tone.
func ParseTone(s string, allowed []Tone) (Tone, error) {
	s = strings.TrimSpace(s)
	if len(allowed) == 0 {
		return "", errors.NewInvalidRequest("no tones configured")
	}
	if s == "" {
		for _, t := range allowed {
			if t == DefaultTone {
				return t, nil
			}
		}
		return allowed[0], nil
	}
	for _, t := range allowed {
		if strings.EqualFold(string(t), s) {
			return t, nil
		}
	}
	names := make([]string, len(allowed))
	for i, t := range allowed {
		names[i] = string(t)
	}
	return "", errors.NewInvalidRequest("unknown tone " + quote(s) + "; choose one of: " + strings.Join(names, ", "))
}

// Request is one submission to the rewrite service.
type Request struct {
	Draft  string
	Tone   Tone
	Roast  bool
	UserID string
}

// Result is a successful rewrite.
type Result struct {
	Rewritten string  `json:"rewritten"`
	Roast     *string `json:"roast,omitempty"`
}

// Record is a stored past rewrite. Records are immutable once stored.
type Record struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	Original  string    `json:"original"`
	Rewritten string    `json:"rewritten"`
	Roast     *string   `json:"roast"`
}

// NewRecord is the write payload for storing a rewrite.
type NewRecord struct {
	UserID    string
	Original  string
	Rewritten string
	Roast     *string
	CreatedAt time.Time
}

// RecordFromResult builds the write payload for a successful rewrite.
func RecordFromResult(req Request, res Result, now time.Time) NewRecord {
	return NewRecord{
		UserID:    req.UserID,
		Original:  req.Draft,
		Rewritten: res.Rewritten,
		Roast:     res.Roast,
		CreatedAt: now.UTC(),
	}
}

// Field names a copyable part of a record.
type Field string

const (
	FieldOriginal  Field = "original"
	FieldRewritten Field = "rewritten"
	FieldRoast     Field = "roast"
)

// ParseField validates a field name.
func ParseField(s string) (Field, error) {
	switch f := Field(strings.ToLower(strings.TrimSpace(s))); f {
	case FieldOriginal, FieldRewritten, FieldRoast:
		return f, nil
	case "":
		return FieldRewritten, nil
	default:
		return "", errors.NewInvalidRequest("unknown field " + quote(s) + "; choose original, rewritten or roast")
	}
}

// Text returns the value of field f, and false when the record has no such value.
func (r Record) Text(f Field) (string, bool) {
	switch f {
	case FieldOriginal:
		return r.Original, true
	case FieldRewritten:
		return r.Rewritten, true
	case FieldRoast:
		if r.Roast == nil {
			return "", false
		}
		return *r.Roast, true
	}
	return "", false
}

// Truncate shortens s to at most max runes, appending "..." when cut.
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
}

// StringPtr returns nil for an empty string and &s otherwise.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func quote(s string) string {
	return "\"" + s + "\""
}
