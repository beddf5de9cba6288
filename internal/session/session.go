// Package session holds the per-run conversation transcript.
package session

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Kind classifies a transcript event.
type Kind string

const (
	KindText             Kind = "text"
	KindFunctionCall     Kind = "function_call"
	KindFunctionResponse Kind = "function_response"
	// KindInstruction carries a role's standing instruction.
	KindInstruction Kind = "instruction"
)

// Event is one entry of the transcript.
type Event struct {
	Author string
	Kind   Kind
	Name   string // called capability or tool, for call and response events
	Text   string
	At     time.Time
}

// Session is the transcript of exactly one pipeline run. It is owned by a
// single run and is not safe for concurrent use.
type Session struct {
	ID      string
	Subject string
	Created time.Time

	events []Event
	now    func() time.Time
}

// New starts a session for subject.
func New(subject string) *Session {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return &Session{
		ID:      SanitizeSubject(subject) + "_" + suffix,
		Subject: subject,
		Created: time.Now(),
		now:     time.Now,
	}
}

// SanitizeSubject turns a free-text subject into an identifier fragment:
// whitespace becomes "_", and anything other than letters, digits, "-",
// "_" and "." is dropped.
func SanitizeSubject(subject string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(subject) {
		switch {
		case unicode.IsSpace(r):
			b.WriteRune('_')
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_', r == '.':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "subject"
	}
	return b.String()
}

// Append adds an event to the end of the transcript.
func (s *Session) Append(e Event) {
	if e.At.IsZero() {
		e.At = s.now()
	}
	s.events = append(s.events, e)
}

// AddText appends a text event authored by author.
func (s *Session) AddText(author, text string) {
	s.Append(Event{Author: author, Kind: KindText, Text: text})
}

// Events returns a copy of the transcript in append order.
func (s *Session) Events() []Event {
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Len returns the number of events.
func (s *Session) Len() int { return len(s.events) }

// LastText returns the text of the most recent text event authored by
// author. Call and response events never match, whatever their author.
func (s *Session) LastText(author string) (string, bool) {
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if e.Author == author && e.Kind == KindText {
			return e.Text, true
		}
	}
	return "", false
}
