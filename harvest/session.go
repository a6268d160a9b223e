// Package harvest drives a bounded, paginated collection of book records.
package harvest

import (
	"github.com/aluiziolira/go-harvest-books/models"
	"github.com/aluiziolira/go-harvest-books/parser"
)

// State is the lifecycle position of a harvest session.
type State string

const (
	StateRunning         State = "running"
	StateTargetReached   State = "target_reached"
	StatePagesExhausted  State = "pages_exhausted"
	StateSourceExhausted State = "source_exhausted"
	StateFailed          State = "failed"
	StateDone            State = "done"
)

// Terminal reports whether the session loop stops in this state.
func (s State) Terminal() bool {
	return s != StateRunning
}

// Session tracks the progress of one Harvest call. It is owned by the loop
// and discarded when the call returns.
type Session struct {
	Query    string
	Target   int
	MaxPages int

	Page       int
	State      State
	Records    []models.Book
	Fetched    int
	Duplicates int
	LastErr    error

	seen map[string]struct{}
}

// NewSession starts a session on page 1.
func NewSession(query string, target, maxPages int) *Session {
	return &Session{
		Query:    query,
		Target:   target,
		MaxPages: maxPages,
		Page:     1,
		State:    StateRunning,
		Records:  make([]models.Book, 0, target),
		seen:     make(map[string]struct{}, target),
	}
}

// Accept appends b unless its trimmed title was already collected or the
// target is met. Titles compare exactly, case preserved.
func (s *Session) Accept(b models.Book) bool {
	if s.Full() {
		return false
	}
	b.Title = parser.NormalizeTitle(b.Title)
	if _, ok := s.seen[b.Title]; ok {
		s.Duplicates++
		return false
	}
	s.seen[b.Title] = struct{}{}
	s.Records = append(s.Records, b)
	return true
}

// Full reports whether the target count has been collected.
func (s *Session) Full() bool {
	return len(s.Records) >= s.Target
}

func (s *Session) fail(err error) {
	s.LastErr = err
	s.State = StateFailed
}

// advance applies the end-of-page transition given how many records the page
// contributed.
func (s *Session) advance(accepted int) {
	switch {
	case s.Full():
		s.State = StateTargetReached
	case accepted == 0:
		s.State = StateSourceExhausted
	default:
		s.Page++
		if s.Page > s.MaxPages {
			s.State = StatePagesExhausted
		}
	}
}
