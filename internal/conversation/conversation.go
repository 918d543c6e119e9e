// Package conversation holds the turn history of a chat session and renders it
// into the prompt text fed to the model.
package conversation

import (
	"fmt"
	"slices"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole converts a role name into a Role.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleSystem, RoleUser, RoleAssistant:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Turn is one completed message in the history.
type Turn struct {
	Role    Role
	Content string
}

// Renderer turns a history into prompt text. Implementations must be
// deterministic: the same history always renders to the same string.
type Renderer interface {
	Render(history []Turn) (string, error)
}

// RenderFunc adapts a function to Renderer.
type RenderFunc func(history []Turn) (string, error)

func (f RenderFunc) Render(history []Turn) (string, error) {
	return f(history)
}

// State is the ordered turn history of one session. It is not safe for
// concurrent use; the owning session serializes access.
type State struct {
	renderer Renderer
	turns    []Turn
}

// New returns an empty history rendered through r.
func New(r Renderer) *State {
	return &State{renderer: r}
}

// AppendTurn records a completed turn.
func (s *State) AppendTurn(role Role, content string) error {
	if _, err := ParseRole(string(role)); err != nil {
		return err
	}
	s.turns = append(s.turns, Turn{Role: role, Content: content})
	return nil
}

// BuildPrompt renders the whole history.
func (s *State) BuildPrompt() (string, error) {
	if s.renderer == nil {
		return "", fmt.Errorf("conversation: no renderer configured")
	}
	return s.renderer.Render(slices.Clone(s.turns))
}

// Reset clears the history.
func (s *State) Reset() {
	clear(s.turns)
	s.turns = s.turns[:0]
}

// Turns returns a copy of the history.
func (s *State) Turns() []Turn {
	return slices.Clone(s.turns)
}

func (s *State) Len() int {
	return len(s.turns)
}

// Last returns the most recent turn.
func (s *State) Last() (Turn, bool) {
	if len(s.turns) == 0 {
		return Turn{}, false
	}
	return s.turns[len(s.turns)-1], true
}

// RemoveLast drops the most recent turn. It is used to roll back a user turn
// whose generation did not complete.
func (s *State) RemoveLast() (Turn, bool) {
	last, ok := s.Last()
	if !ok {
		return Turn{}, false
	}
	s.turns[len(s.turns)-1] = Turn{}
	s.turns = s.turns[:len(s.turns)-1]
	return last, true
}

// DropOldest removes up to n of the oldest non-system turns and returns how
// many were removed. A leading system turn is always kept.
func (s *State) DropOldest(n int) int {
	if n <= 0 {
		return 0
	}
	start := 0
	if len(s.turns) > 0 && s.turns[0].Role == RoleSystem {
		start = 1
	}
	n = min(n, len(s.turns)-start)
	if n <= 0 {
		return 0
	}
	s.turns = slices.Delete(s.turns, start, start+n)
	return n
}
