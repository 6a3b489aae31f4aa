package history

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ParseRole normalizes s (trimmed, lower case) into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if r == "" {
		return "", fmt.Errorf("%w: role is empty", ErrInvalidTurn)
	}
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidTurn, s)
	}
	return r, nil
}

// Turn is a single conversational message.
type Turn struct {
	Role       Role      `json:"role" yaml:"role"`
	Content    string    `json:"content" yaml:"content"`
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp,omitempty"`
	TokenCount *int      `json:"tokens,omitempty" yaml:"tokens,omitempty"`
}

// clone returns a copy that shares no memory with t.
func (t Turn) clone() Turn {
	if t.TokenCount != nil {
		n := *t.TokenCount
		t.TokenCount = &n
	}
	return t
}

// Validate checks that role and content are non-blank and the role is known.
func (t Turn) Validate() error {
	if strings.TrimSpace(string(t.Role)) == "" {
		return fmt.Errorf("%w: role is empty", ErrInvalidTurn)
	}
	if !t.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidTurn, t.Role)
	}
	if strings.TrimSpace(t.Content) == "" {
		return fmt.Errorf("%w: content is empty", ErrInvalidTurn)
	}
	if t.TokenCount != nil && *t.TokenCount < 0 {
		return fmt.Errorf("%w: negative token count %d", ErrInvalidTurn, *t.TokenCount)
	}
	return nil
}

// Tokens returns TokenCount when set, otherwise an estimate of roughly four
// characters per token.
func (t Turn) Tokens() int {
	if t.TokenCount != nil {
		return *t.TokenCount
	}
	n := len([]rune(t.Content))
	return (n + 3) / 4
}
