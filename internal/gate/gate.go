// Package gate is the identity check that runs before a chat session starts.
// A participant is admitted once the backend accepts their name.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/chatmancer/chatmancer/internal/transport"
)

// Reasons shown when the backend gives none.
const (
	ReasonNameRequired = "Type your name."
	ReasonUnexpected   = "An unexpected error occurred."
	ReasonUnreachable  = "An error occurred while adding the user."
)

// Registrar registers a participant name with the backend.
type Registrar interface {
	AddUser(ctx context.Context, name string) error
}

// DeniedError reports a refused admission. Reason is the user-facing text.
type DeniedError struct {
	Reason string
	Err    error
}

func (e *DeniedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gate: denied: %s: %v", e.Reason, e.Err)
	}
	return "gate: denied: " + e.Reason
}

func (e *DeniedError) Unwrap() error { return e.Err }

// Gate admits at most one participant.
type Gate struct {
	reg Registrar

	mu   sync.Mutex
	name string
}

// New creates a Gate backed by reg.
func New(reg Registrar) *Gate {
	return &Gate{reg: reg}
}

// Admit registers name. On success the gate stays open; later calls are
// no-ops returning nil.
func (g *Gate) Admit(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &DeniedError{Reason: ReasonNameRequired}
	}
	if g.Admitted() {
		return nil
	}

	if err := g.reg.AddUser(ctx, name); err != nil {
		log.Printf("gate: add user %q: %v", name, err)
		return &DeniedError{Reason: reason(err), Err: err}
	}

	g.mu.Lock()
	g.name = name
	g.mu.Unlock()
	return nil
}

// Admitted reports whether a participant has been accepted.
func (g *Gate) Admitted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.name != ""
}

// Name returns the admitted participant's name, or "".
func (g *Gate) Name() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.name
}

// reason maps a registration failure to the text shown to the participant.
func reason(err error) string {
	var te *transport.Error
	if !errors.As(err, &te) {
		return ReasonUnexpected
	}
	if te.StatusCode == 0 {
		return ReasonUnreachable
	}
	if te.Message != "" {
		return te.Message
	}
	return ReasonUnexpected
}
