// Package audit appends customer-facing security and checkout actions to a
// JSON-lines file.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	ActionLogin             = "auth.login"
	ActionLogout            = "auth.logout"
	ActionRegister          = "auth.register"
	ActionSessionExpired    = "auth.session_expired"
	ActionProfileUpdate     = "profile.update"
	ActionCheckoutConfirmed = "checkout.confirmed"
	ActionCheckoutDegraded  = "checkout.order_degraded"
	ActionCheckoutAuthLost  = "checkout.auth_required"
	ActionOrderCancel       = "order.cancel"

	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

type Event struct {
	At      string `json:"at"`
	Actor   string `json:"actor"`
	Action  string `json:"action"`
	Target  string `json:"target,omitempty"`
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
}

type Logger struct {
	path    string
	nowFunc func() time.Time

	mu sync.Mutex
}

// NewLogger returns a logger writing to path. An empty path disables auditing.
func NewLogger(path string) *Logger {
	return &Logger{path: path, nowFunc: time.Now}
}

func (l *Logger) Log(actor, action, target, outcome, detail string) error {
	if l == nil || l.path == "" {
		return nil
	}
	if actor == "" {
		actor = "anonymous"
	}
	e := Event{
		At:      l.nowFunc().UTC().Format(time.RFC3339),
		Actor:   actor,
		Action:  action,
		Target:  target,
		Outcome: outcome,
		Detail:  detail,
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("mkdir audit log dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("write audit log entry: %w", err)
	}
	return nil
}

// Nop discards audit events.
type Nop struct{}

func (Nop) Log(_, _, _, _, _ string) error { return nil }
