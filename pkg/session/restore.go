package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"

	"roamgo/pkg/store"
)

// Restore signs the previously persisted user back in. A missing or
// unreadable record leaves the session unauthenticated.
func Restore(ctx context.Context, st store.StateStore, m *Manager) bool {
	val, found := st.GetState(ctx, store.KeySessionUser)
	if !found || val == "" {
		return false
	}

	var s State
	if err := json.Unmarshal([]byte(val), &s); err != nil {
		slog.Warn("Session: failed to decode persisted session", "error", err)
		return false
	}
	if !s.Authenticated() {
		return false
	}

	m.mu.Lock()
	m.state = s
	ls := m.listenersLocked()
	m.mu.Unlock()
	notify(ls, s)

	slog.Info("Session: restored", "user", s.UserID)
	return true
}

// Persist writes the current session so it survives a restart.
// A signed-out session removes the record.
func Persist(ctx context.Context, st store.StateStore, m *Manager) error {
	s := m.State()
	if !s.Authenticated() {
		if err := st.DeleteState(ctx, store.KeySessionUser); err != nil {
			return fmt.Errorf("clear session: %w", err)
		}
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := st.SetState(ctx, store.KeySessionUser, string(data)); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
