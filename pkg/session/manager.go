// Package session tracks who the device is signed in as. Only the
// authenticated/unauthenticated distinction and the user ID matter here.
package session

import (
	"sync"
	"time"
)

// State is a snapshot of the session.
type State struct {
	UserID     string    `json:"user_id,omitempty"`
	SignedInAt time.Time `json:"signed_in_at,omitempty"`
}

// Authenticated reports whether a user is signed in.
func (s State) Authenticated() bool {
	return s.UserID != ""
}

// Manager holds the current session.
type Manager struct {
	mu        sync.RWMutex
	state     State
	listeners []func(State)
	now       func() time.Time
}

// NewManager creates an unauthenticated session manager.
func NewManager() *Manager {
	return &Manager{now: time.Now}
}

// SignIn marks uid as the signed-in user. Listeners run synchronously
// when the user changes.
func (m *Manager) SignIn(uid string) {
	if uid == "" {
		m.SignOut()
		return
	}
	m.mu.Lock()
	if m.state.UserID == uid {
		m.mu.Unlock()
		return
	}
	m.state = State{UserID: uid, SignedInAt: m.now()}
	st, ls := m.state, m.listenersLocked()
	m.mu.Unlock()

	notify(ls, st)
}

// SignOut clears the session.
func (m *Manager) SignOut() {
	m.mu.Lock()
	if !m.state.Authenticated() {
		m.mu.Unlock()
		return
	}
	m.state = State{}
	st, ls := m.state, m.listenersLocked()
	m.mu.Unlock()

	notify(ls, st)
}

// UserID returns the signed-in user, or "" and false.
func (m *Manager) UserID() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.UserID, m.state.Authenticated()
}

// Authenticated reports whether a user is signed in.
func (m *Manager) Authenticated() bool {
	_, ok := m.UserID()
	return ok
}

// State returns the current session snapshot.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// OnChange registers fn to run after every sign-in or sign-out.
func (m *Manager) OnChange(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) listenersLocked() []func(State) {
	out := make([]func(State), len(m.listeners))
	copy(out, m.listeners)
	return out
}

func notify(ls []func(State), st State) {
	for _, fn := range ls {
		fn(st)
	}
}
