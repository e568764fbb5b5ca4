package mcp

import (
	"slices"
	"sync"
)

// SessionRegistry remembers which MCP sessions belong to a user so run
// events can reach every client the user started or approved a run from.
type SessionRegistry struct {
	mu     sync.RWMutex
	byUser map[string][]string
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{byUser: make(map[string][]string)}
}

// Register adds sessionID to the user's sessions. Registering the same pair
// again is a no-op.
func (r *SessionRegistry) Register(userID, sessionID string) {
	if userID == "" || sessionID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !slices.Contains(r.byUser[userID], sessionID) {
		r.byUser[userID] = append(r.byUser[userID], sessionID)
	}
}

// SessionsFor returns a copy of the user's sessions, oldest first.
func (r *SessionRegistry) SessionsFor(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.byUser[userID])
}

// Remove forgets a session for every user it was registered to.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for userID, sessions := range r.byUser {
		sessions = slices.DeleteFunc(sessions, func(s string) bool { return s == sessionID })
		if len(sessions) == 0 {
			delete(r.byUser, userID)
			continue
		}
		r.byUser[userID] = sessions
	}
}
