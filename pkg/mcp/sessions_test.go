package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionRegistry_RegisterAndLookup(t *testing.T) {
	r := NewSessionRegistry()
	r.Register("user-1", "session-abc")

	assert.Equal(t, []string{"session-abc"}, r.SessionsFor("user-1"))
	assert.Empty(t, r.SessionsFor("unknown"))
}

func TestSessionRegistry_UserWithSeveralClients(t *testing.T) {
	r := NewSessionRegistry()
	r.Register("user-1", "desktop")
	r.Register("user-1", "laptop")
	r.Register("user-1", "desktop")

	assert.Equal(t, []string{"desktop", "laptop"}, r.SessionsFor("user-1"))
}

func TestSessionRegistry_IgnoresBlankIDs(t *testing.T) {
	r := NewSessionRegistry()
	r.Register("", "session-1")
	r.Register("user-1", "")

	assert.Empty(t, r.SessionsFor(""))
	assert.Empty(t, r.SessionsFor("user-1"))
}

func TestSessionRegistry_Remove(t *testing.T) {
	r := NewSessionRegistry()
	r.Register("user-1", "shared")
	r.Register("user-2", "shared")
	r.Register("user-2", "own")
	r.Register("user-3", "other")

	r.Remove("shared")

	assert.Empty(t, r.SessionsFor("user-1"))
	assert.Equal(t, []string{"own"}, r.SessionsFor("user-2"))
	assert.Equal(t, []string{"other"}, r.SessionsFor("user-3"))
}

func TestSessionRegistry_LookupReturnsCopy(t *testing.T) {
	r := NewSessionRegistry()
	r.Register("user-1", "session-1")

	got := r.SessionsFor("user-1")
	got[0] = "tampered"
	assert.Equal(t, []string{"session-1"}, r.SessionsFor("user-1"))
}
