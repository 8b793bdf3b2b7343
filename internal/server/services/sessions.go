package services

import (
	"sync"
	"time"
)

// loginSession holds the server side of one in-flight SRP exchange. The
// ephemeral secret lives only here and only until the exchange completes or
// the TTL expires.
type loginSession struct {
	userID       string
	salt         string
	verifier     string
	serverSecret string
	serverPublic string
	fake         bool
	rememberMe   bool
	sessionProof string
	expires      time.Time
}

// loginSessionCache is an in-memory TTL store keyed by username. One user has
// at most one in-flight exchange; starting a new one replaces the old.
type loginSessionCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]*loginSession
}

func newLoginSessionCache(ttl time.Duration) *loginSessionCache {
	return &loginSessionCache{ttl: ttl, sessions: make(map[string]*loginSession)}
}

func (c *loginSessionCache) put(username string, s *loginSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.expires = time.Now().Add(c.ttl)
	c.sessions[username] = s
	c.evictExpired()
}

func (c *loginSessionCache) get(username string) (*loginSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[username]
	if !ok || time.Now().After(s.expires) {
		delete(c.sessions, username)
		return nil, false
	}
	return s, true
}

func (c *loginSessionCache) remove(username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[username]; ok {
		wipeSession(s)
	}
	delete(c.sessions, username)
}

// evictExpired must be called with mu held.
func (c *loginSessionCache) evictExpired() {
	now := time.Now()
	for k, s := range c.sessions {
		if now.After(s.expires) {
			wipeSession(s)
			delete(c.sessions, k)
		}
	}
}

func wipeSession(s *loginSession) {
	s.serverSecret = ""
	s.sessionProof = ""
}
