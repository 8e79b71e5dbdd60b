package security

import (
	"strings"
	"sync"
)

// Credential caches the sudo password for one session. It is never written
// to disk or logs.
type Credential struct {
	mu     sync.Mutex
	secret string
	set    bool
}

func (c *Credential) Get() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.secret, c.set
}

func (c *Credential) Set(secret string) {
	c.mu.Lock()
	c.secret, c.set = secret, true
	c.mu.Unlock()
}

// Clear forgets the password and reports whether one was cached.
func (c *Credential) Clear() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	had := c.set
	c.secret, c.set = "", false
	return had
}

// authFailureMarkers are sudo's English messages for a rejected or missing
// password. Matching is locale dependent.
var authFailureMarkers = []string{
	"incorrect password",
	"authentication failure",
	"sorry, try again",
	"no password was provided",
	"a password is required",
}

// IsAuthFailure reports whether command output shows sudo rejected the
// password.
func IsAuthFailure(output string) bool {
	lower := strings.ToLower(output)
	for _, m := range authFailureMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
