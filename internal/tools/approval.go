package tools

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
)

// ApprovalCache provides session-scoped caching of approve-always decisions.
// Entries are keyed by tool name plus an approval key (root command, server,
// file path) so that approving "git status" does not approve "rm".
type ApprovalCache struct {
	mu    sync.RWMutex
	cache map[string]ConfirmOutcome
}

// NewApprovalCache creates a new ApprovalCache.
func NewApprovalCache() *ApprovalCache {
	return &ApprovalCache{
		cache: make(map[string]ConfirmOutcome),
	}
}

// cacheKey generates a unique key for a tool+approval key combination.
func cacheKey(toolName, key string) string {
	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{0}) // separator
	h.Write([]byte(key))
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// Get retrieves a cached approval decision.
func (c *ApprovalCache) Get(toolName, key string) (ConfirmOutcome, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	outcome, ok := c.cache[cacheKey(toolName, key)]
	return outcome, ok
}

// Approved reports whether toolName was approved always for key.
func (c *ApprovalCache) Approved(toolName, key string) bool {
	if c == nil {
		return false
	}
	outcome, ok := c.Get(toolName, key)
	return ok && outcome == ProceedAlways
}

// Set stores an approval decision.
func (c *ApprovalCache) Set(toolName, key string, outcome ConfirmOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[cacheKey(toolName, key)] = outcome
}

// Len returns the number of cached decisions.
func (c *ApprovalCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// Clear removes all cached approvals.
func (c *ApprovalCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]ConfirmOutcome)
}

// RootCommand returns the program a shell command runs, skipping leading
// environment assignments: "FOO=1 git status" yields "git".
func RootCommand(command string) string {
	for _, field := range strings.Fields(command) {
		if strings.Contains(field, "=") && !strings.HasPrefix(field, "=") {
			continue
		}
		return field
	}
	return ""
}
