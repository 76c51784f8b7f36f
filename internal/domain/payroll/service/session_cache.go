package service

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/reconcile"
)

// StagedFile is the raw upload kept alongside a preview until it is confirmed.
type StagedFile struct {
	FileName    string
	ContentHash string
	MIMEType    string
	Data        []byte
}

type cacheEntry struct {
	session   *reconcile.Session
	files     map[string]StagedFile
	expiresAt time.Time
}

// SessionCache maps opaque tokens to short-lived preview sessions.
type SessionCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*cacheEntry
	now     func() time.Time
}

func NewSessionCache(ttl time.Duration) *SessionCache {
	return &SessionCache{
		ttl:     ttl,
		entries: make(map[string]*cacheEntry),
		now:     time.Now,
	}
}

// Put stores a session and its staged files and returns the token.
func (c *SessionCache) Put(session *reconcile.Session, files []StagedFile) (string, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweepLocked()

	byHash := make(map[string]StagedFile, len(files))
	for _, f := range files {
		if _, ok := byHash[f.ContentHash]; !ok {
			byHash[f.ContentHash] = f
		}
	}

	token := uuid.NewString()
	expiresAt := c.now().Add(c.ttl)
	c.entries[token] = &cacheEntry{session: session, files: byHash, expiresAt: expiresAt}
	return token, expiresAt
}

// Get returns the session for token without consuming it.
func (c *SessionCache) Get(token string) (*reconcile.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.lookupLocked(token)
	if err != nil {
		return nil, err
	}
	return e.session, nil
}

// Take removes and returns the session and staged files for token. Only one
// caller can take a given token.
func (c *SessionCache) Take(token string) (*reconcile.Session, map[string]StagedFile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.lookupLocked(token)
	if err != nil {
		return nil, nil, err
	}
	delete(c.entries, token)
	return e.session, e.files, nil
}

func (c *SessionCache) Delete(token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[token]
	delete(c.entries, token)
	return ok
}

func (c *SessionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *SessionCache) lookupLocked(token string) (*cacheEntry, error) {
	e, ok := c.entries[token]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, token)
		return nil, ErrSessionExpired
	}
	return e, nil
}

func (c *SessionCache) sweepLocked() {
	now := c.now()
	for token, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, token)
		}
	}
}
