package scope

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/klauern/rowsync/internal/batch"
	"github.com/klauern/rowsync/internal/logging"
)

// DefaultSessionTTL is how long an idle session is kept.
const DefaultSessionTTL = 30 * time.Minute

// SessionCache is the server's in-memory state for one sync session.
type SessionCache struct {
	// Mu serializes requests of the same session.
	Mu sync.Mutex

	SessionID     string
	ScopeName     string
	ClientScopeID uuid.UUID
	Step          Step
	Parameters    map[string]any

	// ClientWatermark is the server tick the client reported having synced
	// up to. Server changes are selected after it.
	ClientWatermark int64
	// ClientBatches orders the parts uploaded by the client.
	ClientBatches *batch.Receiver
	// ClientParts are the released client parts waiting for the last one.
	ClientParts []*batch.Part
	// ServerBatchInfo holds the prepared outgoing change set.
	ServerBatchInfo *batch.Info
	// RemoteClientTimestamp is the server tick snapshot the outgoing change
	// set was selected up to. It becomes the client's watermark.
	RemoteClientTimestamp int64
	// ClientChangesApplied counts rows from the client applied on the server.
	ClientChangesApplied int
	Conflicts            int

	Created    time.Time
	LastAccess time.Time
}

// NewSessionCache creates a session in the init step.
func NewSessionCache(sessionID, scopeName string, clientScopeID uuid.UUID, params map[string]any) *SessionCache {
	now := time.Now()
	return &SessionCache{
		SessionID:     sessionID,
		ScopeName:     scopeName,
		ClientScopeID: clientScopeID,
		Step:          StepInit,
		Parameters:    params,
		ClientBatches: batch.NewReceiver(),
		Created:       now,
		LastAccess:    now,
	}
}

// SessionStore is a concurrency-safe in-memory set of sessions that expire
// after a period of inactivity.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*SessionCache
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionStore creates a store. A ttl <= 0 uses DefaultSessionTTL.
func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{
		sessions: make(map[string]*SessionCache),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get returns a live session and refreshes its last access time. Expired
// sessions are removed and reported as missing.
func (s *SessionStore) Get(id string) (*SessionCache, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	now := s.now()
	if now.Sub(sc.LastAccess) > s.ttl {
		delete(s.sessions, id)
		return nil, false
	}
	sc.LastAccess = now
	return sc, true
}

// Put stores a session, replacing any session with the same id.
func (s *SessionStore) Put(sc *SessionCache) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc.LastAccess = s.now()
	s.sessions[sc.SessionID] = sc
}

// Delete removes a session.
func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Len returns the number of stored sessions, expired or not.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Purge removes expired sessions and returns how many were removed.
func (s *SessionStore) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, sc := range s.sessions {
		if now.Sub(sc.LastAccess) > s.ttl {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Run purges expired sessions every interval until ctx is done.
func (s *SessionStore) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = s.ttl / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.Purge(); n > 0 {
				logging.WithContext(ctx).Info("purged expired sync sessions", logging.Count(n))
			}
		}
	}
}
