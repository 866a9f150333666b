package services

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/username/opsledger/src/logger"
	"github.com/username/opsledger/src/models"
)

const (
	DefaultSessionTTL             = 30 * time.Minute
	DefaultSessionCleanupInterval = 10 * time.Minute
)

// CacheSessionStore keeps sessions in memory. Entries expire after the TTL and
// the cache janitor drops them.
type CacheSessionStore struct {
	mu       sync.Mutex
	sessions *cache.Cache
	now      func() time.Time
}

func NewCacheSessionStore(ttl, cleanupInterval time.Duration) *CacheSessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultSessionCleanupInterval
	}
	return &CacheSessionStore{sessions: cache.New(ttl, cleanupInterval), now: time.Now}
}

func (s *CacheSessionStore) Create(userID int64, invoiceIDs []string) models.ProcessingSession {
	now := s.now()
	session := models.ProcessingSession{
		ID:         uuid.NewString(),
		UserID:     userID,
		InvoiceIDs: append([]string(nil), invoiceIDs...),
		Stage:      "created",
		State:      models.SessionStateRunning,
		StartedAt:  now,
		UpdatedAt:  now,
	}
	s.mu.Lock()
	s.sessions.SetDefault(session.ID, session)
	s.mu.Unlock()
	logger.L.Debug("Processing session created", "sessionID", session.ID, "userID", userID, "invoices", len(invoiceIDs))
	return session
}

// Update stores the progress of session. A cancellation recorded in the
// meantime is kept.
func (s *CacheSessionStore) Update(session models.ProcessingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.get(session.ID)
	if err != nil {
		return err
	}
	session.Cancelled = session.Cancelled || current.Cancelled
	s.sessions.SetDefault(session.ID, session)
	return nil
}

func (s *CacheSessionStore) Get(id string) (models.ProcessingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id)
}

func (s *CacheSessionStore) get(id string) (models.ProcessingSession, error) {
	v, found := s.sessions.Get(id)
	if !found {
		return models.ProcessingSession{}, ErrSessionNotFound
	}
	return v.(models.ProcessingSession), nil
}

// Cancel flags the session. The orchestrator notices between stages.
func (s *CacheSessionStore) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, err := s.get(id)
	if err != nil {
		return err
	}
	session.Cancelled = true
	session.UpdatedAt = s.now()
	s.sessions.SetDefault(id, session)
	logger.L.Info("Processing session cancellation requested", "sessionID", id)
	return nil
}

func (s *CacheSessionStore) Finish(id string, state models.SessionState, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, err := s.get(id)
	if err != nil {
		return err
	}
	session.State = state
	session.Message = message
	session.UpdatedAt = s.now()
	if state == models.SessionStateCompleted {
		session.Progress = 100
	}
	s.sessions.SetDefault(id, session)
	return nil
}

func (s *CacheSessionStore) Expire(id string) {
	s.sessions.Delete(id)
}

// ActiveForUser counts the running sessions of userID.
func (s *CacheSessionStore) ActiveForUser(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, item := range s.sessions.Items() {
		if session, ok := item.Object.(models.ProcessingSession); ok && session.UserID == userID && session.Active() {
			n++
		}
	}
	return n
}

// ListForUser returns the unexpired sessions of userID, newest first.
func (s *CacheSessionStore) ListForUser(userID int64) []models.ProcessingSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sessions []models.ProcessingSession
	for _, item := range s.sessions.Items() {
		if session, ok := item.Object.(models.ProcessingSession); ok && session.UserID == userID {
			sessions = append(sessions, session)
		}
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].StartedAt.After(sessions[j].StartedAt) })
	return sessions
}
