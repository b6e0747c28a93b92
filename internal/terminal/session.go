package terminal

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

var (
	ErrSessionNotFound = errors.New("terminal session not found")
	ErrUnauthorized    = errors.New("operator not authorized for terminal sessions")
	ErrSession         = errors.New("terminal session failed")
)

type SessionStatus string

const (
	StatusConnecting SessionStatus = "connecting"
	StatusActive     SessionStatus = "active"
	StatusClosed     SessionStatus = "closed"
	StatusError      SessionStatus = "error"
)

// Close reasons recorded on teardown.
const (
	ReasonClientGone    = "client_disconnect"
	ReasonRemoteGone    = "remote_disconnect"
	ReasonIdleTimeout   = "idle_timeout"
	ReasonAdminClose    = "admin_close"
	ReasonOperatorClose = "operator_close"
	ReasonShutdown      = "shutdown"
)

// Stream is the operator-facing duplex byte stream. The HTTP layer
// provides a websocket-backed implementation; tests use in-memory pipes.
type Stream interface {
	io.Reader
	io.Writer
	Close() error
}

// Session is one interactive shell bridged between an operator and a
// remote host. All mutable fields are guarded by mu; the two forwarding
// loops and the idle watchdog go through the accessors below.
type Session struct {
	ID           string
	HostID       string
	OperatorID   string
	CredentialID string
	StartedAt    time.Time

	mu           sync.Mutex
	status       SessionStatus
	lastActivity time.Time
	endedAt      *time.Time
	closeReason  string
	closeOnce    sync.Once
	done         chan struct{}
}

// Done is closed when the session has fully torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(status SessionStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

func (s *Session) snapshot() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Record{
		ID:           s.ID,
		HostID:       s.HostID,
		OperatorID:   s.OperatorID,
		CredentialID: s.CredentialID,
		StartedAt:    s.StartedAt,
		LastActivity: s.lastActivity,
		EndedAt:      s.endedAt,
		Status:       s.status,
		CloseReason:  s.closeReason,
	}
}

// Record is the persisted view of a session. Closed records are
// immutable except for the end timestamp set at close.
type Record struct {
	ID           string
	HostID       string
	OperatorID   string
	CredentialID string
	StartedAt    time.Time
	LastActivity time.Time
	EndedAt      *time.Time
	Status       SessionStatus
	CloseReason  string
}

type Store interface {
	Put(ctx context.Context, record Record) error
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context, operatorID string) ([]Record, error)
}

type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	order   []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Put(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.ID]; !ok {
		s.order = append(s.order, record.ID)
	}
	s.records[record.ID] = record
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &record, nil
}

// List returns records in creation order. An empty operatorID means all
// operators (elevated access enforced by the caller).
func (s *MemoryStore) List(_ context.Context, operatorID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []Record
	for _, id := range s.order {
		record := s.records[id]
		if operatorID != "" && record.OperatorID != operatorID {
			continue
		}
		result = append(result, record)
	}
	return result, nil
}
