package vault

import (
	"context"
	"sync"
	"time"
)

type Credential struct {
	ID          string
	Name        string
	Ciphertext  []byte
	IV          []byte
	Tag         []byte
	Fingerprint string
	Algorithm   string
	CreatedBy   string
	CreatedAt   time.Time
	DeletedAt   *time.Time
}

// Store persists encrypted credentials. Ciphertext, IV and tag are kept
// as three distinct fields end to end.
type Store interface {
	Insert(ctx context.Context, cred *Credential) error
	Get(ctx context.Context, id string) (*Credential, error)
	MarkDeleted(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context) ([]Credential, error)
}

type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]*Credential
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]*Credential)}
}

func (s *MemoryStore) Insert(_ context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *cred
	s.creds[cred.ID] = &c
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[id]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	c := *cred
	return &c, nil
}

func (s *MemoryStore) MarkDeleted(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[id]
	if !ok {
		return ErrCredentialNotFound
	}
	cred.DeletedAt = &at
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Credential, 0, len(s.creds))
	for _, cred := range s.creds {
		if cred.DeletedAt != nil {
			continue
		}
		result = append(result, *cred)
	}
	return result, nil
}

// Corrupt flips one byte in the stored ciphertext or tag. Test hook for
// integrity verification; not part of the Store interface.
func (s *MemoryStore) Corrupt(id string, tag bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[id]
	if !ok {
		return
	}
	if tag {
		cred.Tag[0] ^= 0x01
	} else {
		cred.Ciphertext[0] ^= 0x01
	}
}
