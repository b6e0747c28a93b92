package operators

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fleetdeck/fleetdeck/internal/auth"
	"github.com/google/uuid"
)

var (
	ErrOperatorNotFound = errors.New("operator not found")
	ErrUsernameTaken    = errors.New("username already exists")
	ErrBadCredentials   = errors.New("invalid credentials")
	ErrInvalidRole      = errors.New("invalid role")
)

// Account is a stored operator identity. PasswordHash never leaves this
// package.
type Account struct {
	ID           string
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

func (a Account) Operator() auth.Operator {
	return auth.Operator{ID: a.ID, Username: a.Username, Role: a.Role}
}

type Store interface {
	Put(ctx context.Context, account Account) error
	GetByUsername(ctx context.Context, username string) (*Account, error)
	Get(ctx context.Context, id string) (*Account, error)
	List(ctx context.Context) ([]Account, error)
	Delete(ctx context.Context, id string) error
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func validRole(role string) bool {
	switch role {
	case auth.RoleAdmin, auth.RoleOperator, auth.RoleViewer:
		return true
	}
	return false
}

func (s *Service) Register(ctx context.Context, username, password, role string) (*Account, error) {
	if !validRole(role) {
		return nil, ErrInvalidRole
	}
	if existing, err := s.store.GetByUsername(ctx, username); err == nil && existing != nil {
		return nil, ErrUsernameTaken
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	account := Account{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.Put(ctx, account); err != nil {
		return nil, fmt.Errorf("store operator: %w", err)
	}
	return &account, nil
}

// Authenticate checks the password and returns the operator identity.
// Lookup misses and bad passwords are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, username, password string) (auth.Operator, error) {
	account, err := s.store.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrOperatorNotFound) {
			return auth.Operator{}, ErrBadCredentials
		}
		return auth.Operator{}, fmt.Errorf("lookup operator: %w", err)
	}
	if !CheckPassword(password, account.PasswordHash) {
		return auth.Operator{}, ErrBadCredentials
	}
	return account.Operator(), nil
}

func (s *Service) Get(ctx context.Context, id string) (*Account, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Account, error) {
	return s.store.List(ctx)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]Account)}
}

func (s *MemoryStore) Put(_ context.Context, account Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.ID] = account
	return nil
}

func (s *MemoryStore) GetByUsername(_ context.Context, username string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, account := range s.accounts {
		if account.Username == username {
			copied := account
			return &copied, nil
		}
	}
	return nil, ErrOperatorNotFound
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[id]
	if !ok {
		return nil, ErrOperatorNotFound
	}
	copied := account
	return &copied, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	accounts := make([]Account, 0, len(s.accounts))
	for _, account := range s.accounts {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Username < accounts[j].Username })
	return accounts, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[id]; !ok {
		return ErrOperatorNotFound
	}
	delete(s.accounts, id)
	return nil
}
