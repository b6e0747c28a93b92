package hosts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fleetdeck/fleetdeck/internal/audit"
)

var ErrHostNotFound = errors.New("host target not found")

// Target is a remote host record owned by the management layer and
// consumed read-only by this core. CredentialID is nullable: a deleted
// credential leaves the reference dangling and every consumer treats
// "credential missing" as a first-class condition.
type Target struct {
	ID           string
	Name         string
	Address      string
	Port         int
	User         string
	CredentialID *string
}

func (t Target) Addr() string {
	return fmt.Sprintf("%s:%d", t.Address, t.Port)
}

type Store interface {
	Get(ctx context.Context, id string) (*Target, error)
	List(ctx context.Context) ([]Target, error)
	Put(ctx context.Context, target Target) error
	Delete(ctx context.Context, id string) error
}

// Service fronts the store and audits host deletion, the one host event
// this core is responsible for recording.
type Service struct {
	store    Store
	recorder *audit.Recorder
}

func NewService(store Store, recorder *audit.Recorder) *Service {
	return &Service{store: store, recorder: recorder}
}

func (s *Service) Get(ctx context.Context, id string) (*Target, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Target, error) {
	return s.store.List(ctx)
}

// Sync upserts a host record pushed in by the management layer.
func (s *Service) Sync(ctx context.Context, target Target) error {
	return s.store.Put(ctx, target)
}

// Forget removes a host record on behalf of the management layer and
// emits the host.delete audit entry.
func (s *Service) Forget(ctx context.Context, id string, actor string) error {
	target, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.recorder.Record(ctx, actor, audit.ActionHostDelete, audit.TargetHost, id,
		map[string]any{"address": target.Addr(), "user": target.User}); err != nil {
		return err
	}
	slog.Info("Host target removed", "host_id", id, "actor", actor)
	return nil
}

type MemoryStore struct {
	mu      sync.RWMutex
	targets map[string]Target
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{targets: make(map[string]Target)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	target, ok := s.targets[id]
	if !ok {
		return nil, ErrHostNotFound
	}
	return &target, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Target, 0, len(s.targets))
	for _, target := range s.targets {
		result = append(result, target)
	}
	return result, nil
}

func (s *MemoryStore) Put(_ context.Context, target Target) error {
	s.mu.Lock()
	s.targets[target.ID] = target
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.targets[id]; !ok {
		return ErrHostNotFound
	}
	delete(s.targets, id)
	return nil
}
