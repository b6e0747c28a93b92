package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrLifecycleBusy     = errors.New("lifecycle operation already in flight for host")
	ErrInvalidTransition = errors.New("operation not allowed from current state")
	ErrStatusNotFound    = errors.New("agent status not found")
)

// State is the recorded lifecycle position of a host's monitoring agent.
type State string

const (
	StateNotInstalled State = "not_installed"
	StateDeploying    State = "deploying"
	StateInstalled    State = "installed"
	StateStarting     State = "starting"
	StateRunning      State = "running"
	StateStopping     State = "stopping"
	StateStopped      State = "stopped"
	StateUninstalling State = "uninstalling"
	StateError        State = "error"
)

// Operation is one guarded lifecycle step triggered by an operator.
type Operation string

const (
	OpDeploy    Operation = "deploy"
	OpInstall   Operation = "install"
	OpStart     Operation = "start"
	OpStop      Operation = "stop"
	OpUninstall Operation = "uninstall"
)

type transition struct {
	from   []State
	during State
	to     State
}

// transitions defines the only legal edges. Anything else is rejected
// before any remote command runs.
var transitions = map[Operation]transition{
	OpDeploy:    {from: []State{StateNotInstalled}, during: StateDeploying, to: StateDeploying},
	OpInstall:   {from: []State{StateDeploying}, during: StateDeploying, to: StateInstalled},
	OpStart:     {from: []State{StateInstalled, StateStopped}, during: StateStarting, to: StateRunning},
	OpStop:      {from: []State{StateRunning}, during: StateStopping, to: StateStopped},
	OpUninstall: {from: []State{StateDeploying, StateInstalled, StateStopped}, during: StateUninstalling, to: StateNotInstalled},
}

func (t transition) allowsFrom(s State) bool {
	for _, from := range t.from {
		if from == s {
			return true
		}
	}
	return false
}

// Status is the single mutable lifecycle record per host target. Only the
// controller writes it.
type Status struct {
	HostID         string
	State          State
	ResumeState    State // state to retry from after an error
	LastTransition time.Time
	LastError      string
	LastHeartbeat  time.Time
	StaleHeartbeat bool
}

type StatusStore interface {
	Get(ctx context.Context, hostID string) (*Status, error)
	Put(ctx context.Context, status Status) error
}

type MemoryStatusStore struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{statuses: make(map[string]Status)}
}

func (s *MemoryStatusStore) Get(_ context.Context, hostID string) (*Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.statuses[hostID]
	if !ok {
		return nil, ErrStatusNotFound
	}
	return &status, nil
}

func (s *MemoryStatusStore) Put(_ context.Context, status Status) error {
	s.mu.Lock()
	s.statuses[status.HostID] = status
	s.mu.Unlock()
	return nil
}
