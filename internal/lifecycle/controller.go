package lifecycle

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fleetdeck/fleetdeck/internal/audit"
	"github.com/fleetdeck/fleetdeck/internal/hosts"
	"github.com/fleetdeck/fleetdeck/internal/sshpool"
)

type Config struct {
	CommandTimeout  time.Duration
	HeartbeatWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		CommandTimeout:  30 * time.Second,
		HeartbeatWindow: 60 * time.Second,
	}
}

// Runner is the slice of the connection pool the controller drives
// remote commands through.
type Runner interface {
	Lease(ctx context.Context, target *hosts.Target) (*sshpool.Handle, error)
	Release(h *sshpool.Handle)
	Execute(ctx context.Context, h *sshpool.Handle, command string, timeout time.Duration) (sshpool.ExecResult, error)
}

// Controller drives each host's monitoring agent through the lifecycle
// state machine. At most one operation runs per host at a time; a second
// request is rejected immediately with ErrLifecycleBusy.
type Controller struct {
	cfg      Config
	runner   Runner
	hosts    *hosts.Service
	store    StatusStore
	recorder *audit.Recorder
	payload  []byte
	checksum string

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewController(cfg Config, runner Runner, hostSvc *hosts.Service, store StatusStore, recorder *audit.Recorder, payload []byte) *Controller {
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = DefaultConfig().CommandTimeout
	}
	if cfg.HeartbeatWindow == 0 {
		cfg.HeartbeatWindow = DefaultConfig().HeartbeatWindow
	}
	// The expected checksum is derived from the payload itself, never
	// configured separately, so upload and verification cannot drift.
	checksum := ""
	if len(payload) > 0 {
		checksum = fmt.Sprintf("%x", sha256.Sum256(payload))
	}
	return &Controller{
		cfg:      cfg,
		runner:   runner,
		hosts:    hostSvc,
		store:    store,
		recorder: recorder,
		payload:  payload,
		checksum: checksum,
		inflight: make(map[string]struct{}),
	}
}

func (c *Controller) tryAcquire(hostID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[hostID]; busy {
		return false
	}
	c.inflight[hostID] = struct{}{}
	return true
}

func (c *Controller) release(hostID string) {
	c.mu.Lock()
	delete(c.inflight, hostID)
	c.mu.Unlock()
}

func (c *Controller) status(ctx context.Context, hostID string) (Status, error) {
	status, err := c.store.Get(ctx, hostID)
	if err != nil {
		if err == ErrStatusNotFound {
			return Status{HostID: hostID, State: StateNotInstalled, ResumeState: StateNotInstalled}, nil
		}
		return Status{}, err
	}
	return *status, nil
}

// Apply runs one lifecycle operation synchronously. Callers poll Info
// for the resulting state. The per-host lock covers the whole remote
// command sequence and is released on every exit path.
func (c *Controller) Apply(ctx context.Context, actor string, hostID string, op Operation) (Status, error) {
	tr, ok := transitions[op]
	if !ok {
		return Status{}, fmt.Errorf("%w: unknown operation %q", ErrInvalidTransition, op)
	}

	if !c.tryAcquire(hostID) {
		return Status{}, ErrLifecycleBusy
	}
	defer c.release(hostID)

	status, err := c.status(ctx, hostID)
	if err != nil {
		return Status{}, err
	}

	// In the error state, operations resume from the state the failed
	// step started in; uninstall is always available as the wide retry
	// back to not_installed.
	effective := status.State
	if status.State == StateError {
		effective = status.ResumeState
		if op == OpUninstall {
			effective = StateStopped
		}
	}
	if !tr.allowsFrom(effective) {
		return status, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, op, status.State)
	}

	target, err := c.hosts.Get(ctx, hostID)
	if err != nil {
		return status, err
	}

	status.State = tr.during
	status.ResumeState = effective
	status.LastTransition = time.Now().UTC()
	status.LastError = ""
	if err := c.store.Put(ctx, status); err != nil {
		return status, err
	}

	if err := c.runSteps(ctx, target, op); err != nil {
		return c.fail(ctx, actor, status, op, err)
	}

	status.State = tr.to
	status.LastTransition = time.Now().UTC()
	status.StaleHeartbeat = false
	if op == OpStart {
		status.LastHeartbeat = time.Now().UTC()
	}
	if err := c.store.Put(ctx, status); err != nil {
		return status, err
	}

	if err := c.recorder.Record(ctx, actor, auditAction(op), audit.TargetHost, hostID,
		map[string]any{"operation": string(op), "state": string(status.State)}); err != nil {
		return status, err
	}

	slog.Info("Lifecycle operation completed", "host_id", hostID, "operation", op, "state", status.State)
	return status, nil
}

func (c *Controller) runSteps(ctx context.Context, target *hosts.Target, op Operation) error {
	handle, err := c.runner.Lease(ctx, target)
	if err != nil {
		return err
	}
	defer c.runner.Release(handle)

	for _, s := range stepsFor(op, c.payload, c.checksum) {
		result, err := c.runner.Execute(ctx, handle, s.command, c.cfg.CommandTimeout)
		if err != nil {
			return fmt.Errorf("step %s: %w", s.kind, err)
		}
		if err := s.check(result); err != nil {
			return fmt.Errorf("step %s: %w", s.kind, err)
		}
	}
	return nil
}

// fail records the error state with detail and emits the failure audit
// entry. The failure detail never includes command output beyond the
// reason class, so secrets in remote output cannot leak.
func (c *Controller) fail(ctx context.Context, actor string, status Status, op Operation, cause error) (Status, error) {
	status.State = StateError
	status.LastError = cause.Error()
	status.LastTransition = time.Now().UTC()
	if err := c.store.Put(ctx, status); err != nil {
		return status, err
	}

	if err := c.recorder.Record(ctx, actor, audit.ActionLifecycleError, audit.TargetHost, status.HostID,
		map[string]any{"operation": string(op), "resume_state": string(status.ResumeState)}); err != nil {
		return status, err
	}

	slog.Error("Lifecycle operation failed", "host_id", status.HostID, "operation", op, "error", cause)
	return status, fmt.Errorf("lifecycle %s on host %s: %w", op, status.HostID, cause)
}

// Info reconciles the recorded state against the agent's self-reported
// liveness. A stale heartbeat while recorded running only sets the
// staleness annotation; the running label is kept. Audit here is
// best-effort: info is read-only.
func (c *Controller) Info(ctx context.Context, actor string, hostID string) (Status, error) {
	status, err := c.status(ctx, hostID)
	if err != nil {
		return Status{}, err
	}

	if status.State == StateRunning {
		beat, beatErr := c.readHeartbeat(ctx, hostID)
		if beatErr != nil {
			// Not reaching the host says nothing about the agent's
			// heartbeat; report the last known staleness instead of
			// flagging on an infrastructure failure.
			slog.Warn("Heartbeat check failed", "host_id", hostID, "error", beatErr)
		} else {
			status.LastHeartbeat = beat
			status.StaleHeartbeat = time.Since(beat) > c.cfg.HeartbeatWindow
			if err := c.store.Put(ctx, status); err != nil {
				return status, err
			}
		}
	}

	c.recorder.RecordBestEffort(ctx, actor, audit.ActionLifecycleInfo, audit.TargetHost, hostID,
		map[string]any{"state": string(status.State), "stale": status.StaleHeartbeat})
	return status, nil
}

func (c *Controller) readHeartbeat(ctx context.Context, hostID string) (time.Time, error) {
	target, err := c.hosts.Get(ctx, hostID)
	if err != nil {
		return time.Time{}, err
	}

	handle, err := c.runner.Lease(ctx, target)
	if err != nil {
		return time.Time{}, err
	}
	defer c.runner.Release(handle)

	s := buildStep(cmdReadHeartbeat, nil, "")
	result, err := c.runner.Execute(ctx, handle, s.command, c.cfg.CommandTimeout)
	if err != nil {
		return time.Time{}, err
	}
	if err := s.check(result); err != nil {
		return time.Time{}, err
	}

	epoch, err := strconv.ParseInt(strings.TrimSpace(result.Stdout), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse heartbeat: %w", err)
	}
	return time.Unix(epoch, 0), nil
}

func auditAction(op Operation) string {
	switch op {
	case OpDeploy:
		return audit.ActionLifecycleDeploy
	case OpInstall:
		return audit.ActionLifecycleInstall
	case OpStart:
		return audit.ActionLifecycleStart
	case OpStop:
		return audit.ActionLifecycleStop
	case OpUninstall:
		return audit.ActionLifecycleUninstall
	}
	return audit.ActionLifecycleError
}
