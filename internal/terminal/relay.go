package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/fleetdeck/fleetdeck/internal/audit"
	"github.com/fleetdeck/fleetdeck/internal/auth"
	"github.com/fleetdeck/fleetdeck/internal/hosts"
	"github.com/fleetdeck/fleetdeck/internal/sshpool"
	"github.com/fleetdeck/fleetdeck/internal/vault"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	IdleTimeout      time.Duration
	WatchdogInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		IdleTimeout:      30 * time.Minute,
		WatchdogInterval: 15 * time.Second,
	}
}

// Pooler is the slice of the connection pool the relay leases dedicated
// connections from. A leased handle stays with its session until close.
type Pooler interface {
	Lease(ctx context.Context, target *hosts.Target) (*sshpool.Handle, error)
	Release(h *sshpool.Handle)
	Shell(ctx context.Context, h *sshpool.Handle, pty sshpool.PTY) (sshpool.ShellConn, error)
}

// Relay bridges operator streams to remote interactive shells with
// session accounting, an idle watchdog and a close-once teardown.
type Relay struct {
	cfg      Config
	pool     Pooler
	hosts    *hosts.Service
	store    Store
	recorder *audit.Recorder

	mu     sync.RWMutex
	active map[string]*running
}

// running couples an active session with the resources its teardown
// must release.
type running struct {
	sess   *Session
	stream Stream
	shell  sshpool.ShellConn
	handle *sshpool.Handle
}

func NewRelay(cfg Config, pool Pooler, hostSvc *hosts.Service, store Store, recorder *audit.Recorder) *Relay {
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultConfig().IdleTimeout
	}
	if cfg.WatchdogInterval == 0 {
		cfg.WatchdogInterval = DefaultConfig().WatchdogInterval
	}
	return &Relay{
		cfg:      cfg,
		pool:     pool,
		hosts:    hostSvc,
		store:    store,
		recorder: recorder,
		active:   make(map[string]*running),
	}
}

// Open establishes a session: authorization, a dedicated pooled
// connection (the vault is consulted once, inside the lease, and never
// again for the life of the session), a remote shell, and the two
// forwarding loops. Exactly one session.open audit entry is emitted.
func (r *Relay) Open(ctx context.Context, operator auth.Operator, hostID string, stream Stream) (*Session, error) {
	if !operator.Elevated() {
		return nil, ErrUnauthorized
	}

	target, err := r.hosts.Get(ctx, hostID)
	if err != nil {
		return nil, err
	}
	if target.CredentialID == nil {
		return nil, vault.ErrCredentialNotFound
	}

	sess := &Session{
		ID:           uuid.New().String(),
		HostID:       hostID,
		OperatorID:   operator.ID,
		CredentialID: *target.CredentialID,
		StartedAt:    time.Now().UTC(),
		status:       StatusConnecting,
		lastActivity: time.Now(),
		done:         make(chan struct{}),
	}
	if err := r.store.Put(ctx, sess.snapshot()); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	handle, err := r.pool.Lease(ctx, target)
	if err != nil {
		r.abandon(ctx, sess, err)
		return nil, err
	}

	shell, err := r.pool.Shell(ctx, handle, sshpool.DefaultPTY())
	if err != nil {
		r.pool.Release(handle)
		r.abandon(ctx, sess, err)
		return nil, err
	}

	sess.setStatus(StatusActive)
	if err := r.store.Put(ctx, sess.snapshot()); err != nil {
		_ = shell.Close()
		r.pool.Release(handle)
		r.abandon(ctx, sess, err)
		return nil, fmt.Errorf("persist session: %w", err)
	}

	if err := r.recorder.Record(ctx, operator.ID, audit.ActionSessionOpen, audit.TargetSession, sess.ID,
		map[string]any{"host_id": hostID}); err != nil {
		_ = shell.Close()
		r.pool.Release(handle)
		r.abandon(ctx, sess, err)
		return nil, err
	}

	run := &running{sess: sess, stream: stream, shell: shell, handle: handle}
	r.mu.Lock()
	r.active[sess.ID] = run
	r.mu.Unlock()

	go r.serve(run)

	slog.Info("Terminal session opened", "session_id", sess.ID, "host_id", hostID, "operator", operator.Username)
	return sess, nil
}

// abandon records a session that never became active. No close audit is
// emitted because no open entry exists yet.
func (r *Relay) abandon(ctx context.Context, sess *Session, cause error) {
	sess.mu.Lock()
	sess.status = StatusError
	now := time.Now().UTC()
	sess.endedAt = &now
	sess.closeReason = "connect_failed"
	sess.mu.Unlock()
	sess.closeOnce.Do(func() { close(sess.done) })
	if err := r.store.Put(ctx, sess.snapshot()); err != nil {
		slog.Error("Failed to persist abandoned session", "session_id", sess.ID, "error", err)
	}
	slog.Warn("Terminal session failed to connect", "session_id", sess.ID, "error", cause)
}

// serve runs the two symmetric forwarding loops and the idle watchdog.
// Any of the three triggering teardown funnels into the close-once
// guard, so racing closers produce a single close.
func (r *Relay) serve(run *running) {
	go r.watchdog(run)

	var g errgroup.Group
	g.Go(func() error {
		err := forward(run.shell, run.stream, run.sess)
		r.close(run, ReasonClientGone, isTransportError(err))
		return nil
	})
	g.Go(func() error {
		err := forward(run.stream, run.shell, run.sess)
		r.close(run, ReasonRemoteGone, isTransportError(err))
		return nil
	})
	_ = g.Wait()
}

func isTransportError(err error) bool {
	return err != nil && !errors.Is(err, io.EOF)
}

// forward copies one direction, recording activity per chunk so the
// watchdog sees traffic in either direction.
func forward(dst io.Writer, src io.Reader, sess *Session) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			sess.touch()
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			return err
		}
	}
}

func (r *Relay) watchdog(run *running) {
	ticker := time.NewTicker(r.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-run.sess.done:
			return
		case <-ticker.C:
			if run.sess.idleFor() > r.cfg.IdleTimeout {
				slog.Info("Idle watchdog closing session", "session_id", run.sess.ID)
				r.close(run, ReasonIdleTimeout, false)
				return
			}
		}
	}
}

// close tears the session down exactly once regardless of which loop,
// the watchdog or an administrative stop got there first.
func (r *Relay) close(run *running, reason string, failed bool) {
	run.sess.closeOnce.Do(func() {
		sess := run.sess
		sess.mu.Lock()
		if failed {
			sess.status = StatusError
		} else {
			sess.status = StatusClosed
		}
		now := time.Now().UTC()
		sess.endedAt = &now
		sess.closeReason = reason
		sess.mu.Unlock()

		// Closing both ends unblocks whichever forwarding loop is
		// still parked in a read.
		_ = run.shell.Close()
		_ = run.stream.Close()
		r.pool.Release(run.handle)
		close(sess.done)

		r.mu.Lock()
		delete(r.active, sess.ID)
		r.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.store.Put(ctx, sess.snapshot()); err != nil {
			slog.Error("Failed to persist session close", "session_id", sess.ID, "error", err)
		}
		if err := r.recorder.Record(ctx, sess.OperatorID, audit.ActionSessionClose, audit.TargetSession, sess.ID,
			map[string]any{"host_id": sess.HostID, "reason": reason}); err != nil {
			slog.Error("Failed to audit session close", "session_id", sess.ID, "error", err)
		}

		slog.Info("Terminal session closed", "session_id", sess.ID, "reason", reason)
	})
}

// Stop force-closes an active session. Admins may stop any session,
// operators only their own.
func (r *Relay) Stop(_ context.Context, operator auth.Operator, sessionID string) error {
	r.mu.RLock()
	run, ok := r.active[sessionID]
	r.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}

	if !operator.Admin() && run.sess.OperatorID != operator.ID {
		return ErrUnauthorized
	}

	reason := ReasonOperatorClose
	if operator.Admin() && run.sess.OperatorID != operator.ID {
		reason = ReasonAdminClose
	}
	r.close(run, reason, false)
	return nil
}

// List returns session records: admins see all, everyone else only
// their own.
func (r *Relay) List(ctx context.Context, operator auth.Operator) ([]Record, error) {
	if operator.Admin() {
		return r.store.List(ctx, "")
	}
	return r.store.List(ctx, operator.ID)
}

// Shutdown closes every active session, e.g. on server exit.
func (r *Relay) Shutdown() {
	r.mu.RLock()
	runs := make([]*running, 0, len(r.active))
	for _, run := range r.active {
		runs = append(runs, run)
	}
	r.mu.RUnlock()

	for _, run := range runs {
		r.close(run, ReasonShutdown, false)
	}
}
