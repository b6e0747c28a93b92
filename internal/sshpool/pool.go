package sshpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fleetdeck/fleetdeck/internal/hosts"
	"github.com/fleetdeck/fleetdeck/internal/vault"
)

var (
	ErrPoolExhausted  = errors.New("connection pool exhausted for host")
	ErrConnection     = errors.New("ssh connection failed")
	ErrCommandTimeout = errors.New("remote command timed out")
)

const cleanupInterval = 30 * time.Second

type Config struct {
	MaxPerKey      int
	ConnectTimeout time.Duration
	IdleTimeout    time.Duration
	MaxRetries     uint64
}

func DefaultConfig() Config {
	return Config{
		MaxPerKey:      3,
		ConnectTimeout: 10 * time.Second,
		IdleTimeout:    5 * time.Minute,
		MaxRetries:     3,
	}
}

// Credentials is the slice of the vault this pool needs: transient key
// material per handshake.
type Credentials interface {
	Retrieve(ctx context.Context, id string, purpose string) (*vault.KeyMaterial, error)
	Verify(ctx context.Context, id string) error
}

// Handle is one leased, reusable connection. Lease state and health are
// guarded by the owning bucket's lock.
type Handle struct {
	key       string
	transport Transport
	healthy   bool
	leased    bool
	lastUsed  time.Time
}

// bucket holds all handles for one pool key. Each bucket carries its own
// lock so unrelated hosts never contend.
type bucket struct {
	mu      sync.Mutex
	handles []*Handle
	pending int
}

// Pool maintains bounded, reusable SSH connections keyed by
// host:port:user:credential.
type Pool struct {
	cfg    Config
	creds  Credentials
	dialer Dialer

	mu      sync.Mutex
	buckets map[string]*bucket
	stopCh  chan struct{}
	stopped sync.Once
}

func New(cfg Config, creds Credentials, dialer Dialer) *Pool {
	if cfg.MaxPerKey <= 0 {
		cfg.MaxPerKey = DefaultConfig().MaxPerKey
	}
	p := &Pool{
		cfg:     cfg,
		creds:   creds,
		dialer:  dialer,
		buckets: make(map[string]*bucket),
		stopCh:  make(chan struct{}),
	}
	go p.evictIdleLoop()
	return p
}

func poolKey(target *hosts.Target) string {
	credID := ""
	if target.CredentialID != nil {
		credID = *target.CredentialID
	}
	return fmt.Sprintf("%s:%d:%s:%s", target.Address, target.Port, target.User, credID)
}

func (p *Pool) bucketFor(key string) *bucket {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.buckets[key]
	if !ok {
		b = &bucket{}
		p.buckets[key] = b
	}
	return b
}

// Lease returns a healthy free handle for the target, dialing a new
// connection when none exists. The per-key bound is enforced before any
// handshake starts; callers at the bound get ErrPoolExhausted and should
// retry later.
func (p *Pool) Lease(ctx context.Context, target *hosts.Target) (*Handle, error) {
	if target.CredentialID == nil {
		return nil, vault.ErrCredentialNotFound
	}
	key := poolKey(target)
	b := p.bucketFor(key)

	b.mu.Lock()
	for _, h := range b.handles {
		if h.healthy && !h.leased {
			h.leased = true
			h.lastUsed = time.Now()
			b.mu.Unlock()
			// A soft-deleted credential keeps its in-flight leases but
			// must not back any new one, reused or dialed.
			if err := p.creds.Verify(ctx, *target.CredentialID); err != nil {
				p.evict(h)
				return nil, err
			}
			slog.Debug("Reusing pooled connection", "pool_key", key)
			return h, nil
		}
	}
	if len(b.handles)+b.pending >= p.cfg.MaxPerKey {
		b.mu.Unlock()
		return nil, ErrPoolExhausted
	}
	b.pending++
	b.mu.Unlock()

	transport, err := p.dial(ctx, target)

	b.mu.Lock()
	b.pending--
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}
	h := &Handle{key: key, transport: transport, healthy: true, leased: true, lastUsed: time.Now()}
	b.handles = append(b.handles, h)
	total := len(b.handles)
	b.mu.Unlock()

	slog.Info("SSH connection established", "pool_key", key, "pool_size", total)
	return h, nil
}

// dial performs the handshake with retry and exponential backoff. Key
// material is destroyed as soon as the handshake settles, success or not.
func (p *Pool) dial(ctx context.Context, target *hosts.Target) (Transport, error) {
	material, err := p.creds.Retrieve(ctx, *target.CredentialID, "ssh-handshake")
	if err != nil {
		return nil, err
	}
	defer material.Destroy()

	var transport Transport
	operation := func() error {
		t, dialErr := p.dialer.Dial(ctx, target.Addr(), target.User, material.Signer(), p.cfg.ConnectTimeout)
		if dialErr != nil {
			slog.Warn("SSH handshake attempt failed", "addr", target.Addr(), "error", dialErr)
			return dialErr
		}
		transport = t
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), p.cfg.MaxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnection, target.Addr(), err)
	}
	return transport, nil
}

// Release returns a handle to the free state. Unhealthy handles are
// evicted instead of being re-pooled.
func (p *Pool) Release(h *Handle) {
	b := p.bucketFor(h.key)
	b.mu.Lock()
	h.leased = false
	h.lastUsed = time.Now()
	unhealthy := !h.healthy
	b.mu.Unlock()

	if unhealthy {
		p.evict(h)
	}
}

// Execute runs one command over a leased handle with a hard timeout. A
// timeout evicts the handle: the transport cannot cleanly interrupt a
// remote command, so the connection is not trusted afterwards.
func (p *Pool) Execute(ctx context.Context, h *Handle, command string, timeout time.Duration) (ExecResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := h.transport.Exec(execCtx, command)
	if err != nil {
		p.markUnhealthy(h)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return result, fmt.Errorf("%w: %s", ErrCommandTimeout, command)
		}
		return result, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return result, nil
}

// Shell opens an interactive shell on a leased handle. The handle is
// expected to stay dedicated to the shell until the session ends.
func (p *Pool) Shell(ctx context.Context, h *Handle, pty PTY) (ShellConn, error) {
	conn, err := h.transport.Shell(ctx, pty)
	if err != nil {
		p.markUnhealthy(h)
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return conn, nil
}

func (p *Pool) markUnhealthy(h *Handle) {
	b := p.bucketFor(h.key)
	b.mu.Lock()
	h.healthy = false
	b.mu.Unlock()
}

func (p *Pool) evict(h *Handle) {
	b := p.bucketFor(h.key)
	b.mu.Lock()
	for i, cur := range b.handles {
		if cur == h {
			b.handles = append(b.handles[:i], b.handles[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
	_ = h.transport.Close()
	slog.Debug("Connection evicted", "pool_key", h.key)
}

func (p *Pool) evictIdleLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.evictIdle()
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) evictIdle() {
	p.mu.Lock()
	buckets := make([]*bucket, 0, len(p.buckets))
	for _, b := range p.buckets {
		buckets = append(buckets, b)
	}
	p.mu.Unlock()

	now := time.Now()
	for _, b := range buckets {
		var stale []*Handle
		b.mu.Lock()
		kept := b.handles[:0]
		for _, h := range b.handles {
			if !h.leased && (!h.healthy || now.Sub(h.lastUsed) > p.cfg.IdleTimeout) {
				stale = append(stale, h)
				continue
			}
			kept = append(kept, h)
		}
		b.handles = kept
		b.mu.Unlock()

		for _, h := range stale {
			_ = h.transport.Close()
			slog.Debug("Idle connection closed", "pool_key", h.key)
		}
	}
}

// LeasedCount reports currently leased handles for a target's pool key.
func (p *Pool) LeasedCount(target *hosts.Target) int {
	b := p.bucketFor(poolKey(target))
	b.mu.Lock()
	defer b.mu.Unlock()
	count := 0
	for _, h := range b.handles {
		if h.leased {
			count++
		}
	}
	return count
}

// Close shuts the pool down and closes every transport.
func (p *Pool) Close() {
	p.stopped.Do(func() { close(p.stopCh) })

	p.mu.Lock()
	defer p.mu.Unlock()
	for key, b := range p.buckets {
		b.mu.Lock()
		for _, h := range b.handles {
			_ = h.transport.Close()
		}
		b.handles = nil
		b.mu.Unlock()
		delete(p.buckets, key)
	}
}
