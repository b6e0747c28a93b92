package sshpool

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fleetdeck/fleetdeck/internal/audit"
	"github.com/fleetdeck/fleetdeck/internal/hosts"
	"github.com/fleetdeck/fleetdeck/internal/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

type fakeTransport struct {
	execFn func(ctx context.Context, command string) (ExecResult, error)
	closed atomic.Bool
}

func (t *fakeTransport) Exec(ctx context.Context, command string) (ExecResult, error) {
	if t.execFn != nil {
		return t.execFn(ctx, command)
	}
	return ExecResult{Stdout: "ok"}, nil
}

func (t *fakeTransport) Shell(ctx context.Context, pty PTY) (ShellConn, error) {
	return nil, errors.New("no shell in fake transport")
}

func (t *fakeTransport) Close() error {
	t.closed.Store(true)
	return nil
}

type fakeDialer struct {
	mu       sync.Mutex
	dials    int
	failALL  bool
	execFn   func(ctx context.Context, command string) (ExecResult, error)
	lastSeen ssh.Signer
}

func (d *fakeDialer) Dial(_ context.Context, _, _ string, signer ssh.Signer, _ time.Duration) (Transport, error) {
	d.mu.Lock()
	d.dials++
	d.lastSeen = signer
	fail := d.failALL
	d.mu.Unlock()
	if fail {
		return nil, errors.New("connection refused")
	}
	return &fakeTransport{execFn: d.execFn}, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func testVault(t *testing.T) (*vault.Service, string) {
	t.Helper()
	svc, err := vault.NewService(vault.NewMemoryStore(), audit.NewRecorder(audit.NewMemoryStore()), vault.Config{
		MasterSecret: "pool-test-secret",
		Salt:         "pool-test-salt",
	})
	require.NoError(t, err)

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)

	cred, err := svc.Store(context.Background(), "pool-key", pem.EncodeToMemory(block), "tester")
	require.NoError(t, err)
	return svc, cred.ID
}

func testTarget(credID string) *hosts.Target {
	return &hosts.Target{
		ID:           "h1",
		Name:         "web-1",
		Address:      "10.0.0.5",
		Port:         22,
		User:         "root",
		CredentialID: &credID,
	}
}

func newTestPool(t *testing.T, cfg Config, dialer Dialer) (*Pool, *hosts.Target) {
	t.Helper()
	creds, credID := testVault(t)
	pool := New(cfg, creds, dialer)
	t.Cleanup(pool.Close)
	return pool, testTarget(credID)
}

func TestLeaseReusesFreeHandle(t *testing.T) {
	dialer := &fakeDialer{}
	pool, target := newTestPool(t, DefaultConfig(), dialer)

	h1, err := pool.Lease(context.Background(), target)
	require.NoError(t, err)
	pool.Release(h1)

	h2, err := pool.Lease(context.Background(), target)
	require.NoError(t, err)
	assert.Same(t, h1, h2)
	assert.Equal(t, 1, dialer.dialCount())
}

func TestLeaseBoundEnforcedConcurrently(t *testing.T) {
	dialer := &fakeDialer{}
	cfg := DefaultConfig()
	cfg.MaxPerKey = 3
	pool, target := newTestPool(t, cfg, dialer)

	const requests = 10
	var (
		attempts  sync.WaitGroup
		done      sync.WaitGroup
		leased    atomic.Int32
		exhausted atomic.Int32
	)
	releaseNow := make(chan struct{})

	for i := 0; i < requests; i++ {
		attempts.Add(1)
		done.Add(1)
		go func() {
			defer done.Done()
			h, err := pool.Lease(context.Background(), target)
			if err != nil {
				if errors.Is(err, ErrPoolExhausted) {
					exhausted.Add(1)
				}
				attempts.Done()
				return
			}
			leased.Add(1)
			assert.LessOrEqual(t, pool.LeasedCount(target), 3)
			attempts.Done()
			// Hold the lease until every goroutine has attempted,
			// so the bound is actually contended.
			<-releaseNow
			pool.Release(h)
		}()
	}
	attempts.Wait()

	assert.Equal(t, int32(3), leased.Load())
	assert.Equal(t, int32(requests-3), exhausted.Load())
	assert.Equal(t, 3, dialer.dialCount())

	close(releaseNow)
	done.Wait()
	assert.Equal(t, 0, pool.LeasedCount(target))
}

func TestLeaseRetriesThenSurfacesConnectionError(t *testing.T) {
	dialer := &fakeDialer{failALL: true}
	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	pool, target := newTestPool(t, cfg, dialer)

	_, err := pool.Lease(context.Background(), target)
	assert.ErrorIs(t, err, ErrConnection)
	assert.Equal(t, 3, dialer.dialCount()) // first attempt + two retries
}

func TestLeaseWithoutCredential(t *testing.T) {
	pool, target := newTestPool(t, DefaultConfig(), &fakeDialer{})
	target.CredentialID = nil

	_, err := pool.Lease(context.Background(), target)
	assert.ErrorIs(t, err, vault.ErrCredentialNotFound)
}

func TestLeaseDeletedCredential(t *testing.T) {
	dialer := &fakeDialer{}
	creds, credID := testVault(t)
	pool := New(DefaultConfig(), creds, dialer)
	t.Cleanup(pool.Close)
	target := testTarget(credID)

	h, err := pool.Lease(context.Background(), target)
	require.NoError(t, err)

	require.NoError(t, creds.SoftDelete(context.Background(), credID, "tester"))

	// The established connection keeps working.
	result, err := pool.Execute(context.Background(), h, "uptime", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Stdout)

	// A second handle for the same key cannot be dialed anymore.
	_, err = pool.Lease(context.Background(), target)
	assert.ErrorIs(t, err, vault.ErrCredentialNotFound)
}

func TestReuseAfterSoftDeleteRejected(t *testing.T) {
	dialer := &fakeDialer{}
	creds, credID := testVault(t)
	pool := New(DefaultConfig(), creds, dialer)
	t.Cleanup(pool.Close)
	target := testTarget(credID)

	h, err := pool.Lease(context.Background(), target)
	require.NoError(t, err)
	pool.Release(h)

	require.NoError(t, creds.SoftDelete(context.Background(), credID, "tester"))

	// The free pooled handle must not be re-leased once the credential
	// is gone, and it is evicted in the process.
	_, err = pool.Lease(context.Background(), target)
	assert.ErrorIs(t, err, vault.ErrCredentialNotFound)
	assert.Equal(t, 1, dialer.dialCount())

	_, err = pool.Lease(context.Background(), target)
	assert.ErrorIs(t, err, vault.ErrCredentialNotFound)
	assert.Equal(t, 1, dialer.dialCount())
}

func TestExecuteTimeoutEvictsHandle(t *testing.T) {
	dialer := &fakeDialer{execFn: func(ctx context.Context, _ string) (ExecResult, error) {
		<-ctx.Done()
		return ExecResult{}, ctx.Err()
	}}
	pool, target := newTestPool(t, DefaultConfig(), dialer)

	h, err := pool.Lease(context.Background(), target)
	require.NoError(t, err)

	_, err = pool.Execute(context.Background(), h, "sleep 100", 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrCommandTimeout)

	pool.Release(h)

	// The timed-out handle must not be re-leased.
	h2, err := pool.Lease(context.Background(), target)
	require.NoError(t, err)
	assert.NotSame(t, h, h2)
	assert.Equal(t, 2, dialer.dialCount())
}

func TestExecuteTransportErrorMarksUnhealthy(t *testing.T) {
	dialer := &fakeDialer{execFn: func(context.Context, string) (ExecResult, error) {
		return ExecResult{}, errors.New("broken pipe")
	}}
	pool, target := newTestPool(t, DefaultConfig(), dialer)

	h, err := pool.Lease(context.Background(), target)
	require.NoError(t, err)

	_, err = pool.Execute(context.Background(), h, "uptime", time.Second)
	assert.ErrorIs(t, err, ErrConnection)

	pool.Release(h)

	h2, err := pool.Lease(context.Background(), target)
	require.NoError(t, err)
	assert.NotSame(t, h, h2)
}

func TestExecuteReportsExitCode(t *testing.T) {
	dialer := &fakeDialer{execFn: func(context.Context, string) (ExecResult, error) {
		return ExecResult{Stderr: "no such unit", ExitCode: 5}, nil
	}}
	pool, target := newTestPool(t, DefaultConfig(), dialer)

	h, err := pool.Lease(context.Background(), target)
	require.NoError(t, err)
	defer pool.Release(h)

	result, err := pool.Execute(context.Background(), h, "systemctl status nope", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5, result.ExitCode)
	assert.Equal(t, "no such unit", result.Stderr)
}

func TestKeyMaterialReachesDialer(t *testing.T) {
	dialer := &fakeDialer{}
	pool, target := newTestPool(t, DefaultConfig(), dialer)

	_, err := pool.Lease(context.Background(), target)
	require.NoError(t, err)
	require.NotNil(t, dialer.lastSeen)
	assert.Equal(t, "ssh-ed25519", dialer.lastSeen.PublicKey().Type())
}
