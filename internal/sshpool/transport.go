package sshpool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

// ExecResult carries the outcome of one remote command. A non-zero exit
// code is a result, not an error.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// PTY describes the pseudo-terminal requested for an interactive shell.
type PTY struct {
	Term string
	Rows int
	Cols int
}

func DefaultPTY() PTY {
	return PTY{Term: "xterm-256color", Rows: 24, Cols: 80}
}

// ShellConn is a live interactive shell channel. Reads return remote
// output, writes feed remote input.
type ShellConn interface {
	io.Reader
	io.Writer
	Close() error
}

// Transport is an established connection to one host. The concrete
// implementation wraps *ssh.Client; tests inject fakes.
type Transport interface {
	Exec(ctx context.Context, command string) (ExecResult, error)
	Shell(ctx context.Context, pty PTY) (ShellConn, error)
	Close() error
}

// Dialer performs the SSH handshake. The signer comes from the vault and
// is only valid until the caller destroys it.
type Dialer interface {
	Dial(ctx context.Context, addr, user string, signer ssh.Signer, timeout time.Duration) (Transport, error)
}

type sshDialer struct{}

// NewDialer returns the production Dialer backed by golang.org/x/crypto/ssh.
func NewDialer() Dialer {
	return sshDialer{}
}

func (sshDialer) Dial(ctx context.Context, addr, user string, signer ssh.Signer, timeout time.Duration) (Transport, error) {
	config := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	netConn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	conn, chans, reqs, err := ssh.NewClientConn(netConn, addr, config)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}

	return &sshTransport{client: ssh.NewClient(conn, chans, reqs)}, nil
}

type sshTransport struct {
	client *ssh.Client
}

func (t *sshTransport) Exec(ctx context.Context, command string) (ExecResult, error) {
	session, err := t.client.NewSession()
	if err != nil {
		return ExecResult{}, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if err := session.Start(command); err != nil {
		return ExecResult{}, fmt.Errorf("start command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		// Best effort: ask the remote to die, then tear the channel down.
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		<-done
		return ExecResult{}, ctx.Err()
	case err := <-done:
		result := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				result.ExitCode = exitErr.ExitStatus()
				return result, nil
			}
			return result, fmt.Errorf("wait for command: %w", err)
		}
		return result, nil
	}
}

func (t *sshTransport) Shell(ctx context.Context, pty PTY) (ShellConn, error) {
	session, err := t.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(pty.Term, pty.Rows, pty.Cols, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	return &shellConn{session: session, stdin: stdin, stdout: stdout}, nil
}

func (t *sshTransport) Close() error {
	return t.client.Close()
}

type shellConn struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
}

func (c *shellConn) Read(p []byte) (int, error) {
	return c.stdout.Read(p)
}

func (c *shellConn) Write(p []byte) (int, error) {
	return c.stdin.Write(p)
}

func (c *shellConn) Close() error {
	_ = c.stdin.Close()
	return c.session.Close()
}
