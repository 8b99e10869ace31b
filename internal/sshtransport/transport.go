// Package sshtransport implements the Remote Command Transport (spec
// §4.1): running a shell command on a remote host and capturing its
// stdout/stderr/exit code, plus a minimal reachability probe. It is the
// one place in the engine that opens a network connection to a host
// whose database may be completely down — every higher component that
// needs to act on a shut-down node goes through here.
package sshtransport

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/repmgr-go/repmgr/internal/rmerrors"
)

// Options configures how connections are established and commands run.
type Options struct {
	Port           int           // default 22
	KeyPath        string        // private key file; empty uses ssh-agent
	ConnectTimeout time.Duration // default 10s
	CommandTimeout time.Duration // default 0 (no limit beyond ctx)
	Insecure       bool          // skip host key verification (testing only)
	KnownHostsPath string        // default ~/.ssh/known_hosts
}

func (o Options) withDefaults() Options {
	if o.Port == 0 {
		o.Port = 22
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	return o
}

// Result is the outcome of RunRemote: captured stdout/stderr and the
// remote command's exit status.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ProbeSsh performs a minimal connectivity test: can we complete an SSH
// handshake and authenticate as user@host? It does not run a command.
func ProbeSsh(ctx context.Context, host, user string, opts Options) error {
	client, err := dial(ctx, host, user, opts)
	if err != nil {
		return err
	}
	return client.Close()
}

// RunRemote executes cmd verbatim on host via SSH, returning captured
// stdout/stderr and the exit code. All quoting of embedded arguments
// (connection strings rendered via internal/connstring, file paths,
// etc.) is the caller's responsibility — this function does not
// re-interpret cmd in any way. Failures to connect or authenticate are
// reported as TransportError; a non-zero remote exit status is reported
// in Result.ExitCode, not as a Go error, so callers can distinguish
// "ran and failed" from "never ran".
func RunRemote(ctx context.Context, host, user, cmd string, opts Options) (Result, error) {
	opts = opts.withDefaults()
	client, err := dial(ctx, host, user, opts)
	if err != nil {
		return Result{}, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return Result{}, rmerrors.Wrap(rmerrors.KindTransport, "open ssh session to "+host, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	runCtx := ctx
	var cancel context.CancelFunc
	if opts.CommandTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.CommandTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-runCtx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return Result{}, rmerrors.Wrap(rmerrors.KindTransport,
			fmt.Sprintf("command on %s timed out", host), runCtx.Err())
	case err := <-done:
		res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
		if err == nil {
			res.ExitCode = 0
			return res, nil
		}
		var exitErr *ssh.ExitError
		if as(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		return res, rmerrors.Wrap(rmerrors.KindTransport,
			fmt.Sprintf("command on %s failed to run", host), err).WithDetail(res.Stderr)
	}
}

func as(err error, target **ssh.ExitError) bool {
	e, ok := err.(*ssh.ExitError)
	if !ok {
		return false
	}
	*target = e
	return true
}

func dial(ctx context.Context, host, user string, opts Options) (*ssh.Client, error) {
	opts = opts.withDefaults()

	auth, err := authMethod(opts)
	if err != nil {
		return nil, rmerrors.Wrap(rmerrors.KindTransport, "load ssh credentials", err)
	}

	hostKeyCallback, err := hostKeyCallback(opts)
	if err != nil {
		return nil, rmerrors.Wrap(rmerrors.KindTransport, "load known_hosts", err)
	}

	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: hostKeyCallback,
		Timeout:         opts.ConnectTimeout,
	}

	addr := net.JoinHostPort(host, itoa(opts.Port))
	dialCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, rmerrors.Wrap(rmerrors.KindTransport, "dial "+addr, err).
			WithHint("verify the node is reachable and sshd is running")
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, rmerrors.Wrap(rmerrors.KindTransport, "ssh handshake with "+addr, err)
	}
	return ssh.NewClient(c, chans, reqs), nil
}

func authMethod(opts Options) (ssh.AuthMethod, error) {
	if opts.KeyPath != "" {
		key, err := os.ReadFile(opts.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key %s: %w", opts.KeyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse private key %s: %w", opts.KeyPath, err)
		}
		return ssh.PublicKeys(signer), nil
	}

	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, fmt.Errorf("no --ssh-key given and SSH_AUTH_SOCK is not set")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, fmt.Errorf("dial ssh-agent socket: %w", err)
	}
	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers), nil
}

func hostKeyCallback(opts Options) (ssh.HostKeyCallback, error) {
	if opts.Insecure {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := opts.KnownHostsPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = home + "/.ssh/known_hosts"
	}
	return knownhosts.New(path)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [6]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
