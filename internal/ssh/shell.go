// Package ssh implements the remote shell session: a stateful handle to one
// authenticated account on a cluster login node. It carries no policy: the
// connection pool owns session lifecycles and the staging engine and
// maintainers decide what to run.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	cryptossh "golang.org/x/crypto/ssh"
)

// ErrTransport marks connection-level failures (dial, session open, stream
// drop). Transport errors are the retryable class; command failures with a
// non-zero exit code are reported through Result.ExitCode instead.
var ErrTransport = errors.New("ssh transport error")

// ErrDisposed is returned by operations on a session after Dispose.
var ErrDisposed = errors.New("ssh session disposed")

// Config holds the parameters for one remote account.
type Config struct {
	Host           string
	Port           int
	User           string
	Password       string
	PrivateKeyPath string

	// ConnectTimeout bounds the TCP+handshake phase. Defaults to 1s.
	ConnectTimeout time.Duration
}

// Result carries the outcome of one remote command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Session is the remote shell contract consumed by the pool, the staging
// engine, the maintainers and the credential guard.
type Session interface {
	Connect(ctx context.Context) error
	IsConnected() bool

	// Exec runs cmd and blocks until it finishes. A non-zero exit code is
	// not an error; callers inspect Result.ExitCode. Errors wrap
	// ErrTransport.
	Exec(ctx context.Context, cmd string) (*Result, error)

	Upload(ctx context.Context, localPath, remotePath string) error
	Download(ctx context.Context, remotePath, localPath string) error
	Mkdir(ctx context.Context, path string, recursive bool) error
	Exists(ctx context.Context, path string) (bool, error)
	Rm(ctx context.Context, path string) error
	Zip(ctx context.Context, src, dst string) error
	Unzip(ctx context.Context, src, dst string) error

	// Dispose closes the transport. Idempotent.
	Dispose() error
}

// Shell is the golang.org/x/crypto/ssh implementation of Session.
// Commands are serialized on one transport: a shared community-account
// shell may be handed to several job workers at once, and the underlying
// library's per-session guarantees do not extend to concurrent writes on
// one channel, so Exec holds the session mutex for the duration of the
// command.
type Shell struct {
	cfg       Config
	clientCfg *cryptossh.ClientConfig

	mu       sync.Mutex
	client   *cryptossh.Client
	disposed bool
}

// NewShell builds an unconnected Shell for the given account.
func NewShell(cfg Config) (*Shell, error) {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = time.Second
	}

	clientCfg := &cryptossh.ClientConfig{
		User:    cfg.User,
		Timeout: cfg.ConnectTimeout,
		// Cluster login nodes are addressed by configured IP; host key
		// pinning is handled at the network layer in the deployments this
		// targets.
		HostKeyCallback: cryptossh.InsecureIgnoreHostKey(),
	}

	switch {
	case cfg.PrivateKeyPath != "":
		key, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("ssh: read private key: %w", err)
		}
		signer, err := cryptossh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("ssh: parse private key: %w", err)
		}
		clientCfg.Auth = []cryptossh.AuthMethod{cryptossh.PublicKeys(signer)}
	case cfg.Password != "":
		clientCfg.Auth = []cryptossh.AuthMethod{cryptossh.Password(cfg.Password)}
	default:
		return nil, errors.New("ssh: no authentication method provided")
	}

	return &Shell{cfg: cfg, clientCfg: clientCfg}, nil
}

// Connect dials the login node. Calling Connect on a connected shell is a
// no-op; calling it after Dispose is an error.
func (s *Shell) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return ErrDisposed
	}
	if s.client != nil {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	type dialResult struct {
		client *cryptossh.Client
		err    error
	}
	ch := make(chan dialResult, 1)
	go func() {
		c, err := cryptossh.Dial("tcp", addr, s.clientCfg)
		ch <- dialResult{c, err}
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: dial %s: %v", ErrTransport, addr, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("%w: dial %s: %v", ErrTransport, addr, r.err)
		}
		s.client = r.client
		return nil
	}
}

// IsConnected reports whether the transport is open.
func (s *Shell) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil && !s.disposed
}

// Exec runs cmd on the remote account and returns its output and exit code.
func (s *Shell) Exec(ctx context.Context, cmd string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return nil, ErrDisposed
	}
	if s.client == nil {
		return nil, fmt.Errorf("%w: not connected", ErrTransport)
	}

	session, err := s.client.NewSession()
	if err != nil {
		// A failed session open usually means the transport died underneath
		// us; drop the client so the next Connect re-dials.
		s.client.Close()
		s.client = nil
		return nil, fmt.Errorf("%w: new session: %v", ErrTransport, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			session.Close()
		case <-done:
		}
	}()

	runErr := session.Run(cmd)
	close(done)

	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, ctx.Err())
	}

	res := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if runErr != nil {
		var exitErr *cryptossh.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		return nil, fmt.Errorf("%w: run: %v", ErrTransport, runErr)
	}
	return res, nil
}

// Upload copies a single local file to remotePath using an scp sink on the
// remote side. Directories are staged as zips by the staging engine, so
// only regular files travel through here.
func (s *Shell) Upload(ctx context.Context, localPath, remotePath string) error {
	content, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("ssh: read local file: %w", err)
	}
	return s.UploadBytes(ctx, content, remotePath, 0644)
}

// UploadBytes writes content to remotePath via scp.
func (s *Shell) UploadBytes(ctx context.Context, content []byte, remotePath string, mode os.FileMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return ErrDisposed
	}
	if s.client == nil {
		return fmt.Errorf("%w: not connected", ErrTransport)
	}

	session, err := s.client.NewSession()
	if err != nil {
		s.client.Close()
		s.client = nil
		return fmt.Errorf("%w: new session: %v", ErrTransport, err)
	}
	defer session.Close()

	filename := filepath.Base(remotePath)
	dir := filepath.Dir(remotePath)

	go func() {
		w, err := session.StdinPipe()
		if err != nil {
			return
		}
		defer w.Close()
		fmt.Fprintf(w, "C%04o %d %s\n", mode, len(content), filename)
		w.Write(content)
		fmt.Fprint(w, "\x00")
	}()

	if err := session.Run(fmt.Sprintf("scp -t %s", shellQuote(dir))); err != nil {
		return fmt.Errorf("%w: scp upload %s: %v", ErrTransport, remotePath, err)
	}
	return nil
}

// Download fetches a remote file into localPath.
func (s *Shell) Download(ctx context.Context, remotePath, localPath string) error {
	res, err := s.Exec(ctx, fmt.Sprintf("cat %s", shellQuote(remotePath)))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("ssh: download %s: %s", remotePath, strings.TrimSpace(res.Stderr))
	}
	if err := os.WriteFile(localPath, []byte(res.Stdout), 0644); err != nil {
		return fmt.Errorf("ssh: write local file: %w", err)
	}
	return nil
}

// Cat returns the contents of a remote file.
func (s *Shell) Cat(ctx context.Context, remotePath string) (string, error) {
	res, err := s.Exec(ctx, fmt.Sprintf("cat %s", shellQuote(remotePath)))
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("ssh: cat %s: %s", remotePath, strings.TrimSpace(res.Stderr))
	}
	return res.Stdout, nil
}

// Mkdir creates a remote directory.
func (s *Shell) Mkdir(ctx context.Context, path string, recursive bool) error {
	flag := ""
	if recursive {
		flag = "-p "
	}
	res, err := s.Exec(ctx, fmt.Sprintf("mkdir %s%s", flag, shellQuote(path)))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("ssh: mkdir %s: %s", path, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// Exists reports whether a remote path exists.
func (s *Shell) Exists(ctx context.Context, path string) (bool, error) {
	res, err := s.Exec(ctx, fmt.Sprintf("test -e %s", shellQuote(path)))
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

// Rm removes a remote path recursively.
func (s *Shell) Rm(ctx context.Context, path string) error {
	res, err := s.Exec(ctx, fmt.Sprintf("rm -rf %s", shellQuote(path)))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("ssh: rm %s: %s", path, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// Zip archives a remote directory into dst. The archive is rooted at the
// directory's contents so unzipping elsewhere reproduces the layout.
func (s *Shell) Zip(ctx context.Context, src, dst string) error {
	cmd := fmt.Sprintf("cd %s && zip -q -r %s .", shellQuote(src), shellQuote(dst))
	res, err := s.Exec(ctx, cmd)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("ssh: zip %s: %s", src, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// Unzip extracts a remote archive into dst, creating dst if needed.
func (s *Shell) Unzip(ctx context.Context, src, dst string) error {
	cmd := fmt.Sprintf("mkdir -p %s && unzip -q -o %s -d %s",
		shellQuote(dst), shellQuote(src), shellQuote(dst))
	res, err := s.Exec(ctx, cmd)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("ssh: unzip %s: %s", src, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// Dispose closes the transport. Safe to call multiple times.
func (s *Shell) Dispose() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return nil
	}
	s.disposed = true

	if s.client != nil {
		err := s.client.Close()
		s.client = nil
		if err != nil {
			return fmt.Errorf("ssh: close: %w", err)
		}
	}
	return nil
}

// shellQuote single-quotes a path for safe interpolation into a remote
// command line.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// IsTransient reports whether err belongs to the retryable transport class.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransport)
}

var _ Session = (*Shell)(nil)
