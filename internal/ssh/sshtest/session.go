// Package sshtest provides a scriptable in-memory Session for tests.
package sshtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hpcgate/hpcgate/internal/ssh"
)

// Rule maps a command substring to a canned result.
type Rule struct {
	// Contains is matched against the executed command line.
	Contains string
	Result   ssh.Result
	Err      error
}

// Session is a fake ssh.Session driven by rules. Unmatched commands
// succeed with empty output. All operations are recorded.
type Session struct {
	mu        sync.Mutex
	rules     []Rule
	connected bool
	disposed  bool

	Commands  []string
	Uploads   []string
	Downloads []string
	Mkdirs    []string
	Removed   []string
	Unzips    [][2]string
	Zips      [][2]string

	// ConnectErr, when set, is returned by Connect.
	ConnectErr error

	// Existing marks remote paths Exists reports true for.
	Existing map[string]bool
}

// New builds an empty fake session.
func New(rules ...Rule) *Session {
	return &Session{rules: rules, Existing: map[string]bool{}}
}

// On appends a rule.
func (s *Session) On(contains string, result ssh.Result, err error) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, Rule{Contains: contains, Result: result, Err: err})
	return s
}

func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ConnectErr != nil {
		return s.ConnectErr
	}
	s.connected = true
	return nil
}

func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected && !s.disposed
}

func (s *Session) Exec(ctx context.Context, cmd string) (*ssh.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Commands = append(s.Commands, cmd)

	for _, rule := range s.rules {
		if strings.Contains(cmd, rule.Contains) {
			if rule.Err != nil {
				return nil, rule.Err
			}
			res := rule.Result
			return &res, nil
		}
	}
	return &ssh.Result{}, nil
}

func (s *Session) Upload(ctx context.Context, localPath, remotePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Uploads = append(s.Uploads, remotePath)
	s.Existing[remotePath] = true
	return nil
}

func (s *Session) Download(ctx context.Context, remotePath, localPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Downloads = append(s.Downloads, remotePath)
	return nil
}

func (s *Session) Mkdir(ctx context.Context, path string, recursive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Mkdirs = append(s.Mkdirs, path)
	s.Existing[path] = true
	return nil
}

func (s *Session) Exists(ctx context.Context, path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Existing[path], nil
}

func (s *Session) Rm(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Removed = append(s.Removed, path)
	delete(s.Existing, path)
	return nil
}

func (s *Session) Zip(ctx context.Context, src, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Zips = append(s.Zips, [2]string{src, dst})
	s.Existing[dst] = true
	return nil
}

func (s *Session) Unzip(ctx context.Context, src, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Unzips = append(s.Unzips, [2]string{src, dst})
	s.Existing[dst] = true
	return nil
}

func (s *Session) Dispose() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = true
	return nil
}

// Disposed reports whether Dispose was called.
func (s *Session) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// CommandMatching returns the first recorded command containing substr.
func (s *Session) CommandMatching(substr string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cmd := range s.Commands {
		if strings.Contains(cmd, substr) {
			return cmd, true
		}
	}
	return "", false
}

var _ ssh.Session = (*Session)(nil)

// TransportError builds a retryable transport-class error for tests.
func TransportError(msg string) error {
	return fmt.Errorf("%w: %s", ssh.ErrTransport, msg)
}
