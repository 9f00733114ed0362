package staging

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Mirror manages local checkouts of registered git repositories under one
// work directory. Checkouts are shared across jobs, so Sync serializes per
// engine through the caller's fingerprint lock.
type Mirror struct {
	workDir string
}

// NewMirror roots a Mirror at workDir/git.
func NewMirror(workDir string) *Mirror {
	return &Mirror{workDir: filepath.Join(workDir, "git")}
}

// CheckoutPath returns the local checkout directory of a repository id.
func (m *Mirror) CheckoutPath(gitID string) string {
	return filepath.Join(m.workDir, sanitize(gitID))
}

// Sync brings the local checkout of a repository up to date and returns its
// head commit sha and commit time.
func (m *Mirror) Sync(ctx context.Context, gitID, address string) (sha string, committedAt time.Time, err error) {
	dir := m.CheckoutPath(gitID)

	if _, statErr := os.Stat(filepath.Join(dir, ".git")); statErr != nil {
		if err := os.MkdirAll(m.workDir, 0755); err != nil {
			return "", time.Time{}, fmt.Errorf("staging: create git work dir: %w", err)
		}
		if _, err := runGit(ctx, m.workDir, "clone", "--depth", "1", address, dir); err != nil {
			return "", time.Time{}, fmt.Errorf("staging: clone %s: %w", gitID, err)
		}
	} else {
		if _, err := runGit(ctx, dir, "fetch", "--depth", "1", "origin"); err != nil {
			return "", time.Time{}, fmt.Errorf("staging: fetch %s: %w", gitID, err)
		}
		if _, err := runGit(ctx, dir, "reset", "--hard", "origin/HEAD"); err != nil {
			return "", time.Time{}, fmt.Errorf("staging: reset %s: %w", gitID, err)
		}
	}

	sha, err = runGit(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", time.Time{}, fmt.Errorf("staging: head of %s: %w", gitID, err)
	}

	stamp, err := runGit(ctx, dir, "log", "-1", "--format=%ct")
	if err != nil {
		return "", time.Time{}, fmt.Errorf("staging: commit time of %s: %w", gitID, err)
	}
	epoch, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("staging: commit time %q of %s", stamp, gitID)
	}

	return sha, time.Unix(epoch, 0), nil
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}
