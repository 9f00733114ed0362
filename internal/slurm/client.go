package slurm

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hpcgate/hpcgate/internal/ssh"
)

// Client drives sbatch, squeue, sacct and scancel over a remote shell.
// Transport failures are retried under the shell package's default policy;
// command failures are reported immediately.
type Client struct {
	logger *zap.Logger
	retry  ssh.RetryPolicy
}

// NewClient builds a Client.
func NewClient(logger *zap.Logger) *Client {
	return &Client{logger: logger.Named("slurm"), retry: ssh.DefaultRetryPolicy}
}

// run executes cmd with transport retries and returns its result.
func (c *Client) run(ctx context.Context, sess ssh.Session, cmd string) (*ssh.Result, error) {
	var res *ssh.Result
	err := ssh.WithRetry(ctx, c.retry,
		func(err error, next time.Duration) {
			c.logger.Warn("remote command retry", zap.String("cmd", firstWord(cmd)), zap.Duration("next", next), zap.Error(err))
		},
		func() error {
			r, err := sess.Exec(ctx, cmd)
			if err != nil {
				return err
			}
			res = r
			return nil
		})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Submit runs sbatch in workDir and returns the assigned Slurm job id.
func (c *Client) Submit(ctx context.Context, sess ssh.Session, workDir, scriptName string) (string, error) {
	cmd := fmt.Sprintf("cd '%s' && sbatch --parsable '%s'", workDir, scriptName)
	res, err := c.run(ctx, sess, cmd)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("slurm: sbatch exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	// --parsable prints "<jobid>" or "<jobid>;<cluster>".
	id := strings.TrimSpace(res.Stdout)
	if i := strings.Index(id, ";"); i >= 0 {
		id = id[:i]
	}
	if id == "" {
		return "", fmt.Errorf("slurm: sbatch produced no job id")
	}
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return "", fmt.Errorf("slurm: unexpected sbatch output %q", strings.TrimSpace(res.Stdout))
	}
	return id, nil
}

// Status queries the scheduler for a job's state: squeue while the job is
// still queued or running, sacct once it has left the active queue.
func (c *Client) Status(ctx context.Context, sess ssh.Session, remoteID string) (State, error) {
	res, err := c.run(ctx, sess, fmt.Sprintf("squeue --noheader --format='%%T' --job '%s'", remoteID))
	if err != nil {
		return StateRunning, err
	}
	if state := strings.TrimSpace(res.Stdout); res.ExitCode == 0 && state != "" {
		return MapState(state), nil
	}

	res, err = c.run(ctx, sess, fmt.Sprintf("sacct --noheader --parsable2 --format=State -j '%s'", remoteID))
	if err != nil {
		return StateRunning, err
	}
	if res.ExitCode != 0 {
		return StateRunning, fmt.Errorf("slurm: sacct exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	lines := strings.Split(strings.TrimSpace(res.Stdout), "\n")
	return MapState(lines[0]), nil
}

// Cancel asks the scheduler to stop a job. Cancelling an already-finished
// job is not an error.
func (c *Client) Cancel(ctx context.Context, sess ssh.Session, remoteID string) error {
	res, err := c.run(ctx, sess, fmt.Sprintf("scancel '%s'", remoteID))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("slurm: scancel exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// CollectUsage reads the accounting record of a finished job.
func (c *Client) CollectUsage(ctx context.Context, sess ssh.Session, remoteID string) (*Usage, error) {
	cmd := fmt.Sprintf(
		"sacct --noheader --parsable2 --format=JobID,Elapsed,CPUTime,NNodes,NCPUS,ReqMem,MaxRSS -j '%s'",
		remoteID)
	res, err := c.run(ctx, sess, cmd)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("slurm: sacct exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return parseUsage(res.Stdout)
}

// parseUsage folds the per-step sacct rows into one record: the first row
// carries the allocation, MaxRSS comes from whichever step peaked.
func parseUsage(out string) (*Usage, error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return nil, fmt.Errorf("slurm: no accounting rows")
	}

	usage := &Usage{}
	for i, line := range lines {
		fields := strings.Split(line, "|")
		if len(fields) < 7 {
			continue
		}

		if i == 0 {
			if d, err := ParseWalltime(fields[1]); err == nil {
				usage.WallTime = d
			}
			if d, err := ParseWalltime(fields[2]); err == nil {
				usage.CPUTime = d
			}
			if n, err := strconv.Atoi(fields[3]); err == nil {
				usage.Nodes = n
			}
			if n, err := strconv.Atoi(fields[4]); err == nil {
				usage.CPUs = n
			}
			if mem := strings.TrimSuffix(strings.TrimSuffix(fields[5], "n"), "c"); mem != "" {
				if b, err := ParseStorage(mem); err == nil {
					usage.Memory = b
				}
			}
		}

		if rss := strings.TrimSpace(fields[6]); rss != "" {
			if b, err := ParseStorage(rss); err == nil && b > usage.MemoryUsage {
				usage.MemoryUsage = b
			}
		}
	}
	return usage, nil
}

func firstWord(cmd string) string {
	if i := strings.IndexAny(cmd, " \t"); i >= 0 {
		return cmd[:i]
	}
	return cmd
}
