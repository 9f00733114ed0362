// Package slurm covers everything the supervisor needs from the Slurm
// workload manager: user-facing resource options and their ceiling checks,
// batch script generation, and submit/poll/cancel over a remote shell.
package slurm

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Options are the user-settable Slurm resource requests carried on a job.
// Zero or empty fields are omitted from the generated script and fall back
// to the cluster's defaults.
type Options struct {
	NumOfNode    int    `json:"num_of_node,omitempty"`
	NumOfTask    int    `json:"num_of_task,omitempty"`
	CPUPerTask   int    `json:"cpu_per_task,omitempty"`
	MemoryPerCPU string `json:"memory_per_cpu,omitempty"`
	Memory       string `json:"memory,omitempty"`
	GPUs         int    `json:"num_of_gpus,omitempty"`
	Time         string `json:"time,omitempty"`
	Partition    string `json:"partition,omitempty"`
	MailType     string `json:"mail_type,omitempty"`
	MailUser     string `json:"mail_user,omitempty"`
}

// ParseWalltime converts Slurm time syntax into a duration. Accepted forms
// are "D-HH:MM:SS", "D-HH:MM", "D-HH", "HH:MM:SS", "MM:SS" and "MM".
func ParseWalltime(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("slurm: empty walltime")
	}

	var days int64
	if i := strings.Index(s, "-"); i >= 0 {
		d, err := strconv.ParseInt(s[:i], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("slurm: walltime %q: bad day count", s)
		}
		days = d
		s = s[i+1:]
	}

	parts := strings.Split(s, ":")
	for _, p := range parts {
		if _, err := strconv.ParseInt(p, 10, 64); err != nil {
			return 0, fmt.Errorf("slurm: walltime component %q", p)
		}
	}

	var hours, minutes, seconds int64
	n := func(i int) int64 {
		v, _ := strconv.ParseInt(parts[i], 10, 64)
		return v
	}
	switch {
	case days > 0 && len(parts) == 3:
		hours, minutes, seconds = n(0), n(1), n(2)
	case days > 0 && len(parts) == 2:
		hours, minutes = n(0), n(1)
	case days > 0 && len(parts) == 1:
		hours = n(0)
	case len(parts) == 3:
		hours, minutes, seconds = n(0), n(1), n(2)
	case len(parts) == 2:
		minutes, seconds = n(0), n(1)
	case len(parts) == 1:
		minutes = n(0)
	default:
		return 0, fmt.Errorf("slurm: walltime %q", s)
	}

	return time.Duration(days)*24*time.Hour +
		time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second, nil
}

// FormatWalltime renders a duration in Slurm's D-HH:MM:SS form.
func FormatWalltime(d time.Duration) string {
	total := int64(d.Seconds())
	days := total / 86400
	total %= 86400
	hours := total / 3600
	total %= 3600
	minutes := total / 60
	seconds := total % 60
	if days > 0 {
		return fmt.Sprintf("%d-%02d:%02d:%02d", days, hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

// ParseStorage converts a Slurm memory string ("4000", "512M", "10G") into
// bytes. A bare number is megabytes, matching Slurm's --mem default unit.
func ParseStorage(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, fmt.Errorf("slurm: empty storage value")
	}

	multiplier := int64(1 << 20)
	switch s[len(s)-1] {
	case 'K':
		multiplier = 1 << 10
		s = s[:len(s)-1]
	case 'M':
		multiplier = 1 << 20
		s = s[:len(s)-1]
	case 'G':
		multiplier = 1 << 30
		s = s[:len(s)-1]
	case 'T':
		multiplier = 1 << 40
		s = s[:len(s)-1]
	case 'P':
		multiplier = 1 << 50
		s = s[:len(s)-1]
	}

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("slurm: storage value %q", s)
	}
	return v * multiplier, nil
}

// FormatStorage renders a byte count in the largest whole binary unit.
func FormatStorage(bytes int64) string {
	switch {
	case bytes >= 1<<40 && bytes%(1<<40) == 0:
		return fmt.Sprintf("%dT", bytes>>40)
	case bytes >= 1<<30 && bytes%(1<<30) == 0:
		return fmt.Sprintf("%dG", bytes>>30)
	case bytes >= 1<<20 && bytes%(1<<20) == 0:
		return fmt.Sprintf("%dM", bytes>>20)
	default:
		return fmt.Sprintf("%dK", bytes>>10)
	}
}
