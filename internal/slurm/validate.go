package slurm

import (
	"fmt"
	"time"

	"github.com/hpcgate/hpcgate/internal/config"
)

// Built-in ceiling applied on top of cluster rules. Keeps a cluster with no
// configured caps from accepting unbounded requests.
var defaultCeiling = config.SlurmCeiling{
	Nodes:        50,
	Tasks:        50,
	CPUsPerTask:  50,
	MemoryPerCPU: "10G",
	Memory:       "50G",
	GPUs:         20,
	WallTime:     "10:00:00",
}

// EffectiveCeiling returns the element-wise minimum of the cluster's input
// rules, its cluster-wide cap and the built-in ceiling. Rule dimensions that
// are zero or empty are unconstrained and fall through to the stricter
// layers, so the result is always fully bounded.
func EffectiveCeiling(cluster config.Cluster) config.SlurmCeiling {
	ceiling := defaultCeiling
	for _, layer := range []config.SlurmCeiling{cluster.SlurmGlobalCap, cluster.SlurmInputRules} {
		ceiling.Nodes = minPositive(layer.Nodes, ceiling.Nodes)
		ceiling.Tasks = minPositive(layer.Tasks, ceiling.Tasks)
		ceiling.CPUsPerTask = minPositive(layer.CPUsPerTask, ceiling.CPUsPerTask)
		ceiling.GPUs = minPositive(layer.GPUs, ceiling.GPUs)
		ceiling.MemoryPerCPU = minStorage(layer.MemoryPerCPU, ceiling.MemoryPerCPU)
		ceiling.Memory = minStorage(layer.Memory, ceiling.Memory)
		ceiling.WallTime = minWalltime(layer.WallTime, ceiling.WallTime)
	}
	return ceiling
}

func minPositive(a, b int) int {
	if a <= 0 {
		return b
	}
	if b <= 0 || a < b {
		return a
	}
	return b
}

func minStorage(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	av, err := ParseStorage(a)
	if err != nil {
		return b
	}
	bv, err := ParseStorage(b)
	if err != nil || av < bv {
		return a
	}
	return b
}

func minWalltime(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	ad, err := ParseWalltime(a)
	if err != nil {
		return b
	}
	bd, err := ParseWalltime(b)
	if err != nil || ad < bd {
		return a
	}
	return b
}

// Validate checks every requested dimension against the cluster's effective
// ceiling. A request exceeding the ceiling in any dimension is rejected, as
// is a memory or time value that does not parse; a job never reaches the
// queue with a rewritten request.
func Validate(opts Options, cluster config.Cluster) error {
	ceiling := EffectiveCeiling(cluster)

	if ceiling.Nodes > 0 && opts.NumOfNode > ceiling.Nodes {
		return fmt.Errorf("slurm: num_of_node %d exceeds limit %d", opts.NumOfNode, ceiling.Nodes)
	}
	if ceiling.Tasks > 0 && opts.NumOfTask > ceiling.Tasks {
		return fmt.Errorf("slurm: num_of_task %d exceeds limit %d", opts.NumOfTask, ceiling.Tasks)
	}
	if ceiling.CPUsPerTask > 0 && opts.CPUPerTask > ceiling.CPUsPerTask {
		return fmt.Errorf("slurm: cpu_per_task %d exceeds limit %d", opts.CPUPerTask, ceiling.CPUsPerTask)
	}
	if ceiling.GPUs > 0 && opts.GPUs > ceiling.GPUs {
		return fmt.Errorf("slurm: num_of_gpus %d exceeds limit %d", opts.GPUs, ceiling.GPUs)
	}
	if err := checkStorage("memory_per_cpu", opts.MemoryPerCPU, ceiling.MemoryPerCPU); err != nil {
		return err
	}
	if err := checkStorage("memory", opts.Memory, ceiling.Memory); err != nil {
		return err
	}
	return checkWalltime(opts.Time, ceiling.WallTime)
}

func checkStorage(field, value, limit string) error {
	if value == "" {
		return nil
	}
	v, err := ParseStorage(value)
	if err != nil {
		return fmt.Errorf("slurm: %s: %w", field, err)
	}
	if limit == "" {
		return nil
	}
	l, err := ParseStorage(limit)
	if err != nil {
		return nil
	}
	if v > l {
		return fmt.Errorf("slurm: %s %s exceeds limit %s", field, value, limit)
	}
	return nil
}

func checkWalltime(value, limit string) error {
	if value == "" {
		return nil
	}
	v, err := ParseWalltime(value)
	if err != nil {
		return fmt.Errorf("slurm: time: %w", err)
	}
	if limit == "" {
		return nil
	}
	l, err := ParseWalltime(limit)
	if err != nil {
		return nil
	}
	if v > l {
		return fmt.Errorf("slurm: time %s exceeds limit %s", value, limit)
	}
	return nil
}

// WalltimeOrDefault parses the option's walltime, falling back to the
// built-in ceiling when unset or malformed.
func WalltimeOrDefault(opts Options) time.Duration {
	if opts.Time != "" {
		if d, err := ParseWalltime(opts.Time); err == nil {
			return d
		}
	}
	d, _ := ParseWalltime(defaultCeiling.WallTime)
	return d
}
