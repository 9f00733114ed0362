package slurm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hpcgate/hpcgate/internal/config"
)

func TestEffectiveCeiling_ElementWiseMinimum(t *testing.T) {
	cluster := config.Cluster{
		SlurmInputRules: config.SlurmCeiling{Nodes: 4, Memory: "16G", WallTime: "12:00:00"},
		SlurmGlobalCap:  config.SlurmCeiling{Nodes: 8, Tasks: 12, Memory: "64G"},
	}

	ceiling := EffectiveCeiling(cluster)

	// The input rule beats the cap, the cap beats the built-in 50, and the
	// built-in walltime beats the looser 12h rule.
	assert.Equal(t, 4, ceiling.Nodes)
	assert.Equal(t, 12, ceiling.Tasks)
	assert.Equal(t, "16G", ceiling.Memory)
	assert.Equal(t, 50, ceiling.CPUsPerTask)
	assert.Equal(t, "10:00:00", ceiling.WallTime)
}

func TestEffectiveCeiling_UnconfiguredClusterGetsBuiltIn(t *testing.T) {
	ceiling := EffectiveCeiling(config.Cluster{})

	assert.Equal(t, 50, ceiling.Nodes)
	assert.Equal(t, "50G", ceiling.Memory)
	assert.Equal(t, "10:00:00", ceiling.WallTime)
}

func TestValidate_AcceptsRequestWithinCeiling(t *testing.T) {
	cluster := config.Cluster{
		SlurmInputRules: config.SlurmCeiling{Nodes: 4, Memory: "16G", WallTime: "01:00:00"},
	}

	err := Validate(Options{NumOfNode: 4, Memory: "16G", Time: "01:00:00"}, cluster)
	assert.NoError(t, err)
}

func TestValidate_RejectsEachExceedingDimension(t *testing.T) {
	cluster := config.Cluster{
		SlurmInputRules: config.SlurmCeiling{
			Nodes:        4,
			Tasks:        8,
			CPUsPerTask:  2,
			Memory:       "16G",
			MemoryPerCPU: "2G",
			GPUs:         1,
			WallTime:     "01:00:00",
		},
	}

	tests := []struct {
		name string
		opts Options
	}{
		{"nodes", Options{NumOfNode: 5}},
		{"tasks", Options{NumOfTask: 9}},
		{"cpus per task", Options{CPUPerTask: 3}},
		{"gpus", Options{GPUs: 2}},
		{"memory", Options{Memory: "100G"}},
		{"memory per cpu", Options{MemoryPerCPU: "8G"}},
		{"walltime", Options{Time: "05:00:00"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, Validate(tc.opts, cluster))
		})
	}
}

func TestValidate_RejectsMalformedValues(t *testing.T) {
	cluster := config.Cluster{}

	assert.Error(t, Validate(Options{Memory: "lots"}, cluster))
	assert.Error(t, Validate(Options{Time: "forever"}, cluster))
}

func TestValidate_BuiltInCeilingAlwaysApplies(t *testing.T) {
	// A cluster with no configured rules still cannot grant more than the
	// built-in maximum.
	err := Validate(Options{NumOfNode: 500}, config.Cluster{})
	assert.Error(t, err)

	err = Validate(Options{Time: "20:00:00"}, config.Cluster{})
	assert.Error(t, err)
}

func TestValidate_DoesNotRewriteTheRequest(t *testing.T) {
	cluster := config.Cluster{SlurmInputRules: config.SlurmCeiling{Memory: "10G"}}
	opts := Options{Memory: "100G"}

	err := Validate(opts, cluster)

	assert.Error(t, err)
	assert.Equal(t, "100G", opts.Memory)
}
