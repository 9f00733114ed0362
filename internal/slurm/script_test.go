package slurm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScript_RendersDirectivesAndBody(t *testing.T) {
	script := Script(ScriptSpec{
		JobName: "hpcgate_test",
		Options: Options{
			NumOfNode:  2,
			NumOfTask:  4,
			CPUPerTask: 8,
			Memory:     "16G",
			Time:       "01:00:00",
			Partition:  "gpu",
		},
		Stdout:   "/work/result/job.stdout",
		Stderr:   "/work/result/job.stderr",
		Modules:  []string{"singularity"},
		Env:      map[string]string{"B_VAR": "two", "A_VAR": "one"},
		Preamble: []string{"source /etc/profile"},
		Commands: []string{"srun --unbuffered echo hello"},
	})

	assert.True(t, strings.HasPrefix(script, "#!/bin/bash\n"))
	assert.Contains(t, script, "#SBATCH --job-name=hpcgate_test\n")
	assert.Contains(t, script, "#SBATCH --nodes=2\n")
	assert.Contains(t, script, "#SBATCH --ntasks=4\n")
	assert.Contains(t, script, "#SBATCH --cpus-per-task=8\n")
	assert.Contains(t, script, "#SBATCH --mem=16G\n")
	assert.Contains(t, script, "#SBATCH --time=01:00:00\n")
	assert.Contains(t, script, "#SBATCH --partition=gpu\n")
	assert.Contains(t, script, "#SBATCH --output=/work/result/job.stdout\n")
	assert.Contains(t, script, "#SBATCH --error=/work/result/job.stderr\n")
	assert.Contains(t, script, "module load singularity\n")
	assert.Contains(t, script, "source /etc/profile\n")
	assert.Contains(t, script, "srun --unbuffered echo hello\n")

	// Env exports are sorted for a deterministic script.
	assert.Less(t,
		strings.Index(script, "export A_VAR='one'"),
		strings.Index(script, "export B_VAR='two'"))
}

func TestScript_OmitsZeroDirectives(t *testing.T) {
	script := Script(ScriptSpec{JobName: "j", Commands: []string{"true"}})

	assert.NotContains(t, script, "--nodes")
	assert.NotContains(t, script, "--mem")
	assert.NotContains(t, script, "--gpus")
	assert.NotContains(t, script, "--partition")
}

func TestSingularityExec_SortedBinds(t *testing.T) {
	cmd := SingularityExec("/images/model.sif", map[string]string{
		"/scratch": "/scratch",
		"/data":    "/mnt/data",
	}, "python run.py")

	assert.Equal(t,
		"singularity exec --bind /data:/mnt/data,/scratch:/scratch /images/model.sif bash -c 'python run.py'",
		cmd)
}

func TestSingularityExec_QuotesCommand(t *testing.T) {
	cmd := SingularityExec("img.sif", nil, "echo 'it works'")
	assert.Contains(t, cmd, `bash -c 'echo '\''it works'\'''`)
}
