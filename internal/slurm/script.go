package slurm

import (
	"fmt"
	"sort"
	"strings"
)

// ScriptSpec describes one batch script to generate.
type ScriptSpec struct {
	JobName string
	Options Options

	// Stdout and Stderr are the remote paths Slurm writes job output to.
	Stdout string
	Stderr string

	// Modules are loaded before anything runs ("module load X").
	Modules []string

	// Env is exported before the command lines, sorted by key for a
	// deterministic script.
	Env map[string]string

	// Preamble lines run verbatim after env export and before Commands.
	Preamble []string

	// Commands are the job's stage lines, executed in order.
	Commands []string
}

// Script renders a complete sbatch script.
func Script(spec ScriptSpec) string {
	var b strings.Builder
	b.WriteString("#!/bin/bash\n")

	directive := func(flag, value string) {
		if value != "" {
			fmt.Fprintf(&b, "#SBATCH --%s=%s\n", flag, value)
		}
	}
	directiveInt := func(flag string, value int) {
		if value > 0 {
			fmt.Fprintf(&b, "#SBATCH --%s=%d\n", flag, value)
		}
	}

	directive("job-name", spec.JobName)
	directiveInt("nodes", spec.Options.NumOfNode)
	directiveInt("ntasks", spec.Options.NumOfTask)
	directiveInt("cpus-per-task", spec.Options.CPUPerTask)
	directive("mem-per-cpu", spec.Options.MemoryPerCPU)
	directive("mem", spec.Options.Memory)
	directiveInt("gpus", spec.Options.GPUs)
	directive("time", spec.Options.Time)
	directive("partition", spec.Options.Partition)
	directive("mail-type", spec.Options.MailType)
	directive("mail-user", spec.Options.MailUser)
	directive("output", spec.Stdout)
	directive("error", spec.Stderr)

	b.WriteString("\n")
	for _, m := range spec.Modules {
		fmt.Fprintf(&b, "module load %s\n", m)
	}

	if len(spec.Env) > 0 {
		keys := make([]string, 0, len(spec.Env))
		for k := range spec.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "export %s=%s\n", k, singleQuote(spec.Env[k]))
		}
	}

	for _, line := range spec.Preamble {
		b.WriteString(line)
		b.WriteString("\n")
	}
	for _, cmd := range spec.Commands {
		b.WriteString(cmd)
		b.WriteString("\n")
	}
	return b.String()
}

// SingularityExec wraps a command line in a Singularity container
// invocation. Binds are rendered sorted by host path.
func SingularityExec(image string, binds map[string]string, cmd string) string {
	var parts []string
	parts = append(parts, "singularity exec")

	if len(binds) > 0 {
		hosts := make([]string, 0, len(binds))
		for h := range binds {
			hosts = append(hosts, h)
		}
		sort.Strings(hosts)
		pairs := make([]string, 0, len(hosts))
		for _, h := range hosts {
			pairs = append(pairs, h+":"+binds[h])
		}
		parts = append(parts, "--bind "+strings.Join(pairs, ","))
	}

	parts = append(parts, image, "bash -c "+singleQuote(cmd))
	return strings.Join(parts, " ")
}

func singleQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
