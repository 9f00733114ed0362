package maintainer

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/hpcgate/hpcgate/internal/db"
	"github.com/hpcgate/hpcgate/internal/manifest"
	"github.com/hpcgate/hpcgate/internal/slurm"
	"github.com/hpcgate/hpcgate/internal/ssh"
	"github.com/hpcgate/hpcgate/internal/staging"
)

// community runs jobs whose executable folder is a contributed model: a
// tree carrying a manifest.json that names its container and stages. The
// job executes inside Singularity on the cluster's shared account.
type community struct {
	*base
}

func newCommunity(deps Deps, job *db.Job) (Maintainer, error) {
	b, err := newBase(deps, job)
	if err != nil {
		return nil, err
	}
	return &community{base: b}, nil
}

func (c *community) Init(ctx context.Context, sess ssh.Session, job *db.Job) error {
	if c.isInit {
		return nil
	}

	if err := c.stageWorkspace(ctx, sess, job); err != nil {
		return err
	}

	execPath := path.Join(c.workspace(job), string(staging.KindExecutable))
	m, err := c.readManifest(ctx, sess, execPath)
	if err != nil {
		return err
	}

	container, ok := c.deps.Containers[m.Container]
	if !ok {
		return fmt.Errorf("maintainer: manifest names unknown container %q", m.Container)
	}
	c.defaultResultFile = m.DefaultResultPath

	opts, err := c.validatedOptions(job)
	if err != nil {
		return err
	}
	env, err := c.scriptEnv(job)
	if err != nil {
		return err
	}
	params, err := decodeMap(job.Param)
	if err != nil {
		return err
	}

	workspace := c.workspace(job)
	resultPath := c.resultPath(job)
	env["JOB_ID"] = job.ID.String()
	env["EXECUTABLE_FOLDER"] = execPath
	env["RESULT_FOLDER"] = resultPath
	if job.RemoteDataFolderID != nil {
		env["DATA_FOLDER"] = path.Join(workspace, string(staging.KindData))
	}
	for k, v := range params {
		env["PARAM_"+strings.ToUpper(k)] = v
	}

	binds := map[string]string{workspace: workspace}
	for host, inside := range c.cluster.Mount {
		binds[host] = inside
	}

	var preamble []string
	if kernelName := params["kernel"]; kernelName != "" {
		kernel, ok := c.deps.Kernels[kernelName]
		if !ok {
			return fmt.Errorf("maintainer: unknown kernel %q", kernelName)
		}
		preamble = kernel.EnvInit
	}

	wrap := func(stage string) string {
		return slurm.SingularityExec(container.HpcPath, binds, "cd '"+execPath+"' && "+stage)
	}

	var commands []string
	if s := strings.TrimSpace(m.PreProcessingStage); s != "" {
		commands = append(commands, wrap(s))
	}
	// The execution stage runs under srun so it spans the allocation; pre
	// and post processing stay on the batch node.
	commands = append(commands, "srun --unbuffered "+wrap(m.ExecutionStage))
	if s := strings.TrimSpace(m.PostProcessingStage); s != "" {
		commands = append(commands, wrap(s))
	}

	script := slurm.Script(slurm.ScriptSpec{
		JobName:  "hpcgate_" + job.ID.String(),
		Options:  opts,
		Stdout:   path.Join(resultPath, stdoutName),
		Stderr:   path.Join(resultPath, stderrName),
		Modules:  []string{"singularity"},
		Env:      env,
		Preamble: preamble,
		Commands: commands,
	})

	if err := c.uploadScript(ctx, sess, job, script); err != nil {
		return err
	}
	return c.submit(ctx, sess, job, opts)
}

func (c *community) readManifest(ctx context.Context, sess ssh.Session, execPath string) (*manifest.Manifest, error) {
	target := path.Join(execPath, manifest.FileName)
	res, err := sess.Exec(ctx, fmt.Sprintf("cat '%s'", target))
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("maintainer: executable folder has no %s", manifest.FileName)
	}
	return manifest.Parse([]byte(res.Stdout))
}
