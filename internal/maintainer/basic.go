package maintainer

import (
	"context"
	"path"

	"github.com/hpcgate/hpcgate/internal/db"
	"github.com/hpcgate/hpcgate/internal/slurm"
	"github.com/hpcgate/hpcgate/internal/ssh"
	"github.com/hpcgate/hpcgate/internal/staging"
)

// defaultBasicCommand is run when a basic job names no command of its own.
const defaultBasicCommand = "bash ./run.sh"

// basic runs jobs on the user's own account without a container: the staged
// executable folder is expected to be directly runnable. The command comes
// from the job's "command" parameter.
type basic struct {
	*base
}

func newBasic(deps Deps, job *db.Job) (Maintainer, error) {
	b, err := newBase(deps, job)
	if err != nil {
		return nil, err
	}
	return &basic{base: b}, nil
}

func (m *basic) Init(ctx context.Context, sess ssh.Session, job *db.Job) error {
	if m.isInit {
		return nil
	}

	if err := m.stageWorkspace(ctx, sess, job); err != nil {
		return err
	}

	opts, err := m.validatedOptions(job)
	if err != nil {
		return err
	}
	env, err := m.scriptEnv(job)
	if err != nil {
		return err
	}
	params, err := decodeMap(job.Param)
	if err != nil {
		return err
	}

	workspace := m.workspace(job)
	execPath := path.Join(workspace, string(staging.KindExecutable))
	resultPath := m.resultPath(job)
	env["JOB_ID"] = job.ID.String()
	env["EXECUTABLE_FOLDER"] = execPath
	env["RESULT_FOLDER"] = resultPath
	if job.RemoteDataFolderID != nil {
		env["DATA_FOLDER"] = path.Join(workspace, string(staging.KindData))
	}

	command := params["command"]
	if command == "" {
		command = defaultBasicCommand
	}

	script := slurm.Script(slurm.ScriptSpec{
		JobName:  "hpcgate_" + job.ID.String(),
		Options:  opts,
		Stdout:   path.Join(resultPath, stdoutName),
		Stderr:   path.Join(resultPath, stderrName),
		Env:      env,
		Commands: []string{"cd '" + execPath + "'", "srun --unbuffered " + command},
	})

	if err := m.uploadScript(ctx, sess, job, script); err != nil {
		return err
	}
	return m.submit(ctx, sess, job, opts)
}
