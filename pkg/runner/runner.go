package runner

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/garden/pkg/gardenerr"
	"github.com/openfroyo/garden/pkg/micro_runner/client"
	"github.com/openfroyo/garden/pkg/micro_runner/protocol"
)

// Runner executes exec commands for a module's build/runTask handlers by
// driving a local micro-runner child process.
type Runner struct {
	binaryPath string
	remotePath string
}

// New creates a Runner that launches binaryPath.
func New(binaryPath string) *Runner {
	return &Runner{binaryPath: binaryPath, remotePath: binaryPath}
}

// ExecResult is the outcome of a single command execution.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Run starts the micro-runner, executes command/args in workDir with env,
// and shuts the runner down.
func (r *Runner) Run(ctx context.Context, command string, args []string, workDir string, env map[string]string, timeout time.Duration) (*ExecResult, error) {
	transport := &LocalTransport{}
	c, err := client.NewClient(&client.Config{
		Transport:      transport,
		RunnerPath:     r.binaryPath,
		RemotePath:     r.remotePath,
		StartupTimeout: 15 * time.Second,
	})
	if err != nil {
		return nil, gardenerr.Wrap(gardenerr.KindRuntime, "failed to create micro-runner client", err)
	}
	if err := c.Start(ctx, &client.Config{
		Transport:      transport,
		RunnerPath:     r.binaryPath,
		RemotePath:     r.remotePath,
		StartupTimeout: 15 * time.Second,
	}); err != nil {
		return nil, gardenerr.Wrap(gardenerr.KindRuntime, "failed to start micro-runner", err)
	}
	defer c.Close(ctx, r.remotePath)

	params, err := json.Marshal(&protocol.ExecParams{
		Command:    command,
		Args:       args,
		WorkDir:    workDir,
		Env:        env,
		CaptureOut: true,
		CaptureErr: true,
	})
	if err != nil {
		return nil, gardenerr.Wrap(gardenerr.KindInternal, "failed to marshal exec params", err)
	}

	secs := int(timeout.Seconds())
	if secs <= 0 {
		secs = 300
	}
	done, err := c.Execute(ctx, &protocol.CommandMessage{
		ID:      uuid.New().String(),
		Type:    protocol.CommandTypeExec,
		Timeout: secs,
		Params:  params,
	})
	if err != nil {
		return nil, gardenerr.Wrap(gardenerr.KindRuntime, "micro-runner command failed", err).
			WithDetail("command", command)
	}

	var result protocol.ExecResult
	if err := json.Unmarshal(done.Result, &result); err != nil {
		return nil, gardenerr.Wrap(gardenerr.KindInternal, "failed to decode micro-runner result", err)
	}
	if result.ExitCode != 0 {
		return nil, gardenerr.New(gardenerr.KindRuntime, "command exited non-zero").
			WithDetail("exit_code", result.ExitCode).
			WithDetail("stderr", result.Stderr).
			WithEntity(command)
	}

	return &ExecResult{
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
		Duration: time.Duration(result.Duration * float64(time.Second)),
	}, nil
}
