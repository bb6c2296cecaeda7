// Package runner adapts pkg/micro_runner's client/protocol codec — a
// newline-delimited JSON-over-stdio wire format that already works and
// needs no protobuf/grpc stand-in — to local command execution for the
// bundled reference plugin's build/runTask handlers (spec §4.6/§4.8).
package runner

import (
	"context"
	"io"
	"os"
	"os/exec"

	"github.com/openfroyo/garden/pkg/gardenerr"
)

// LocalTransport runs the micro-runner binary as a child process on the
// same host, implementing client.Transport without any network hop —
// the common case for a developer running "garden build" locally.
type LocalTransport struct {
	cmd *exec.Cmd
}

// Upload is a no-op locally: the runner binary already lives at
// localPath, so remotePath is just an alias for it.
func (t *LocalTransport) Upload(ctx context.Context, localPath, remotePath string) error {
	if _, err := os.Stat(localPath); err != nil {
		return gardenerr.Wrap(gardenerr.KindRuntime, "micro-runner binary not found", err).WithEntity(localPath)
	}
	return nil
}

// Execute starts remotePath as a child process and returns its stdin/stdout
// pipes for the client's framed codec to speak over.
func (t *LocalTransport) Execute(ctx context.Context, remotePath string) (io.WriteCloser, io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, remotePath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, gardenerr.Wrap(gardenerr.KindRuntime, "failed to open runner stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, gardenerr.Wrap(gardenerr.KindRuntime, "failed to open runner stdout", err)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, nil, gardenerr.Wrap(gardenerr.KindRuntime, "failed to start micro-runner", err).WithEntity(remotePath)
	}
	t.cmd = cmd
	return stdin, stdout, nil
}

// Cleanup waits for the local runner process to exit.
func (t *LocalTransport) Cleanup(ctx context.Context, remotePath string) error {
	if t.cmd == nil || t.cmd.Process == nil {
		return nil
	}
	if err := t.cmd.Wait(); err != nil {
		return gardenerr.Wrap(gardenerr.KindRuntime, "micro-runner exited with error", err)
	}
	return nil
}
