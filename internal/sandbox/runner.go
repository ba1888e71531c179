package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	goarchive "github.com/moby/go-archive"

	"github.com/softcrew/crewd/internal/agent"
	"github.com/softcrew/crewd/internal/config"
)

const labelPrefix = "crewd"

// Runner executes run_command actions in one-shot containers. Every command
// gets a fresh container that is removed when the command finishes, so agent
// commands never touch the host.
type Runner struct {
	docker *client.Client
	cfg    config.SandboxConfig
}

func NewRunner(cfg config.SandboxConfig) (*Runner, error) {
	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Runner{docker: docker, cfg: cfg}, nil
}

// Run executes a shell command in a fresh container and returns the combined
// output. Files are staged into the working directory before the command
// starts.
func (r *Runner) Run(ctx context.Context, command string, files []agent.File) (string, error) {
	timeout := r.cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name := fmt.Sprintf("crewd-sandbox-%s", uuid.New().String()[:8])

	resp, err := r.docker.ContainerCreate(ctx, &dockercontainer.Config{
		Image:      r.cfg.Image,
		Cmd:        []string{"sh", "-c", command},
		WorkingDir: r.cfg.Workdir,
		Labels:     map[string]string{labelPrefix + ".managed": "true", labelPrefix + ".sandbox": "true"},
	}, &dockercontainer.HostConfig{
		NetworkMode: "none",
	}, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("create sandbox container: %w", err)
	}
	defer func() {
		if err := r.docker.ContainerRemove(context.Background(), resp.ID, dockercontainer.RemoveOptions{Force: true}); err != nil {
			slog.Warn("failed to remove sandbox container", "container", resp.ID[:12], "error", err)
		}
	}()

	if len(files) > 0 {
		if err := r.copyFiles(ctx, resp.ID, files); err != nil {
			return "", err
		}
	}

	if err := r.docker.ContainerStart(ctx, resp.ID, dockercontainer.StartOptions{}); err != nil {
		return "", fmt.Errorf("start sandbox container: %w", err)
	}

	waitCh, errCh := r.docker.ContainerWait(ctx, resp.ID, dockercontainer.WaitConditionNotRunning)

	var exitCode int64
	select {
	case status := <-waitCh:
		exitCode = status.StatusCode
	case err := <-errCh:
		return "", fmt.Errorf("wait for sandbox: %w", err)
	case <-ctx.Done():
		return "", fmt.Errorf("sandbox command timed out after %s", timeout)
	}

	output, err := r.collectOutput(resp.ID)
	if err != nil {
		return "", err
	}

	if exitCode != 0 {
		return output, fmt.Errorf("command exited with code %d", exitCode)
	}
	return output, nil
}

// copyFiles stages the payload files into the container's working directory
// via a tar stream.
func (r *Runner) copyFiles(ctx context.Context, containerID string, files []agent.File) error {
	staging, err := os.MkdirTemp("", "crewd-sandbox-*")
	if err != nil {
		return fmt.Errorf("staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	for _, f := range files {
		full := filepath.Join(staging, filepath.Clean("/"+f.Path))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("stage %s: %w", f.Path, err)
		}
		if err := os.WriteFile(full, []byte(f.Content), 0o644); err != nil {
			return fmt.Errorf("stage %s: %w", f.Path, err)
		}
	}

	tar, err := goarchive.TarWithOptions(staging, &goarchive.TarOptions{})
	if err != nil {
		return fmt.Errorf("tar staged files: %w", err)
	}
	defer tar.Close()

	if err := r.docker.CopyToContainer(ctx, containerID, r.cfg.Workdir, tar, dockercontainer.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("copy files to sandbox: %w", err)
	}
	return nil
}

func (r *Runner) collectOutput(containerID string) (string, error) {
	// A short independent context so output survives command timeouts.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logs, err := r.docker.ContainerLogs(ctx, containerID, dockercontainer.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("read sandbox output: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return "", fmt.Errorf("demux sandbox output: %w", err)
	}

	out := stdout.String()
	if stderr.Len() > 0 {
		out = strings.TrimRight(out, "\n") + "\n" + stderr.String()
	}
	return strings.TrimSpace(out), nil
}

// NewRunCommandHandler adapts the runner to the action dispatcher.
func NewRunCommandHandler(r *Runner) agent.Handler {
	return func(ctx context.Context, payload json.RawMessage) (string, error) {
		var req struct {
			Command string       `json:"command"`
			Files   []agent.File `json:"files,omitempty"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return "", fmt.Errorf("run_command payload: %w", err)
		}
		if strings.TrimSpace(req.Command) == "" {
			return "", fmt.Errorf("run_command requires a command")
		}
		return r.Run(ctx, req.Command, req.Files)
	}
}
