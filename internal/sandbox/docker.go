package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"apex-build/internal/broker"
	"apex-build/internal/logging"
	"apex-build/internal/metrics"
)

const sandboxMountPath = "/sandbox"
const defaultSandboxImage = "alpine:3.19"

// dockerSandbox runs the produced binary inside a detached, heavily
// constrained container, following the resource-limit protocol from
// §4.2: CPU share ~128/1024, CPU quota ~25ms/100ms, max open files <=20,
// 3s CPU-time ulimit, 128MiB RSS/memory ulimit, no swap, no network.
type dockerSandbox struct {
	cli   *client.Client
	image string
}

// NewDockerSandbox connects to the Docker daemon using the standard
// environment-derived configuration (DOCKER_HOST, DOCKER_TLS_VERIFY, ...)
// with API version negotiation, exactly as the teacher's DockerExecutor
// does in internal/sandbox/v2/executor.go.
func NewDockerSandbox() Sandbox {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		logging.L().Sugar().Errorw("sandbox: failed to create docker client", "err", err)
		return &passthroughSandbox{}
	}
	return &dockerSandbox{cli: cli, image: defaultSandboxImage}
}

func (s *dockerSandbox) Mode() Mode { return ModeContainer }

func (s *dockerSandbox) Execute(ctx context.Context, binaryDir, binaryName string, opts Options) (result *broker.ExecResult, err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.Get().RecordSandboxExecution("docker", outcome, time.Since(start))
	}()

	containerName := "sandbox-" + uuid.NewString()

	hostCfg := &container.HostConfig{
		Binds:          nil,
		ReadonlyRootfs: true,
		NetworkMode:    "none",
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		Mounts: []mount.Mount{
			{
				Type:     mount.TypeBind,
				Source:   binaryDir,
				Target:   sandboxMountPath,
				ReadOnly: true,
			},
		},
		Tmpfs: map[string]string{"/tmp": "size=16m"},
		Resources: container.Resources{
			Memory:     128 * 1024 * 1024,
			MemorySwap: 128 * 1024 * 1024, // equal to Memory disables swap
			CPUShares:  128,
			CPUPeriod:  100000,
			CPUQuota:   25000,
			PidsLimit:  int64Ptr(20),
			Ulimits: []*container.Ulimit{
				{Name: "cpu", Soft: 3, Hard: 3},
				{Name: "rss", Soft: 128 * 1024 * 1024, Hard: 128 * 1024 * 1024},
				{Name: "nofile", Soft: 20, Hard: 20},
			},
		},
	}

	cmd := append([]string{sandboxMountPath + "/" + binaryName}, opts.Args...)

	resp, err := s.cli.ContainerCreate(ctx, &container.Config{
		Image:        s.image,
		Cmd:          cmd,
		Tty:          false,
		AttachStdout: true,
		AttachStderr: true,
		NetworkDisabled: true,
	}, hostCfg, nil, nil, containerName)
	if err != nil {
		return nil, fmt.Errorf("sandbox: container create: %w", err)
	}

	// Scoped cleanup — every exit path below removes the container,
	// whether the start/wait succeeded or failed.
	defer func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if rmErr := s.cli.ContainerRemove(removeCtx, resp.ID, container.RemoveOptions{Force: true}); rmErr != nil {
			logging.L().Sugar().Warnw("sandbox: container remove failed", "id", resp.ID, "err", rmErr)
		}
	}()

	if err := s.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("sandbox: container start: %w", err)
	}

	waitCtx := ctx
	var cancel context.CancelFunc
	if opts.TimeoutMs > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	statusCh, errCh := s.cli.ContainerWait(waitCtx, resp.ID, container.WaitConditionNotRunning)

	var exitCode int
	killed := false
	select {
	case err := <-errCh:
		if err != nil {
			if waitCtx.Err() != nil {
				killed = true
				if killErr := s.cli.ContainerKill(context.Background(), resp.ID, "SIGKILL"); killErr != nil {
					logging.L().Sugar().Warnw("sandbox: container kill failed", "id", resp.ID, "err", killErr)
				}
			} else {
				return nil, fmt.Errorf("sandbox: container wait: %w", err)
			}
		}
	case st := <-statusCh:
		exitCode = int(st.StatusCode)
	}

	stdout, stderr, logErr := s.collectLogs(resp.ID)
	if logErr != nil {
		logging.L().Sugar().Warnw("sandbox: log collection failed", "id", resp.ID, "err", logErr)
	}

	if killed {
		stdout += fmt.Sprintf("\n### Killed after %dms", opts.TimeoutMs)
	}

	status := exitCode
	res := &broker.ExecResult{
		Stdout: linesFromText(stdout),
		Stderr: linesFromText(stderr),
		Status: &status,
	}
	if killed {
		res.Status = nil
		sig := "KILLED"
		res.Signal = &sig
	}
	return res, nil
}

func (s *dockerSandbox) collectLogs(containerID string) (stdout, stderr string, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reader, err := s.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", err
	}
	defer reader.Close()

	var outBuf, errBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&outBuf, &errBuf, reader); err != nil && err != io.EOF {
		return outBuf.String(), errBuf.String(), err
	}
	return outBuf.String(), errBuf.String(), nil
}

func int64Ptr(v int64) *int64 { return &v }
