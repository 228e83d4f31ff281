package worker

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/sirupsen/logrus"
)

// RunSpec describes one benchmark container invocation.
type RunSpec struct {
	Image   string
	Command []string
	Env     map[string]string

	// InstallVolume is mounted at InstallTarget and holds the unpacked
	// build under test.
	InstallVolume string
	InstallTarget string

	// SeccompProfile is the raw JSON profile applied to the container.
	SeccompProfile []byte

	CPUSet string
}

// RunResult carries the container's exit code and captured output.
type RunResult struct {
	ExitCode int64
	Stdout   []byte
	Stderr   []byte
}

// ContainerRunner executes benchmark containers. It is an interface so
// the job processor can be tested without a docker daemon.
type ContainerRunner interface {
	// RunBenchmark runs one benchmark container to completion and
	// collects its output. The container is always removed.
	RunBenchmark(ctx context.Context, spec *RunSpec) (*RunResult, error)

	// UnpackBuild extracts the archive at buildPath into volume using a
	// throwaway container. The volume's contents are deleted first.
	UnpackBuild(ctx context.Context, buildPath, volume string, stripComponents, timeoutSecs int) error
}

// Compile-time interface check.
var _ ContainerRunner = (*dockerRunner)(nil)

const (
	// unpackImage runs the tar extraction.
	unpackImage = "ubuntu:22.04"

	// tmpfsPath is mounted into benchmark containers as scratch space.
	tmpfsPath = "/mnt/data/tmpfs"
)

type dockerRunner struct {
	log    logrus.FieldLogger
	client *client.Client
}

// NewDockerRunner creates a ContainerRunner backed by the local docker
// daemon.
func NewDockerRunner(log logrus.FieldLogger) (ContainerRunner, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}

	return &dockerRunner{
		log:    log.WithField("component", "container-runner"),
		client: cli,
	}, nil
}

func (d *dockerRunner) RunBenchmark(ctx context.Context, spec *RunSpec) (*RunResult, error) {
	env := make([]string, 0, len(spec.Env)+1)
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	env = append(env, "TMPFS_PATH="+tmpfsPath)

	hostCfg := &container.HostConfig{
		CapAdd: []string{"SYS_NICE"},
		Tmpfs:  map[string]string{tmpfsPath: ""},
		Mounts: []mount.Mount{{
			Type:   mount.TypeVolume,
			Source: spec.InstallVolume,
			Target: spec.InstallTarget,
		}},
		NetworkMode: "none",
	}

	if len(spec.SeccompProfile) > 0 {
		hostCfg.SecurityOpt = []string{"seccomp=" + string(spec.SeccompProfile)}
	}

	if spec.CPUSet != "" {
		hostCfg.Resources.CpusetCpus = spec.CPUSet
	}

	created, err := d.client.ContainerCreate(ctx, &container.Config{
		Image: spec.Image,
		Cmd:   spec.Command,
		Env:   env,
	}, hostCfg, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}

	defer func() {
		if err := d.client.ContainerRemove(context.Background(), created.ID,
			container.RemoveOptions{Force: true}); err != nil {
			d.log.WithError(err).
				WithField("container", created.ID).
				Warn("Failed to remove container")
		}
	}()

	if err := d.client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("starting container: %w", err)
	}

	statusCh, errCh := d.client.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)

	var exitCode int64

	select {
	case err := <-errCh:
		return nil, fmt.Errorf("waiting for container: %w", err)
	case status := <-statusCh:
		exitCode = status.StatusCode
	}

	stdout, stderr, err := d.containerLogs(ctx, created.ID)
	if err != nil {
		return nil, err
	}

	result := &RunResult{
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
	}

	d.log.WithField("exit_code", result.ExitCode).
		Debug("Benchmark container finished")

	return result, nil
}

func (d *dockerRunner) UnpackBuild(ctx context.Context, buildPath, volume string, stripComponents, timeoutSecs int) error {
	if volume == "" {
		return fmt.Errorf("no install volume given")
	}

	// Expected: <spool>/<job-id>/build.tgz; the job directory is bind
	// mounted read-only, so the filename inside the container is
	// job-id/build.tgz.
	spoolDir := filepath.Dir(filepath.Dir(buildPath))
	buildFilename := filepath.Join(
		filepath.Base(filepath.Dir(buildPath)),
		filepath.Base(buildPath),
	)

	const (
		targetDir = "/target"
		sourceDir = "/source"
	)

	command := strings.Join([]string{
		fmt.Sprintf("rm -rf %s/{*,.*};", targetDir),
		fmt.Sprintf("timeout --signal=SIGKILL %d", timeoutSecs),
		fmt.Sprintf("tar -xzf %q", buildFilename),
		fmt.Sprintf("--strip-components %d", stripComponents),
		fmt.Sprintf("-C %s", targetDir),
	}, " ")

	created, err := d.client.ContainerCreate(ctx, &container.Config{
		Image:      unpackImage,
		Cmd:        []string{"bash", "-x", "-c", command},
		WorkingDir: sourceDir,
	}, &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeVolume,
				Source: volume,
				Target: targetDir,
			},
			{
				Type:     mount.TypeBind,
				Source:   spoolDir,
				Target:   sourceDir,
				ReadOnly: true,
			},
		},
		NetworkMode: "none",
		SecurityOpt: []string{"no-new-privileges"},
	}, nil, nil, "")
	if err != nil {
		return fmt.Errorf("creating unpack container: %w", err)
	}

	defer func() {
		if err := d.client.ContainerRemove(context.Background(), created.ID,
			container.RemoveOptions{Force: true}); err != nil {
			d.log.WithError(err).
				WithField("container", created.ID).
				Warn("Failed to remove unpack container")
		}
	}()

	if err := d.client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("starting unpack container: %w", err)
	}

	statusCh, errCh := d.client.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)

	select {
	case err := <-errCh:
		return fmt.Errorf("waiting for unpack container: %w", err)
	case status := <-statusCh:
		if status.StatusCode != 0 {
			_, stderr, logErr := d.containerLogs(ctx, created.ID)
			if logErr != nil {
				return fmt.Errorf("unpack failed with exit code %d", status.StatusCode)
			}

			return fmt.Errorf("unpack failed with exit code %d: %s",
				status.StatusCode, bytes.TrimSpace(stderr))
		}
	}

	return nil
}

// containerLogs collects a finished container's demultiplexed output.
func (d *dockerRunner) containerLogs(ctx context.Context, containerID string) (stdout, stderr []byte, err error) {
	logs, err := d.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("reading container logs: %w", err)
	}
	defer logs.Close()

	var outBuf, errBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&outBuf, &errBuf, logs); err != nil {
		return nil, nil, fmt.Errorf("demuxing container logs: %w", err)
	}

	return outBuf.Bytes(), errBuf.Bytes(), nil
}
