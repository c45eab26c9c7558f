package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/go-resty/resty/v2"
	"github.com/sethvargo/go-retry"

	"github.com/melih/lighthouse-systest/internal/core/domain"
	"github.com/melih/lighthouse-systest/internal/logger"
)

const (
	// readyPollInterval is how often a starting container is checked.
	readyPollInterval = 500 * time.Millisecond
	// readyRequestTimeout bounds a single readiness request.
	readyRequestTimeout = 2 * time.Second
	// failureLogTail is how many log lines GetContainerLogs returns.
	failureLogTail = "100"
)

// Adapter implements ports.ContainerRuntime using Docker SDK
type Adapter struct {
	cli          *client.Client
	pollInterval time.Duration
}

// NewAdapter creates a new Docker adapter instance. opts are applied after
// the environment defaults, so they can point the client elsewhere.
func NewAdapter(opts ...client.Opt) (*Adapter, error) {
	opts = append([]client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}, opts...)
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Adapter{cli: cli, pollInterval: readyPollInterval}, nil
}

// Close releases the docker client.
func (a *Adapter) Close() error {
	return a.cli.Close()
}

// CreateNetwork creates a bridge network dedicated to one test run
func (a *Adapter) CreateNetwork(ctx context.Context, name string) (domain.Network, error) {
	resp, err := a.cli.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
		Labels: map[string]string{"org.lighthouse.systest": "true"},
	})
	if err != nil {
		return domain.Network{}, fmt.Errorf("failed to create network: %w", err)
	}
	return domain.Network{ID: resp.ID, Name: name}, nil
}

// RemoveNetwork removes a network created by CreateNetwork
func (a *Adapter) RemoveNetwork(ctx context.Context, id string) error {
	if err := a.cli.NetworkRemove(ctx, id); err != nil {
		return fmt.Errorf("failed to remove network: %w", err)
	}
	return nil
}

// StartContainer creates and starts a container from spec and waits until
// its readiness port answers HTTP.
func (a *Adapter) StartContainer(ctx context.Context, spec domain.ContainerSpec) (domain.Container, error) {
	// 1. Image Pull (Ensure image exists)
	if err := a.ensureImage(ctx, spec.Image, spec.PullPolicy); err != nil {
		return domain.Container{}, err
	}

	// 2. Create Container
	cfg, hostCfg, netCfg := containerConfig(spec)
	resp, err := a.cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, "")
	if err != nil {
		return domain.Container{}, fmt.Errorf("failed to create container: %w", err)
	}
	c := domain.Container{ID: resp.ID, Image: spec.Image, State: "created"}

	// 3. Copy artifacts before the process starts
	if spec.ArtifactDir != "" {
		if err := a.copyArtifacts(ctx, resp.ID, spec.ArtifactDir, spec.ArtifactTarget); err != nil {
			return c, err
		}
	}

	// 4. Start Container
	if err := a.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return c, fmt.Errorf("failed to start container: %w", err)
	}
	c.State = "running"

	if spec.Logs != nil {
		a.followLogs(resp.ID, spec.Logs)
	}

	// 5. Wait for readiness
	if err := a.waitReady(ctx, resp.ID, spec); err != nil {
		return c, err
	}

	info, err := a.cli.ContainerInspect(ctx, resp.ID)
	if err == nil && len(info.Name) > 1 {
		c.Name = info.Name[1:]
	}
	return c, nil
}

func (a *Adapter) ensureImage(ctx context.Context, ref string, policy domain.PullPolicy) error {
	switch policy {
	case domain.PullNever:
		return nil
	case domain.PullMissing:
		_, err := a.cli.ImageInspect(ctx, ref)
		if err == nil {
			logger.Debug().Str("image", ref).Msg("image present locally, not pulling")
			return nil
		}
		if !client.IsErrNotFound(err) {
			return fmt.Errorf("failed to inspect image: %w", err)
		}
	}

	logger.Info().Str("image", ref).Msg("pulling image")
	reader, err := a.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	// The pull only finishes once the stream is drained, and failures after
	// the first byte arrive inside it.
	out := logger.NewLineWriter("PULL")
	defer out.Flush()
	if err := jsonmessage.DisplayJSONMessagesStream(reader, out, 0, false, nil); err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	return nil
}

func containerConfig(spec domain.ContainerSpec) (*container.Config, *container.HostConfig, *network.NetworkingConfig) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range spec.ExposedPorts {
		port := nat.Port(p.Proto())
		exposed[port] = struct{}{}
		// Empty HostPort lets the daemon pick an ephemeral port.
		hostPort := ""
		if fixed, ok := spec.FixedHostPorts[p]; ok {
			hostPort = strconv.Itoa(fixed)
		}
		bindings[port] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: hostPort}}
	}

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	cfg := &container.Config{
		Image:        spec.Image,
		Cmd:          spec.Cmd,
		Env:          env,
		ExposedPorts: exposed,
		Labels:       map[string]string{"org.lighthouse.systest": "true"},
	}
	hostCfg := &container.HostConfig{PortBindings: bindings}

	var netCfg *network.NetworkingConfig
	if spec.Network != "" {
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				spec.Network: {Aliases: spec.NetworkAliases},
			},
		}
	}
	return cfg, hostCfg, netCfg
}

func (a *Adapter) copyArtifacts(ctx context.Context, id, dir, target string) error {
	if target == "" {
		target = "/app"
	}
	// Rebase the directory onto target so its contents land at target
	// rather than under target/<basename>.
	tar, err := archive.TarResourceRebase(dir, target[1:])
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", dir, err)
	}
	defer tar.Close()

	if err := a.cli.CopyToContainer(ctx, id, "/", tar, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("failed to copy %s to container: %w", dir, err)
	}
	return nil
}

// followLogs forwards the container output to w until the container exits.
func (a *Adapter) followLogs(id string, w io.Writer) {
	go func() {
		logs, err := a.cli.ContainerLogs(context.Background(), id, container.LogsOptions{
			ShowStdout: true,
			ShowStderr: true,
			Follow:     true,
		})
		if err != nil {
			logger.Warn().Err(err).Str("container", id).Msg("failed to follow container logs")
			return
		}
		defer logs.Close()
		// Containers run without a TTY, so the stream is multiplexed.
		if _, err := stdcopy.StdCopy(w, w, logs); err != nil && !errors.Is(err, io.EOF) {
			logger.Debug().Err(err).Str("container", id).Msg("container log stream ended")
		}
	}()
}

// waitReady polls until the ready port returns a complete HTTP response.
// A bare TCP connect is not enough: the docker userland proxy accepts
// connections on the host port before anything listens in the container.
func (a *Adapter) waitReady(ctx context.Context, id string, spec domain.ContainerSpec) error {
	port := spec.WaitPort()
	if port == 0 {
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, spec.StartupTimeout)
	defer cancel()

	httpClient := resty.New().SetTimeout(readyRequestTimeout)
	var lastErr error
	err := retry.Do(waitCtx, retry.NewConstant(a.pollInterval), func(ctx context.Context) error {
		info, err := a.cli.ContainerInspect(ctx, id)
		if err != nil {
			lastErr = err
			return retry.RetryableError(err)
		}
		if info.State != nil && !info.State.Running && info.State.Status != "created" {
			// The process is gone; waiting longer cannot help.
			return fmt.Errorf("container exited with code %d", info.State.ExitCode)
		}

		hostPort, err := mappedPort(info, port)
		if err != nil {
			lastErr = err
			return retry.RetryableError(err)
		}
		url := fmt.Sprintf("http://localhost:%d%s", hostPort, spec.WaitPath())
		resp, err := httpClient.R().SetContext(ctx).Get(url)
		if err != nil {
			lastErr = err
			return retry.RetryableError(err)
		}
		logger.Debug().Str("url", url).Int("status", resp.StatusCode()).Msg("container answered")
		return nil
	})

	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		// Cancelled from outside, not a startup timeout.
		return fmt.Errorf("wait for container %s: %w", id, ctx.Err())
	case errors.Is(waitCtx.Err(), context.DeadlineExceeded):
		return &domain.StartupTimeoutError{Container: id, Timeout: spec.StartupTimeout, Err: lastErr}
	default:
		return fmt.Errorf("container %s failed to become ready: %w", id, err)
	}
}

// MappedPort returns the host port docker bound to the container port
func (a *Adapter) MappedPort(ctx context.Context, id string, port domain.Port) (int, error) {
	info, err := a.cli.ContainerInspect(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect container: %w", err)
	}
	return mappedPort(info, port)
}

func mappedPort(info container.InspectResponse, port domain.Port) (int, error) {
	if info.NetworkSettings == nil {
		return 0, errors.New("container has no network settings")
	}
	bindings := info.NetworkSettings.Ports[nat.Port(port.Proto())]
	for _, b := range bindings {
		if b.HostPort != "" {
			return domain.ParsePort(b.HostPort)
		}
	}
	return 0, fmt.Errorf("port %s is not mapped", port.Proto())
}

// StopContainer stops and removes a container
func (a *Adapter) StopContainer(ctx context.Context, id string) error {
	timeout := 10
	if err := a.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	if err := a.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// GetContainerLogs returns the last lines of container output, stdout and
// stderr demultiplexed into one stream.
func (a *Adapter) GetContainerLogs(ctx context.Context, id string) (io.ReadCloser, error) {
	options := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     false,
		Tail:       failureLogTail,
	}
	logs, err := a.cli.ContainerLogs(ctx, id, options)
	if err != nil {
		return nil, fmt.Errorf("failed to read container logs: %w", err)
	}
	defer logs.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, logs); err != nil {
		return nil, fmt.Errorf("failed to read container logs: %w", err)
	}
	return io.NopCloser(&buf), nil
}
