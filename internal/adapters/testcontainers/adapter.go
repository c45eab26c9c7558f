// Package testcontainers implements the container runtime port on top of
// testcontainers-go, which also reaps leftovers through its Ryuk sidecar.
package testcontainers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/docker/go-connections/nat"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/network"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/melih/lighthouse-systest/internal/core/domain"
)

// Adapter implements ports.ContainerRuntime using testcontainers-go.
// testcontainers hands out its own objects, so the adapter keeps them by id.
type Adapter struct {
	mu         sync.Mutex
	networks   map[string]*tc.DockerNetwork
	containers map[string]tc.Container
}

// NewAdapter creates an empty adapter.
func NewAdapter() *Adapter {
	return &Adapter{
		networks:   make(map[string]*tc.DockerNetwork),
		containers: make(map[string]tc.Container),
	}
}

// CreateNetwork creates a new network. testcontainers picks the name, so
// the requested one is only used as a label and callers must use the
// returned Name.
func (a *Adapter) CreateNetwork(ctx context.Context, name string) (domain.Network, error) {
	nw, err := network.New(ctx, network.WithLabels(map[string]string{"org.lighthouse.systest": name}))
	if err != nil {
		return domain.Network{}, fmt.Errorf("failed to create network: %w", err)
	}

	a.mu.Lock()
	a.networks[nw.ID] = nw
	a.mu.Unlock()
	return domain.Network{ID: nw.ID, Name: nw.Name}, nil
}

// RemoveNetwork removes a network created by CreateNetwork.
func (a *Adapter) RemoveNetwork(ctx context.Context, id string) error {
	a.mu.Lock()
	nw, ok := a.networks[id]
	delete(a.networks, id)
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown network %s", id)
	}
	if err := nw.Remove(ctx); err != nil {
		return fmt.Errorf("failed to remove network: %w", err)
	}
	return nil
}

// StartContainer starts a container and waits for its readiness port to
// answer HTTP, bounded by spec.StartupTimeout.
func (a *Adapter) StartContainer(ctx context.Context, spec domain.ContainerSpec) (domain.Container, error) {
	req, err := request(spec)
	if err != nil {
		return domain.Container{}, err
	}

	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	// A container that failed its wait strategy is still returned, keep it
	// so StopContainer can remove it.
	var out domain.Container
	if !isNil(c) {
		out = domain.Container{ID: c.GetContainerID(), Image: spec.Image, State: "running"}
		a.mu.Lock()
		a.containers[out.ID] = c
		a.mu.Unlock()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return out, &domain.StartupTimeoutError{Container: out.ID, Timeout: spec.StartupTimeout, Err: err}
		}
		return out, fmt.Errorf("failed to start container: %w", err)
	}

	if name, err := c.Name(ctx); err == nil && len(name) > 1 {
		out.Name = name[1:]
	}
	return out, nil
}

func isNil(c tc.Container) bool {
	if c == nil {
		return true
	}
	v := reflect.ValueOf(c)
	return v.Kind() == reflect.Ptr && v.IsNil()
}

func request(spec domain.ContainerSpec) (tc.ContainerRequest, error) {
	req := tc.ContainerRequest{
		Image:           spec.Image,
		Env:             spec.Env,
		Cmd:             spec.Cmd,
		AlwaysPullImage: spec.PullPolicy == domain.PullAlways,
	}
	for _, p := range spec.ExposedPorts {
		if host, ok := spec.FixedHostPorts[p]; ok {
			req.ExposedPorts = append(req.ExposedPorts, fmt.Sprintf("%d:%s", host, p.Proto()))
			continue
		}
		req.ExposedPorts = append(req.ExposedPorts, p.Proto())
	}
	if spec.Network != "" {
		req.Networks = []string{spec.Network}
		req.NetworkAliases = map[string][]string{spec.Network: spec.NetworkAliases}
	}
	if port := spec.WaitPort(); port != 0 {
		// Any status will do; the listener must answer, not just accept.
		req.WaitingFor = wait.ForHTTP(spec.WaitPath()).
			WithPort(nat.Port(port.Proto())).
			WithStatusCodeMatcher(func(int) bool { return true }).
			WithStartupTimeout(spec.StartupTimeout)
	}
	if spec.Logs != nil {
		req.LogConsumerCfg = &tc.LogConsumerConfig{
			Consumers: []tc.LogConsumer{&logForwarder{w: spec.Logs}},
		}
	}
	if spec.ArtifactDir != "" {
		files, err := artifactFiles(spec.ArtifactDir, spec.ArtifactTarget)
		if err != nil {
			return req, err
		}
		req.Files = files
	}
	return req, nil
}

// artifactFiles lists every regular file below dir as a copy to the same
// relative path below target.
func artifactFiles(dir, target string) ([]tc.ContainerFile, error) {
	if target == "" {
		target = "/app"
	}
	var files []tc.ContainerFile
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, tc.ContainerFile{
			HostFilePath:      p,
			ContainerFilePath: path.Join(target, filepath.ToSlash(rel)),
			FileMode:          int64(info.Mode().Perm()),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts in %s: %w", dir, err)
	}
	return files, nil
}

type logForwarder struct {
	w io.Writer
}

func (f *logForwarder) Accept(l tc.Log) {
	_, _ = f.w.Write(l.Content)
}

func (a *Adapter) lookup(id string) (tc.Container, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.containers[id]
	if !ok {
		return nil, fmt.Errorf("unknown container %s", id)
	}
	return c, nil
}

// MappedPort returns the host port bound to the container port.
func (a *Adapter) MappedPort(ctx context.Context, id string, port domain.Port) (int, error) {
	c, err := a.lookup(id)
	if err != nil {
		return 0, err
	}
	mapped, err := c.MappedPort(ctx, nat.Port(port.Proto()))
	if err != nil {
		return 0, fmt.Errorf("failed to get mapped port for %s: %w", port.Proto(), err)
	}
	return domain.ParsePort(mapped.Port())
}

// StopContainer terminates the container, removing it and its volumes.
func (a *Adapter) StopContainer(ctx context.Context, id string) error {
	c, err := a.lookup(id)
	if err != nil {
		return err
	}
	if err := c.Terminate(ctx); err != nil {
		return fmt.Errorf("failed to terminate container: %w", err)
	}
	a.mu.Lock()
	delete(a.containers, id)
	a.mu.Unlock()
	return nil
}

// GetContainerLogs returns the container output so far.
func (a *Adapter) GetContainerLogs(ctx context.Context, id string) (io.ReadCloser, error) {
	c, err := a.lookup(id)
	if err != nil {
		return nil, err
	}
	return c.Logs(ctx)
}
