package ports

import (
	"context"
	"io"

	"github.com/melih/lighthouse-systest/internal/core/domain"
)

// ContainerRuntime defines the container operations a test rule needs.
// This interface allows us to switch between the Docker SDK and
// testcontainers without changing the rule.
type ContainerRuntime interface {
	// CreateNetwork creates an isolated network. name is a hint that a
	// runtime may replace; callers attach containers by the returned Name.
	CreateNetwork(ctx context.Context, name string) (domain.Network, error)
	RemoveNetwork(ctx context.Context, id string) error

	// StartContainer creates and starts a container and blocks until it is
	// ready or spec.StartupTimeout elapses. A timeout is reported as
	// *domain.StartupTimeoutError.
	StartContainer(ctx context.Context, spec domain.ContainerSpec) (domain.Container, error)
	// MappedPort returns the host port bound to the container port.
	MappedPort(ctx context.Context, id string, port domain.Port) (int, error)
	StopContainer(ctx context.Context, id string) error
	GetContainerLogs(ctx context.Context, id string) (io.ReadCloser, error)
}
