package domain

import (
	"fmt"
	"io"
	"time"
)

// Port is a container-internal TCP port.
type Port int

// Proto returns the port in the "<port>/tcp" form used by container runtimes.
func (p Port) Proto() string {
	return fmt.Sprintf("%d/tcp", int(p))
}

// ContainerSpec describes one application container to run.
type ContainerSpec struct {
	Image          string
	Network        string
	NetworkAliases []string
	ExposedPorts   []Port
	// ReadyPort must answer an HTTP request on ReadyPath before the
	// container counts as started. Any complete response will do. Defaults
	// to the first exposed port and "/".
	ReadyPort      Port
	ReadyPath      string
	StartupTimeout time.Duration
	// FixedHostPorts pins container ports to host ports. Ports not listed
	// get an ephemeral host port.
	FixedHostPorts map[Port]int
	PullPolicy     PullPolicy
	Env            map[string]string
	// ArtifactDir is copied into the container at ArtifactTarget before start.
	ArtifactDir    string
	ArtifactTarget string
	Cmd            []string
	// Logs receives the combined stdout/stderr of the container.
	Logs io.Writer
}

// WaitPort returns the port used for the readiness check.
func (s ContainerSpec) WaitPort() Port {
	if s.ReadyPort != 0 {
		return s.ReadyPort
	}
	if len(s.ExposedPorts) > 0 {
		return s.ExposedPorts[0]
	}
	return 0
}

// PullPolicy decides when a runtime pulls the image before creating the
// container.
type PullPolicy string

const (
	// PullMissing pulls only when the image is not present locally.
	PullMissing PullPolicy = ""
	PullAlways  PullPolicy = "always"
	// PullNever is for images built locally; they are never in a registry.
	PullNever PullPolicy = "never"
)

// WaitPath returns the path requested by the readiness check.
func (s ContainerSpec) WaitPath() string {
	if s.ReadyPath == "" {
		return "/"
	}
	return s.ReadyPath
}

// Container represents a started container (Docker, testcontainers, etc.)
type Container struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image"`
	State string `json:"state"` // running, exited, etc.
}

// Network is an isolated container network owned by one test run.
type Network struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
