package docker

import (
	"sort"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melih/lighthouse-systest/internal/core/domain"
)

func TestContainerConfig(t *testing.T) {
	spec := domain.ContainerSpec{
		Image:          "eclipse-temurin:21-jre",
		Network:        "systest-abc",
		NetworkAliases: []string{"application", "application-host"},
		ExposedPorts:   []domain.Port{8080, 5005},
		StartupTimeout: 5 * time.Minute,
		Env:            map[string]string{"JAVA_TOOL_OPTIONS": "-Dx=1", "A": "b"},
		Cmd:            []string{"java", "-jar", "/app/app.jar"},
	}

	cfg, hostCfg, netCfg := containerConfig(spec)

	assert.Equal(t, spec.Image, cfg.Image)
	assert.Equal(t, []string(spec.Cmd), []string(cfg.Cmd))

	env := append([]string(nil), cfg.Env...)
	sort.Strings(env)
	assert.Equal(t, []string{"A=b", "JAVA_TOOL_OPTIONS=-Dx=1"}, env)

	require.Len(t, cfg.ExposedPorts, 2)
	assert.Contains(t, cfg.ExposedPorts, nat.Port("8080/tcp"))
	assert.Contains(t, cfg.ExposedPorts, nat.Port("5005/tcp"))

	for _, p := range []nat.Port{"8080/tcp", "5005/tcp"} {
		b := hostCfg.PortBindings[p]
		require.Len(t, b, 1)
		assert.Empty(t, b[0].HostPort, "host port must be left to the daemon")
	}

	require.NotNil(t, netCfg)
	ep := netCfg.EndpointsConfig["systest-abc"]
	require.NotNil(t, ep)
	assert.Equal(t, []string{"application", "application-host"}, ep.Aliases)
}

func TestContainerConfigWithoutNetwork(t *testing.T) {
	_, _, netCfg := containerConfig(domain.ContainerSpec{Image: "alpine"})
	assert.Nil(t, netCfg)
}

func TestContainerConfigFixedHostPort(t *testing.T) {
	spec := domain.ContainerSpec{
		Image:          "alpine",
		ExposedPorts:   []domain.Port{8080, 5005},
		FixedHostPorts: map[domain.Port]int{5005: 5005},
	}

	_, hostCfg, _ := containerConfig(spec)

	require.Len(t, hostCfg.PortBindings["5005/tcp"], 1)
	assert.Equal(t, "5005", hostCfg.PortBindings["5005/tcp"][0].HostPort)
	require.Len(t, hostCfg.PortBindings["8080/tcp"], 1)
	assert.Empty(t, hostCfg.PortBindings["8080/tcp"][0].HostPort)
}
