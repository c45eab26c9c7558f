package testcontainers

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/melih/lighthouse-systest/internal/core/domain"
)

func TestArtifactFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app-1.0.0.jar"), []byte("jar"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "application.yaml"), []byte("a: b"), 0o600))

	files, err := artifactFiles(dir, "/app")
	require.NoError(t, err)

	var targets []string
	for _, f := range files {
		targets = append(targets, f.ContainerFilePath)
	}
	sort.Strings(targets)
	assert.Equal(t, []string{"/app/app-1.0.0.jar", "/app/config/application.yaml"}, targets)

	for _, f := range files {
		if f.ContainerFilePath == "/app/config/application.yaml" {
			assert.Equal(t, int64(0o600), f.FileMode)
		}
	}
}

func TestArtifactFilesMissingDir(t *testing.T) {
	_, err := artifactFiles(filepath.Join(t.TempDir(), "absent"), "/app")
	require.Error(t, err)
}

func TestRequest(t *testing.T) {
	var logs bytes.Buffer
	spec := domain.ContainerSpec{
		Image:          "eclipse-temurin:21-jre",
		Network:        "net-1",
		NetworkAliases: []string{"application", "application-host"},
		ExposedPorts:   []domain.Port{8080, 5005},
		StartupTimeout: 5 * time.Minute,
		Env:            map[string]string{"JAVA_TOOL_OPTIONS": "-Dx"},
		Cmd:            []string{"java", "-version"},
		Logs:           &logs,
	}

	req, err := request(spec)
	require.NoError(t, err)

	assert.Equal(t, []string{"8080/tcp", "5005/tcp"}, req.ExposedPorts)
	assert.Equal(t, []string{"net-1"}, req.Networks)
	assert.Equal(t, []string{"application", "application-host"}, req.NetworkAliases["net-1"])
	assert.False(t, req.AlwaysPullImage)
	httpWait, ok := req.WaitingFor.(*wait.HTTPStrategy)
	require.True(t, ok, "readiness must be checked over HTTP, got %T", req.WaitingFor)
	assert.Equal(t, nat.Port("8080/tcp"), httpWait.Port)
	assert.Equal(t, "/", httpWait.Path)
	assert.Equal(t, 5*time.Minute, *httpWait.Timeout())
	require.NotNil(t, req.LogConsumerCfg)
	require.Len(t, req.LogConsumerCfg.Consumers, 1)

	req.LogConsumerCfg.Consumers[0].Accept(tc.Log{LogType: tc.StdoutLog, Content: []byte("Started\n")})
	assert.Equal(t, "Started\n", logs.String())
}

func TestRequestFixedHostPort(t *testing.T) {
	req, err := request(domain.ContainerSpec{
		Image:          "eclipse-temurin:21-jre",
		ExposedPorts:   []domain.Port{8080, 5005},
		FixedHostPorts: map[domain.Port]int{5005: 5005},
		PullPolicy:     domain.PullAlways,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"8080/tcp", "5005:5005/tcp"}, req.ExposedPorts)
	assert.True(t, req.AlwaysPullImage)
}

func TestUnknownIDs(t *testing.T) {
	a := NewAdapter()
	ctx := context.Background()

	_, err := a.MappedPort(ctx, "nope", 8080)
	assert.Error(t, err)
	assert.Error(t, a.StopContainer(ctx, "nope"))
	assert.Error(t, a.RemoveNetwork(ctx, "nope"))
	_, err = a.GetContainerLogs(ctx, "nope")
	assert.Error(t, err)
}
