package builder

import (
	"context"
	"fmt"
	"os"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/go-git/go-git/v5"

	"github.com/melih/lighthouse-systest/internal/logger"
)

// Adapter implements ports.BuilderService with go-git and the Docker SDK.
type Adapter struct {
	cli *client.Client
}

func NewBuilderAdapter() (*Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Adapter{cli: cli}, nil
}

// BuildImage clones a repo and builds a Docker image tagged imageName from
// the Dockerfile at its root.
func (a *Adapter) BuildImage(ctx context.Context, repoURL string, imageName string) (string, error) {
	// 1. Create temporary directory
	tmpDir, err := os.MkdirTemp("", "systest-build-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir) // Clean up after build

	// 2. Clone Repository
	if err := Clone(ctx, repoURL, tmpDir, 1); err != nil { // Shallow clone for speed
		return "", err
	}

	// 3. Create Build Context (Tar)
	tar, err := archive.TarWithOptions(tmpDir, &archive.TarOptions{ExcludePatterns: []string{".git"}})
	if err != nil {
		return "", fmt.Errorf("failed to create build context: %w", err)
	}
	defer tar.Close()

	// 4. Build Docker Image
	logger.Info().Str("image", imageName).Msg("building image")
	resp, err := a.cli.ImageBuild(ctx, tar, types.ImageBuildOptions{
		Tags:       []string{imageName},
		Dockerfile: "Dockerfile",
		Remove:     true, // Remove intermediate containers
	})
	if err != nil {
		return "", fmt.Errorf("failed to build image: %w", err)
	}
	defer resp.Body.Close()

	// The build only finishes once the stream is drained; step errors arrive
	// inside it rather than from ImageBuild.
	out := logger.NewLineWriter("BUILD")
	defer out.Flush()
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, out, 0, false, nil); err != nil {
		return "", fmt.Errorf("failed to build image: %w", err)
	}

	return imageName, nil
}

// Clone clones repoURL into dir. A depth of 0 fetches the full history.
func Clone(ctx context.Context, repoURL, dir string, depth int) error {
	logger.Info().Str("repo", repoURL).Str("dir", dir).Msg("cloning repository")
	progress := logger.NewLineWriter("GIT")
	defer progress.Flush()

	_, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:      repoURL,
		Progress: progress,
		Depth:    depth,
	})
	if err != nil {
		return fmt.Errorf("failed to clone repo: %w", err)
	}
	return nil
}
