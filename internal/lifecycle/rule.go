// Package lifecycle runs the application under test in a container for the
// duration of a test run.
package lifecycle

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/shlex"
	"github.com/google/uuid"

	"github.com/melih/lighthouse-systest/internal/config"
	"github.com/melih/lighthouse-systest/internal/core/domain"
	"github.com/melih/lighthouse-systest/internal/core/ports"
	"github.com/melih/lighthouse-systest/internal/logger"
)

// LogPrefix tags application container output in the log.
const LogPrefix = "APPLICATION"

// logDumpTimeout bounds reading the output of a container that failed to
// start.
const logDumpTimeout = 10 * time.Second

// Rule owns one application container and its network. Use Before to start
// it and After to release everything, whatever Before managed to create.
type Rule struct {
	cfg     *config.Config
	runtime ports.ContainerRuntime
	builder ports.BuilderService
	logs    io.Writer

	networkName string

	mu        sync.Mutex
	state     domain.State
	network   *domain.Network
	container *domain.Container
	endpoint  domain.Endpoint
}

// Option customizes a Rule.
type Option func(*Rule)

// WithBuilder sets the service used when the config asks for an image
// built from source.
func WithBuilder(b ports.BuilderService) Option {
	return func(r *Rule) { r.builder = b }
}

// WithLogSink replaces the default log forwarding of container output.
func WithLogSink(w io.Writer) Option {
	return func(r *Rule) { r.logs = w }
}

// WithNetworkName overrides the generated network name.
func WithNetworkName(name string) Option {
	return func(r *Rule) { r.networkName = name }
}

// NewRule validates cfg and returns a rule in the CREATED state. An invalid
// config yields a *domain.ConfigError and no runtime call is ever made.
func NewRule(cfg *config.Config, runtime ports.ContainerRuntime, opts ...Option) (*Rule, error) {
	if cfg == nil {
		return nil, &domain.ConfigError{Field: "config"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := launchCommand(cfg); err != nil {
		return nil, err
	}
	if runtime == nil {
		return nil, errors.New("lifecycle: nil container runtime")
	}

	r := &Rule{
		cfg:         cfg,
		runtime:     runtime,
		logs:        logger.NewLineWriter(LogPrefix),
		networkName: "systest-" + uuid.NewString(),
		state:       domain.StateCreated,
	}
	for _, opt := range opts {
		opt(r)
	}
	if cfg.Image.Build.Enabled() && r.builder == nil {
		return nil, &domain.ConfigError{Field: "SYSTEST_BUILD_REPO_URL", Reason: "is set but no image builder is available"}
	}
	return r, nil
}

// State returns the current lifecycle state.
func (r *Rule) State() domain.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Endpoint returns the published endpoint. ok is false until the container
// has reported ready.
func (r *Rule) Endpoint() (ep domain.Endpoint, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != domain.StateReady {
		return domain.Endpoint{}, false
	}
	return r.endpoint, true
}

func (r *Rule) setState(next domain.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.state.CanTransition(next) {
		return fmt.Errorf("lifecycle: invalid transition %s -> %s", r.state, next)
	}
	r.state = next
	return nil
}

func (r *Rule) fail(err error) (domain.Endpoint, error) {
	r.mu.Lock()
	if r.state != domain.StateStopped {
		r.state = domain.StateFailed
	}
	r.mu.Unlock()
	logger.Error().Err(err).Msg("application container setup failed")
	return domain.Endpoint{}, err
}

// Before creates the network, starts the application container and blocks
// until it is ready or its startup timeout elapses. Every failure is final;
// nothing is retried. Call After in all cases.
func (r *Rule) Before(ctx context.Context) (domain.Endpoint, error) {
	if state := r.State(); state != domain.StateCreated {
		return domain.Endpoint{}, fmt.Errorf("lifecycle: Before called in state %s", state)
	}

	nw, err := r.runtime.CreateNetwork(ctx, r.networkName)
	if err != nil {
		return r.fail(err)
	}
	r.mu.Lock()
	r.network = &nw
	r.mu.Unlock()
	if err := r.setState(domain.StateNetworkReady); err != nil {
		return r.fail(err)
	}
	// The runtime may not honor the requested name; nw.Name is authoritative.
	logger.Info().Str("network", nw.Name).Str("network_id", nw.ID).Msg("using test docker network")

	image, err := r.resolveImage(ctx)
	if err != nil {
		return r.fail(err)
	}
	spec, err := ApplicationSpec(r.cfg, nw.Name, image, r.logs)
	if err != nil {
		return r.fail(err)
	}
	if r.cfg.Image.Build.Enabled() {
		// The image only exists in the local daemon.
		spec.PullPolicy = domain.PullNever
	}
	if err := r.setState(domain.StateConfigured); err != nil {
		return r.fail(err)
	}

	if err := r.setState(domain.StateStarting); err != nil {
		return r.fail(err)
	}
	logger.Info().Str("image", spec.Image).Strs("cmd", spec.Cmd).Dur("startup_timeout", spec.StartupTimeout).
		Msg("starting application container")

	c, err := r.runtime.StartContainer(ctx, spec)
	if c.ID != "" {
		r.mu.Lock()
		r.container = &c
		r.mu.Unlock()
	}
	if err != nil {
		if c.ID != "" {
			r.dumpLogs(ctx, c.ID)
		}
		var timeout *domain.StartupTimeoutError
		if errors.As(err, &timeout) {
			return r.fail(err)
		}
		return r.fail(fmt.Errorf("failed to start application container: %w", err))
	}

	httpPort, err := r.runtime.MappedPort(ctx, c.ID, domain.Port(r.cfg.HTTPPort))
	if err != nil {
		return r.fail(err)
	}
	debugPort, err := r.runtime.MappedPort(ctx, c.ID, domain.Port(r.cfg.DebugPort))
	if err != nil {
		return r.fail(err)
	}
	logger.Info().Int("http", httpPort).Int("debugger", debugPort).Str("container", c.ID).
		Msg("application mapped ports")

	ep := domain.NewEndpoint(httpPort, debugPort)
	r.mu.Lock()
	r.endpoint = ep
	r.mu.Unlock()
	if err := r.setState(domain.StateReady); err != nil {
		return r.fail(err)
	}
	return ep, nil
}

// dumpLogs writes the last lines of a failed container's output to the
// log before After removes the container.
func (r *Rule) dumpLogs(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logDumpTimeout)
	defer cancel()

	logs, err := r.runtime.GetContainerLogs(ctx, id)
	if err != nil {
		logger.Warn().Err(err).Str("container", id).Msg("failed to read application container logs")
		return
	}
	defer logs.Close()

	log := logger.WithField("container", id)
	scanner := bufio.NewScanner(logs)
	for scanner.Scan() {
		log.Error().Str("source", LogPrefix).Msg(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		log.Warn().Err(err).Msg("failed to read application container logs")
	}
}

func (r *Rule) resolveImage(ctx context.Context) (string, error) {
	if !r.cfg.Image.Build.Enabled() {
		return r.cfg.Image.Name, nil
	}
	tag, err := r.builder.BuildImage(ctx, r.cfg.Image.Build.RepoURL, r.cfg.ImageTag())
	if err != nil {
		return "", fmt.Errorf("failed to build application image: %w", err)
	}
	return tag, nil
}

// After stops the container and removes the network. Errors are logged and
// dropped. It is safe to call more than once and after a failed Before.
func (r *Rule) After(ctx context.Context) {
	r.mu.Lock()
	c, nw := r.container, r.network
	r.container, r.network = nil, nil
	r.state = domain.StateStopped
	r.mu.Unlock()

	if c != nil {
		if err := r.runtime.StopContainer(ctx, c.ID); err != nil {
			logger.Warn().Err(err).Str("container", c.ID).Msg("failed to stop application container")
		} else {
			logger.Info().Str("container", c.ID).Msg("application container stopped")
		}
	}
	if nw != nil {
		if err := r.runtime.RemoveNetwork(ctx, nw.ID); err != nil {
			logger.Warn().Err(err).Str("network", nw.Name).Msg("failed to remove test network")
		}
	}
	if f, ok := r.logs.(interface{ Flush() }); ok {
		f.Flush()
	}
}

// Run brackets fn between Before and After. After always runs.
func Run(ctx context.Context, r *Rule, fn func(context.Context, domain.Endpoint) error) error {
	defer r.After(context.WithoutCancel(ctx))

	ep, err := r.Before(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, ep)
}

// ApplicationSpec builds the container spec for the application image.
func ApplicationSpec(cfg *config.Config, network, image string, logs io.Writer) (domain.ContainerSpec, error) {
	cmd, err := launchCommand(cfg)
	if err != nil {
		return domain.ContainerSpec{}, err
	}

	env := map[string]string{}
	if opts := cfg.ResolvedJavaToolOptions(); opts != "" {
		env["JAVA_TOOL_OPTIONS"] = opts
	}

	var fixed map[domain.Port]int
	if cfg.FixedDebugPort {
		fixed = map[domain.Port]int{domain.Port(cfg.DebugPort): cfg.DebugPort}
	}

	return domain.ContainerSpec{
		Image:          image,
		Network:        network,
		NetworkAliases: cfg.NetworkAliases,
		ExposedPorts:   []domain.Port{domain.Port(cfg.HTTPPort), domain.Port(cfg.DebugPort)},
		ReadyPort:      domain.Port(cfg.HTTPPort),
		StartupTimeout: cfg.StartupTimeout,
		FixedHostPorts: fixed,
		Env:            env,
		ArtifactDir:    cfg.ArtifactDir,
		ArtifactTarget: cfg.ArtifactTarget,
		Cmd:            cmd,
		Logs:           logs,
	}, nil
}

func launchCommand(cfg *config.Config) ([]string, error) {
	cmd, err := shlex.Split(cfg.LaunchCommand())
	if err != nil {
		return nil, &domain.ConfigError{Field: "SYSTEST_COMMAND", Reason: "cannot be parsed: " + err.Error()}
	}
	if len(cmd) == 0 {
		return nil, &domain.ConfigError{Field: "SYSTEST_COMMAND"}
	}
	return cmd, nil
}
