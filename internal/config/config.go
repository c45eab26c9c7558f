// Package config reads the settings of a system test run from defaults, an
// optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/melih/lighthouse-systest/internal/core/domain"
)

// Environment variables carrying the two required values.
const (
	EnvProjectVersion = "PROJECT_VERSION"
	EnvArtifactDir    = "APPLICATION_DEPENDENCY_DIR_PATH"
)

// VersionPlaceholder is substituted with the project version in Command.
const VersionPlaceholder = "{{version}}"

// DebugPortPlaceholder is substituted with DebugPort in JavaToolOptions.
const DebugPortPlaceholder = "{{debug_port}}"

const (
	RuntimeDocker         = "docker"
	RuntimeTestcontainers = "testcontainers"
)

// Config holds everything needed to run the application container.
type Config struct {
	ProjectVersion string `mapstructure:"project_version" yaml:"project_version" env:"PROJECT_VERSION" validate:"required"`
	ArtifactDir    string `mapstructure:"application_dependency_dir_path" yaml:"application_dependency_dir_path" env:"APPLICATION_DEPENDENCY_DIR_PATH" validate:"required,dir"`
	ArtifactTarget string `mapstructure:"artifact_target" yaml:"artifact_target" env:"SYSTEST_ARTIFACT_TARGET" validate:"required,startswith=/"`

	Runtime        string        `mapstructure:"runtime" yaml:"runtime" env:"SYSTEST_RUNTIME" validate:"oneof=docker testcontainers"`
	Image          ImageConfig   `mapstructure:"image" yaml:"image"`
	NetworkAliases []string      `mapstructure:"network_aliases" yaml:"network_aliases" env:"SYSTEST_NETWORK_ALIASES"`
	HTTPPort       int           `mapstructure:"http_port" yaml:"http_port" env:"SYSTEST_HTTP_PORT" validate:"min=1,max=65535"`
	DebugPort      int           `mapstructure:"debug_port" yaml:"debug_port" env:"SYSTEST_DEBUG_PORT" validate:"min=1,max=65535,nefield=HTTPPort"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout" yaml:"startup_timeout" env:"SYSTEST_STARTUP_TIMEOUT" validate:"gt=0"`

	// FixedDebugPort binds DebugPort to the same host port instead of an
	// ephemeral one, so a debugger can attach at a known address.
	FixedDebugPort bool `mapstructure:"fixed_debug_port" yaml:"fixed_debug_port" env:"SYSTEST_FIXED_DEBUG_PORT"`

	JavaToolOptions string `mapstructure:"java_tool_options" yaml:"java_tool_options" env:"SYSTEST_JAVA_TOOL_OPTIONS"`
	Command         string `mapstructure:"command" yaml:"command" env:"SYSTEST_COMMAND" validate:"required"`

	LogLevel     string        `mapstructure:"log_level" yaml:"log_level" env:"SYSTEST_LOG_LEVEL"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout" env:"SYSTEST_PROBE_TIMEOUT" validate:"gt=0"`
}

// ImageConfig selects the image the application runs in.
type ImageConfig struct {
	Name  string      `mapstructure:"name" yaml:"name" env:"SYSTEST_IMAGE" validate:"required"`
	Build BuildConfig `mapstructure:"build" yaml:"build"`
}

// BuildConfig, when RepoURL is set, builds the image from a git repository
// instead of pulling Name.
type BuildConfig struct {
	RepoURL string `mapstructure:"repo_url" yaml:"repo_url" env:"SYSTEST_BUILD_REPO_URL"`
	Tag     string `mapstructure:"tag" yaml:"tag" env:"SYSTEST_BUILD_TAG"`
}

// Enabled reports whether the image is built from source.
func (b BuildConfig) Enabled() bool {
	return b.RepoURL != ""
}

// DefaultJavaToolOptions enables a JDWP agent listening on the debug port.
const DefaultJavaToolOptions = "-Djava.security.egd=file:/dev/./urandom -agentlib:jdwp=transport=dt_socket,server=y,suspend=n,address=*:" + DebugPortPlaceholder

var defaults = map[string]any{
	"project_version":                 "",
	"application_dependency_dir_path": "",
	"artifact_target":                 "/app",
	"runtime":                         RuntimeDocker,
	"image.name":                      "eclipse-temurin:21-jre",
	"image.build.repo_url":            "",
	"image.build.tag":                 "",
	"network_aliases":                 []string{"application", "application-host"},
	"http_port":                       8080,
	"debug_port":                      5005,
	"startup_timeout":                 5 * time.Minute,
	"fixed_debug_port":                false,
	"java_tool_options":               DefaultJavaToolOptions,
	"command":                         "java -Dloader.path=/app/config -jar /app/black-box-systest-tc-main-" + VersionPlaceholder + ".jar",
	"log_level":                       "info",
	"probe_timeout":                   10 * time.Second,
}

// LoadOptions points Load at optional files.
type LoadOptions struct {
	// ConfigFile is a YAML file layered over the defaults.
	ConfigFile string
	// EnvFile is a dotenv file loaded into the process environment first.
	// Variables already set in the environment win.
	EnvFile string
}

// Load reads the configuration. It does not validate it; see Validate.
func Load(opts LoadOptions) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", opts.EnvFile, err)
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for key, env := range envBindings() {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// envBindings maps each viper key to its environment variable, read from
// the env struct tags.
func envBindings() map[string]string {
	out := make(map[string]string)
	collectEnv(reflect.TypeOf(Config{}), "", out)
	return out
}

func collectEnv(t reflect.Type, prefix string, out map[string]string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		key := prefix + f.Tag.Get("mapstructure")
		if f.Type.Kind() == reflect.Struct && f.Type != reflect.TypeOf(time.Duration(0)) {
			collectEnv(f.Type, key+".", out)
			continue
		}
		if env := f.Tag.Get("env"); env != "" {
			out[key] = env
		}
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if env := f.Tag.Get("env"); env != "" {
			return env
		}
		return f.Name
	})
	return v
}

// Validate checks the configuration and returns a *domain.ConfigError
// naming the first offending environment variable.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("failed to validate config: %w", err)
	}
	// Report the required values first so the message names them even when
	// other fields are also wrong.
	first := verrs[0]
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			first = fe
			break
		}
	}
	return &domain.ConfigError{Field: first.Field(), Reason: reason(first)}
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is missing"
	case "dir":
		return fmt.Sprintf("is not a directory (%v)", fe.Value())
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %v", fe.Param(), fe.Value())
	case "nefield":
		return "must differ from " + fe.Param()
	default:
		return fmt.Sprintf("fails %s=%s (got %v)", fe.Tag(), fe.Param(), fe.Value())
	}
}

// LaunchCommand returns Command with the project version substituted.
func (c *Config) LaunchCommand() string {
	return strings.ReplaceAll(c.Command, VersionPlaceholder, c.ProjectVersion)
}

// ResolvedJavaToolOptions returns JavaToolOptions with the debug port
// substituted.
func (c *Config) ResolvedJavaToolOptions() string {
	return strings.ReplaceAll(c.JavaToolOptions, DebugPortPlaceholder, strconv.Itoa(c.DebugPort))
}

// ImageTag returns the tag for a source-built image.
func (c *Config) ImageTag() string {
	if c.Image.Build.Tag != "" {
		return c.Image.Build.Tag
	}
	return "systest-application:" + c.ProjectVersion
}
