package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the configuration file looked up in the project directory
// when no explicit path is given.
const DefaultFile = ".reload.toml"

// ArtifactEnv names the environment variable that carries the path of the
// current build artifact to the run command.
const ArtifactEnv = "RELOAD_ARTIFACT"

// Config is the watch configuration. It is loaded once at startup and never
// mutated afterwards.
type Config struct {
	Root    string            `toml:"root" yaml:"root"`
	TmpDir  string            `toml:"tmp_dir" yaml:"tmp_dir"`
	Env     map[string]string `toml:"env" yaml:"env"`
	EnvFile string            `toml:"env_file" yaml:"env_file"`

	Build BuildConfig `toml:"build" yaml:"build"`
	Run   RunConfig   `toml:"run" yaml:"run"`
	Log   LogConfig   `toml:"log" yaml:"log"`
	Misc  MiscConfig  `toml:"misc" yaml:"misc"`

	// fileEnv holds the overrides read from EnvFile.
	fileEnv map[string]string
}

// BuildConfig describes how source changes are detected and compiled.
type BuildConfig struct {
	Cmd          string        `toml:"cmd" yaml:"cmd"`
	Bin          string        `toml:"bin" yaml:"bin"`
	Include      []string      `toml:"include" yaml:"include"`
	Exclude      []string      `toml:"exclude" yaml:"exclude"`
	Delay        time.Duration `toml:"delay" yaml:"delay"`
	Poll         bool          `toml:"poll" yaml:"poll"`
	PollInterval time.Duration `toml:"poll_interval" yaml:"poll_interval"`
}

// RunConfig describes how the build artifact is launched and stopped.
type RunConfig struct {
	Cmd        string        `toml:"cmd" yaml:"cmd"`
	Args       []string      `toml:"args" yaml:"args"`
	Grace      time.Duration `toml:"grace" yaml:"grace"`
	StopSignal string        `toml:"stop_signal" yaml:"stop_signal"`
	Startup    time.Duration `toml:"startup" yaml:"startup"`
}

// LogConfig controls the operator log sink.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
	Time   bool   `toml:"time" yaml:"time"`
	Color  bool   `toml:"color" yaml:"color"`
}

// MiscConfig holds settings that fit nowhere else.
type MiscConfig struct {
	CleanOnExit bool `toml:"clean_on_exit" yaml:"clean_on_exit"`
}

// DefaultConfig returns a config with sensible defaults for a Go service.
func DefaultConfig() *Config {
	return &Config{
		Root:   ".",
		TmpDir: "tmp",
		Build: BuildConfig{
			Cmd:          "go build -o ./tmp/main .",
			Bin:          "tmp/main",
			Include:      []string{"**/*.go"},
			Exclude:      []string{"tmp/**", "vendor/**", ".git/**", "**/*_test.go"},
			Delay:        time.Second,
			PollInterval: 500 * time.Millisecond,
		},
		Run: RunConfig{
			Cmd:        "$" + ArtifactEnv,
			Grace:      5 * time.Second,
			StopSignal: "SIGTERM",
			Startup:    500 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Color:  true,
		},
	}
}

// Error reports a malformed or incomplete configuration. It is fatal at
// startup.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return "config: " + e.Reason
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

var validSignals = map[string]bool{
	"SIGTERM": true,
	"SIGINT":  true,
	"SIGQUIT": true,
	"SIGHUP":  true,
	"SIGKILL": true,
}

// Validate checks that the configuration can drive a supervisor. It does not
// touch the filesystem; glob resolution is checked when watching starts.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Build.Cmd) == "" {
		return &Error{Field: "build.cmd", Reason: "build command is required"}
	}
	if strings.TrimSpace(c.Run.Cmd) == "" {
		return &Error{Field: "run.cmd", Reason: "run command is required"}
	}
	if strings.TrimSpace(c.Build.Bin) == "" {
		return &Error{Field: "build.bin", Reason: "build output path is required"}
	}
	if len(c.Build.Include) == 0 {
		return &Error{Field: "build.include", Reason: "at least one include glob is required"}
	}
	if c.Build.Delay < 0 {
		return &Error{Field: "build.delay", Reason: "must be >= 0"}
	}
	if c.Build.PollInterval <= 0 {
		return &Error{Field: "build.poll_interval", Reason: "must be positive"}
	}
	if c.Run.Grace <= 0 {
		return &Error{Field: "run.grace", Reason: "must be positive"}
	}
	if c.Run.Startup < 0 {
		return &Error{Field: "run.startup", Reason: "must be >= 0"}
	}
	if !validSignals[strings.ToUpper(c.Run.StopSignal)] {
		return &Error{Field: "run.stop_signal", Reason: fmt.Sprintf("unsupported signal %q", c.Run.StopSignal)}
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return &Error{Field: "log.level", Reason: fmt.Sprintf("unknown level %q", c.Log.Level)}
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return &Error{Field: "log.format", Reason: fmt.Sprintf("unknown format %q", c.Log.Format)}
	}
	return nil
}

// BinPath returns the build output path resolved against Root.
func (c *Config) BinPath() string {
	return c.resolve(c.Build.Bin)
}

// TmpPath returns the temporary directory resolved against Root.
func (c *Config) TmpPath() string {
	return c.resolve(c.TmpDir)
}

// ArtifactDir is where promoted build artifacts are kept.
func (c *Config) ArtifactDir() string {
	return filepath.Join(c.TmpPath(), ".artifacts")
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(c.Root, p)
}

// Environ returns the environment handed to the build and run commands: the
// supervisor's own environment, then env_file overrides, then env overrides.
// Values are passed through uninterpreted.
func (c *Config) Environ() []string {
	merged := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			merged[k] = v
		}
	}
	for k, v := range c.fileEnv {
		merged[k] = v
	}
	for k, v := range c.Env {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+merged[k])
	}
	return env
}

// Manager handles configuration loading and scaffolding.
type Manager struct {
	projectPath string
	configPath  string
	explicit    bool
	config      *Config
}

// NewManager creates a configuration manager for the project directory. It
// reads DefaultFile, or .reload.yaml/.reload.yml when only those exist. A
// missing default file means defaults are used.
func NewManager(projectPath string) *Manager {
	configPath := filepath.Join(projectPath, DefaultFile)
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		for _, alt := range []string{".reload.yaml", ".reload.yml"} {
			p := filepath.Join(projectPath, alt)
			if _, err := os.Stat(p); err == nil {
				configPath = p
				break
			}
		}
	}
	return &Manager{
		projectPath: projectPath,
		configPath:  configPath,
		config:      DefaultConfig(),
	}
}

// NewManagerWithPath creates a manager reading an explicit file. The file
// must exist.
func NewManagerWithPath(projectPath, configPath string) *Manager {
	if !filepath.IsAbs(configPath) {
		configPath = filepath.Join(projectPath, configPath)
	}
	return &Manager{
		projectPath: projectPath,
		configPath:  configPath,
		explicit:    true,
		config:      DefaultConfig(),
	}
}

// Path returns the configuration file path the manager reads.
func (m *Manager) Path() string {
	return m.configPath
}

// Load reads and validates the configuration.
func (m *Manager) Load() error {
	config := DefaultConfig()

	data, err := os.ReadFile(m.configPath)
	switch {
	case err == nil:
		if err := decode(m.configPath, data, config); err != nil {
			return &Error{Reason: fmt.Sprintf("parse %s: %v", m.configPath, err)}
		}
	case errors.Is(err, os.ErrNotExist) && !m.explicit:
		// no file, defaults apply
	default:
		return &Error{Reason: fmt.Sprintf("read %s: %v", m.configPath, err)}
	}

	m.expandEnvVars(config)

	if !filepath.IsAbs(config.Root) {
		config.Root = filepath.Join(m.projectPath, config.Root)
	}
	root, err := filepath.Abs(config.Root)
	if err != nil {
		return &Error{Field: "root", Reason: err.Error()}
	}
	config.Root = root
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return &Error{Field: "root", Reason: fmt.Sprintf("%s is not a directory", root)}
	}

	if config.EnvFile != "" {
		envPath := config.resolve(config.EnvFile)
		fileEnv, err := godotenv.Read(envPath)
		if err != nil {
			return &Error{Field: "env_file", Reason: err.Error()}
		}
		config.fileEnv = fileEnv
	}

	if err := config.Validate(); err != nil {
		return err
	}

	m.config = config
	return nil
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	return m.config
}

// WriteDefault writes a commented default configuration to the manager's
// path. An existing file is only replaced when force is set.
func (m *Manager) WriteDefault(force bool) error {
	if !force {
		if _, err := os.Stat(m.configPath); err == nil {
			return fmt.Errorf("%s already exists", m.configPath)
		}
	}
	if err := os.WriteFile(m.configPath, []byte(defaultTOML), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func decode(path string, data []byte, config *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	default:
		md, err := toml.Decode(string(data), config)
		if err != nil {
			return err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("unknown option %q", undecoded[0].String())
		}
		return nil
	}
}

// expandEnvVars expands environment variables in path and command values.
// The run command is left alone: it is expanded per launch so that it can
// reference the current artifact.
func (m *Manager) expandEnvVars(config *Config) {
	config.Root = expandString(config.Root)
	config.TmpDir = expandString(config.TmpDir)
	config.EnvFile = expandString(config.EnvFile)
	config.Build.Cmd = expandString(config.Build.Cmd)
	config.Build.Bin = expandString(config.Build.Bin)
	for k, v := range config.Env {
		config.Env[k] = expandString(v)
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandString expands $VAR and ${VAR}. Unset variables are left as written.
func expandString(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return match
	})
}

const defaultTOML = `# reload configuration

# Working directory, relative to where reload is started.
root = "."
# Scratch directory for build output and promoted artifacts.
tmp_dir = "tmp"
# Optional dotenv file whose values override the inherited environment.
# env_file = ".env"

# Extra environment for build and run commands.
[env]
# CGO_ENABLED = "0"

[build]
cmd = "go build -o ./tmp/main ."
bin = "tmp/main"
include = ["**/*.go"]
exclude = ["tmp/**", "vendor/**", ".git/**", "**/*_test.go"]
# Quiet period after the last change before rebuilding.
delay = "1s"
# Poll instead of using filesystem notifications.
poll = false
poll_interval = "500ms"

[run]
# $RELOAD_ARTIFACT is the freshly built binary.
cmd = "$RELOAD_ARTIFACT"
args = []
# Time to wait after stop_signal before killing.
grace = "5s"
stop_signal = "SIGTERM"
# A process exiting within this window is reported as a crash.
startup = "500ms"

[log]
level = "info"
format = "text"
time = false
color = true

[misc]
clean_on_exit = false
`
