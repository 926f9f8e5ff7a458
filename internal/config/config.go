package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/urfave/cli/v2"
)

const (
	DefaultServerURL = "http://localhost:9099"
	DefaultAddr      = ":8080"
	DefaultLogDir    = "./rdm-logs"
	DefaultLogTTL    = 24 * time.Hour
	DefaultTimeout   = 30 * time.Second

	// A run or discovery holds the request open until the server is done.
	DefaultRunTimeout = 30 * time.Minute
)

var (
	ServerURL = &cli.StringFlag{
		Name:    "url",
		Value:   DefaultServerURL,
		EnvVars: []string{"RDM_TESTS_URL"},
		Usage:   "Base URL of the RDM test server",
	}
	Timeout = &cli.DurationFlag{
		Name:    "timeout",
		Value:   DefaultTimeout,
		EnvVars: []string{"RDM_TESTS_TIMEOUT"},
		Usage:   "Timeout for a single metadata request to the test server",
	}
	RunTimeout = &cli.DurationFlag{
		Name:    "run-timeout",
		Value:   DefaultRunTimeout,
		EnvVars: []string{"RDM_TESTS_RUN_TIMEOUT"},
		Usage:   "Timeout for a test run or a full discovery",
	}
	LogDir = &cli.StringFlag{
		Name:    "log-dir",
		Value:   DefaultLogDir,
		EnvVars: []string{"RDM_CONSOLE_LOG_DIR"},
		Usage:   "Directory downloaded run logs are cached in",
	}
	LogTTL = &cli.DurationFlag{
		Name:    "log-ttl",
		Value:   DefaultLogTTL,
		EnvVars: []string{"RDM_CONSOLE_LOG_TTL"},
		Usage:   "How long cached run logs are kept",
	}
	Verbose = &cli.BoolFlag{
		Name:  "verbose",
		Usage: "Enable verbose (debug) logging",
	}

	Addr = &cli.StringFlag{
		Name:    "addr",
		Value:   DefaultAddr,
		EnvVars: []string{"RDM_CONSOLE_ADDR"},
		Usage:   "Listen address of the HTTP console",
	}
	Mock = &cli.BoolFlag{
		Name:    "mock",
		EnvVars: []string{"USE_MOCK"},
		Usage:   "Talk to an in-process fake test server instead of --url",
	}
	Refresh = &cli.DurationFlag{
		Name:    "refresh",
		Value:   0,
		EnvVars: []string{"RDM_CONSOLE_REFRESH"},
		Usage:   "Interval for reloading universes in the background (e.g. '1m'). 0 disables it.",
	}
)

// Flags are accepted by every command.
var Flags = []cli.Flag{ServerURL, Timeout, RunTimeout, LogDir, LogTTL, Mock, Verbose}

// ServeFlags are accepted by the serve command only.
var ServeFlags = []cli.Flag{Addr, Refresh}

// Config holds the application configuration
type Config struct {
	ServerURL  string
	Timeout    time.Duration
	RunTimeout time.Duration
	LogDir     string
	LogTTL     time.Duration
	Verbose    bool

	Addr    string
	Mock    bool
	Refresh time.Duration
}

// FromContext reads the configuration from the flags of ctx and its parents.
func FromContext(ctx *cli.Context) (*Config, error) {
	cfg := &Config{
		ServerURL:  ctx.String(ServerURL.Name),
		Timeout:    ctx.Duration(Timeout.Name),
		RunTimeout: ctx.Duration(RunTimeout.Name),
		LogDir:     ctx.String(LogDir.Name),
		LogTTL:     ctx.Duration(LogTTL.Name),
		Verbose:    ctx.Bool(Verbose.Name),
		Addr:       ctx.String(Addr.Name),
		Mock:       ctx.Bool(Mock.Name),
		Refresh:    ctx.Duration(Refresh.Name),
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("failed to parse server URL %q: %w", c.ServerURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server URL %q must use http or https", c.ServerURL)
	}
	if u.Host == "" {
		return fmt.Errorf("server URL %q has no host", c.ServerURL)
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.RunTimeout <= 0 {
		return errors.New("run timeout must be positive")
	}
	if c.LogDir == "" {
		return errors.New("log directory is required")
	}
	if c.LogTTL <= 0 {
		return errors.New("log TTL must be positive")
	}
	if c.Refresh < 0 {
		return errors.New("refresh interval must not be negative")
	}
	return nil
}
