package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/sip2gate/internal/account"
	"github.com/danmuck/sip2gate/internal/sip2"
)

var (
	ErrInvalidMaxClients = errors.New("config: max_clients must be positive")
	ErrMissingListenAddr = errors.New("config: missing listen_addr")
	ErrMissingBackendURL = errors.New("config: missing backend url")
	ErrInvalidDuration   = errors.New("config: duration must be positive")
)

type Config struct {
	Server   ServerConfig
	Monitor  MonitorConfig
	Backend  BackendConfig
	Accounts []account.Account

	// Path is the file the config was loaded from, if any.
	Path string
}

type ServerConfig struct {
	ListenAddr  string
	MaxClients  int
	RecvTimeout time.Duration
	AcceptPoll  time.Duration
	// SCStatusBeforeLogin answers 99 on unauthenticated sessions.
	SCStatusBeforeLogin bool
	Framing             sip2.Framing
	AdminAddr           string
	AdminCORSOrigins    []string
}

type MonitorConfig struct {
	AccountsFile string
	ShutdownFile string
	PollInterval time.Duration
}

type BackendConfig struct {
	URL     string
	Timeout time.Duration
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:  "0.0.0.0:6001",
			MaxClients:  64,
			RecvTimeout: 5 * time.Second,
			AcceptPoll:  time.Second,
			Framing:     sip2.FramingASCII,
		},
		Monitor: MonitorConfig{
			PollInterval: 5 * time.Second,
		},
		Backend: BackendConfig{
			URL:     "http://127.0.0.1:8080/osrf-http-translator",
			Timeout: 30 * time.Second,
		},
	}
}

type fileConfig struct {
	Server   fileServer     `toml:"server"`
	Monitor  fileMonitor    `toml:"monitor"`
	Backend  fileBackend    `toml:"backend"`
	Accounts []accountEntry `toml:"accounts"`
}

type fileServer struct {
	ListenAddr          string   `toml:"listen_addr"`
	MaxClients          int      `toml:"max_clients"`
	RecvTimeout         string   `toml:"recv_timeout"`
	AcceptPoll          string   `toml:"accept_poll"`
	SCStatusBeforeLogin bool     `toml:"sc_status_before_login"`
	Framing             string   `toml:"framing"`
	AdminAddr           string   `toml:"admin_addr"`
	AdminCORSOrigins    []string `toml:"admin_cors_origins"`
}

type fileMonitor struct {
	AccountsFile string `toml:"accounts_file"`
	ShutdownFile string `toml:"shutdown_file"`
	PollInterval string `toml:"poll_interval"`
}

type fileBackend struct {
	URL     string `toml:"url"`
	Timeout string `toml:"timeout"`
}

// Load decodes path over Default. Keys absent from the file keep their
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	cfg.Path = path

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("server", "listen_addr") {
		cfg.Server.ListenAddr = strings.TrimSpace(raw.Server.ListenAddr)
	}
	if meta.IsDefined("server", "max_clients") {
		cfg.Server.MaxClients = raw.Server.MaxClients
	}
	if meta.IsDefined("server", "recv_timeout") {
		if cfg.Server.RecvTimeout, err = parseDuration("server.recv_timeout", raw.Server.RecvTimeout); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("server", "accept_poll") {
		if cfg.Server.AcceptPoll, err = parseDuration("server.accept_poll", raw.Server.AcceptPoll); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("server", "sc_status_before_login") {
		cfg.Server.SCStatusBeforeLogin = raw.Server.SCStatusBeforeLogin
	}
	if meta.IsDefined("server", "framing") {
		if cfg.Server.Framing, err = sip2.ParseFraming(raw.Server.Framing); err != nil {
			return Config{}, fmt.Errorf("parse server.framing: %w", err)
		}
	}
	if meta.IsDefined("server", "admin_addr") {
		cfg.Server.AdminAddr = strings.TrimSpace(raw.Server.AdminAddr)
	}
	if meta.IsDefined("server", "admin_cors_origins") {
		cfg.Server.AdminCORSOrigins = raw.Server.AdminCORSOrigins
	}

	if meta.IsDefined("monitor", "accounts_file") {
		cfg.Monitor.AccountsFile = resolveRelative(path, raw.Monitor.AccountsFile)
	}
	if meta.IsDefined("monitor", "shutdown_file") {
		cfg.Monitor.ShutdownFile = resolveRelative(path, raw.Monitor.ShutdownFile)
	}
	if meta.IsDefined("monitor", "poll_interval") {
		if cfg.Monitor.PollInterval, err = parseDuration("monitor.poll_interval", raw.Monitor.PollInterval); err != nil {
			return Config{}, err
		}
	}

	if meta.IsDefined("backend", "url") {
		cfg.Backend.URL = strings.TrimSpace(raw.Backend.URL)
	}
	if meta.IsDefined("backend", "timeout") {
		if cfg.Backend.Timeout, err = parseDuration("backend.timeout", raw.Backend.Timeout); err != nil {
			return Config{}, err
		}
	}

	cfg.Accounts, err = toAccounts(raw.Accounts)
	if err != nil {
		return Config{}, err
	}
	if cfg.Monitor.AccountsFile != "" {
		cfg.Accounts, err = LoadAccounts(cfg.Monitor.AccountsFile)
		if err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return ErrMissingListenAddr
	}
	if c.Server.MaxClients <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxClients, c.Server.MaxClients)
	}
	for name, d := range map[string]time.Duration{
		"server.recv_timeout":   c.Server.RecvTimeout,
		"server.accept_poll":    c.Server.AcceptPoll,
		"monitor.poll_interval": c.Monitor.PollInterval,
		"backend.timeout":       c.Backend.Timeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s", ErrInvalidDuration, name)
		}
	}
	if c.Backend.URL == "" {
		return ErrMissingBackendURL
	}
	return nil
}

// AccountsSource is the file the monitor watches for account changes.
func (c Config) AccountsSource() string {
	if c.Monitor.AccountsFile != "" {
		return c.Monitor.AccountsFile
	}
	return c.Path
}

// Table builds the initial live table from the loaded accounts.
func (c Config) Table() *account.Table {
	return account.NewTable(c.Accounts...)
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func resolveRelative(configPath, target string) string {
	target = strings.TrimSpace(target)
	if target == "" || filepath.IsAbs(target) || configPath == "" {
		return target
	}
	return filepath.Join(filepath.Dir(configPath), target)
}
