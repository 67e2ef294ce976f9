package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// EnvPrefix selects the environment variables LoadFromEnv reads, e.g.
// WEBSERVER_MAX_CONNECTS
const EnvPrefix = "WEBSERVER"

var ErrInvalidConfig = errors.New("config: invalid")

// Config holds all application configuration.
type Config struct {
	Host                string        `config:"host"`
	Port                int           `config:"port"`
	Backlog             int           `config:"backlog"`
	MaxConnects         int           `config:"max_connects"`
	ConnectionTimeout   time.Duration `config:"connection_timeout"`
	Workers             int           `config:"workers"`
	PollTimeout         time.Duration `config:"poll_timeout"`
	ListenerPollTimeout time.Duration `config:"listener_poll_timeout"`
	ReadChunk           int           `config:"read_chunk"`
	GOGC                int           `config:"gogc"`
	MemoryLimit         int64         `config:"memory_limit"`
	LogLevel            string        `config:"log_level"`
	LogFormat           string        `config:"log_format"`
	MetricsAddr         string        `config:"metrics_addr"`
	Env                 string        `config:"env"`

	// ConfigFile is only settable by flag
	ConfigFile string `config:"-"`
}

// New loads configuration from the process arguments and environment and
// exits on invalid input, like flag.Parse does.
func New() *Config {
	cfg, err := Parse(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return cfg
}

// Parse builds a Config from args. The JSON file named by -config is
// applied first, then WEBSERVER_* variables, then the flags given in args.
func Parse(args []string) (*Config, error) {
	cfg := &Config{}
	fs := flag.NewFlagSet("webserver", flag.ContinueOnError)
	cfg.register(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	m := NewManager()
	if cfg.ConfigFile != "" {
		if err := m.LoadFromJSON(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}
	m.LoadFromEnv(EnvPrefix)
	if err := m.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	// Explicit flags win over file and environment.
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) register(fs *flag.FlagSet) {
	fs.StringVar(&c.Host, "host", "localhost", "Listen host")
	fs.IntVar(&c.Port, "port", 9000, "Listen port")
	fs.IntVar(&c.Backlog, "backlog", 100, "Listen backlog, must be below max-connects")
	fs.IntVar(&c.MaxConnects, "max-connects", 1000, "Connections allowed per worker")
	fs.DurationVar(&c.ConnectionTimeout, "connection-timeout", 10*time.Second, "Socket send/receive timeout")
	fs.IntVar(&c.Workers, "workers", 10, "Worker goroutines")
	fs.DurationVar(&c.PollTimeout, "poll-timeout", time.Second, "Worker poll timeout")
	fs.DurationVar(&c.ListenerPollTimeout, "listener-poll-timeout", 10*time.Second, "Listener poll timeout")
	fs.IntVar(&c.ReadChunk, "read-chunk", 1500, "Bytes read per readiness event")
	fs.IntVar(&c.GOGC, "gogc", 200, "Garbage collection target percentage, 0 keeps the runtime setting")
	fs.Int64Var(&c.MemoryLimit, "memory-limit", 0, "Soft memory limit in bytes, 0 for none")
	fs.StringVar(&c.LogLevel, "log-level", "info", "Log level (debug/info/warn/error)")
	fs.StringVar(&c.LogFormat, "log-format", "text", "Log format (text/json)")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", "", "Prometheus endpoint address, empty to disable")
	fs.StringVar(&c.ConfigFile, "config", "", "Optional JSON configuration file")
	fs.StringVar(&c.Env, "env", "development", "Environment (development/production)")
}

// Validate checks the limits the server depends on
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.MaxConnects < 1 {
		errs = append(errs, fmt.Errorf("max connects %d must be positive", c.MaxConnects))
	}
	if c.Backlog < 1 || c.Backlog >= c.MaxConnects {
		errs = append(errs, fmt.Errorf("backlog %d must be between 1 and max connects %d", c.Backlog, c.MaxConnects))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers %d must be at least 1", c.Workers))
	}
	if c.MemoryLimit < 0 {
		errs = append(errs, fmt.Errorf("memory limit %d must not be negative", c.MemoryLimit))
	}
	if c.ReadChunk < 1 {
		errs = append(errs, fmt.Errorf("read chunk %d must be positive", c.ReadChunk))
	}
	for _, t := range []struct {
		name string
		d    time.Duration
	}{
		{"connection timeout", c.ConnectionTimeout},
		{"poll timeout", c.PollTimeout},
		{"listener poll timeout", c.ListenerPollTimeout},
	} {
		if t.d <= 0 {
			errs = append(errs, fmt.Errorf("%s %s must be positive", t.name, t.d))
		}
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log format %q must be text or json", c.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Logger builds the root logger described by the configuration
func (c *Config) Logger() *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
