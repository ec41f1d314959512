package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// EnvPrefix prefixes environment overrides, e.g. WIND_IDLE_TIMEOUT=30s
const EnvPrefix = "WIND"

// ErrInvalid is wrapped by Validate failures
var ErrInvalid = errors.New("invalid configuration")

// Config holds all application configuration.
type Config struct {
	Host string `config:"host"`
	Port int    `config:"port"`
	Env  string `config:"env"`

	// IdleTimeout closes connections without activity that are not waiting
	// on a handler
	IdleTimeout time.Duration `config:"idle.timeout"`
	// HandlerTimeout closes connections whose handler has not finished; 0 disables
	HandlerTimeout time.Duration `config:"handler.timeout"`
	PollTimeout    time.Duration `config:"poll.timeout"`

	ReadChunk      int   `config:"read.chunk"`
	MaxInputBuffer int   `config:"max.input.buffer"`
	MaxHeaderBytes int   `config:"max.header.bytes"`
	MaxHeaderLine  int   `config:"max.header.line"`
	MaxBodyBytes   int64 `config:"max.body.bytes"`

	OutputHighWater int `config:"output.high.water"`
	OutputLowWater  int `config:"output.low.water"`

	Backlog   int  `config:"backlog"`
	ReusePort bool `config:"reuse.port"`
	Workers   int  `config:"workers"`

	LogLevel   string `config:"log.level"`
	ConfigFile string `config:"-"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		Env:             "development",
		IdleTimeout:     60 * time.Second,
		PollTimeout:     100 * time.Millisecond,
		ReadChunk:       16 << 10,
		MaxInputBuffer:  1 << 20,
		MaxHeaderBytes:  16 << 10,
		MaxHeaderLine:   8 << 10,
		MaxBodyBytes:    4 << 20,
		OutputHighWater: 1 << 20,
		OutputLowWater:  256 << 10,
		Backlog:         128,
		LogLevel:        "info",
	}
}

// New loads configuration from os.Args and the environment, exiting on error.
func New() *Config {
	cfg, err := Load(os.Args[1:])
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(2)
	}
	return cfg
}

// Load builds a Config from defaults, the JSON file named by -config, WIND_*
// environment variables and finally the flags present in args.
func Load(args []string) (*Config, error) {
	// First pass only finds the config file and rejects bad flags.
	flags := Default()
	if err := newFlagSet(&flags).Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()
	m := NewManager()
	if flags.ConfigFile != "" {
		if err := m.LoadFromJSON(flags.ConfigFile); err != nil {
			return nil, err
		}
	}
	m.LoadFromEnv(EnvPrefix)
	if err := m.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	// Explicit flags win over file and environment.
	if err := newFlagSet(&cfg).Parse(args); err != nil {
		return nil, err
	}
	cfg.ConfigFile = flags.ConfigFile

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// newFlagSet binds every flag to cfg, using cfg's current values as defaults
func newFlagSet(cfg *Config) *flag.FlagSet {
	fs := flag.NewFlagSet("wind", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.Host, "host", cfg.Host, "Listen address")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	fs.StringVar(&cfg.Env, "env", cfg.Env, "Environment (development/production)")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Close idle keep-alive connections after")
	fs.DurationVar(&cfg.HandlerTimeout, "handler-timeout", cfg.HandlerTimeout, "Close connections whose handler has not finished after (0 disables)")
	fs.DurationVar(&cfg.PollTimeout, "poll-timeout", cfg.PollTimeout, "Upper bound of one readiness wait")
	fs.IntVar(&cfg.ReadChunk, "read-chunk", cfg.ReadChunk, "Bytes per socket read")
	fs.IntVar(&cfg.MaxInputBuffer, "max-input-buffer", cfg.MaxInputBuffer, "Buffered unparsed input per connection")
	fs.IntVar(&cfg.MaxHeaderBytes, "max-header-bytes", cfg.MaxHeaderBytes, "Request line plus header block limit")
	fs.IntVar(&cfg.MaxHeaderLine, "max-header-line", cfg.MaxHeaderLine, "Single header line limit")
	fs.Int64Var(&cfg.MaxBodyBytes, "max-body-bytes", cfg.MaxBodyBytes, "Request body limit")
	fs.IntVar(&cfg.OutputHighWater, "output-high-water", cfg.OutputHighWater, "Queued output that pauses reading")
	fs.IntVar(&cfg.OutputLowWater, "output-low-water", cfg.OutputLowWater, "Queued output that resumes reading")
	fs.IntVar(&cfg.Backlog, "backlog", cfg.Backlog, "Listen backlog")
	fs.BoolVar(&cfg.ReusePort, "reuse-port", cfg.ReusePort, "Set SO_REUSEPORT on the listener")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Offload worker goroutines (0 = one per CPU)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug/info/warn/error)")
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "JSON configuration file")

	return fs
}

// Addr returns host:port
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Development reports whether Env is development
func (c *Config) Development() bool {
	return strings.EqualFold(c.Env, "development")
}

// Validate rejects limits the server cannot work with
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.Port >= 0 && c.Port <= 65535, "port %d out of range", c.Port)
	check(c.IdleTimeout > 0, "idle timeout must be positive")
	check(c.HandlerTimeout >= 0, "handler timeout must not be negative")
	check(c.PollTimeout > 0, "poll timeout must be positive")
	check(c.ReadChunk > 0, "read chunk must be positive")
	check(c.MaxInputBuffer >= c.ReadChunk, "max input buffer %d below read chunk %d", c.MaxInputBuffer, c.ReadChunk)
	check(c.MaxHeaderBytes > 0, "max header bytes must be positive")
	check(c.MaxHeaderLine > 0 && c.MaxHeaderLine <= c.MaxHeaderBytes, "max header line must be positive and at most max header bytes")
	check(c.MaxBodyBytes > 0, "max body bytes must be positive")
	check(c.OutputLowWater > 0 && c.OutputLowWater < c.OutputHighWater, "output low water must be positive and below high water")
	check(c.Backlog > 0, "backlog must be positive")
	check(c.Workers >= 0, "workers must not be negative")
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		problems = append(problems, fmt.Sprintf("log level %q", c.LogLevel))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Logger builds the application logger: human-readable console output in
// development, JSON lines otherwise.
func (c *Config) Logger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || c.LogLevel == "" {
		level = zerolog.InfoLevel
	}

	if c.Development() {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("service", "wind").Logger()
}
