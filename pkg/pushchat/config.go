// Copyright 2024-2026 Aiku AI

package pushchat

import (
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Fixed service ports used when URLs are derived from a host name.
const (
	APIPort    = 8000
	SocketPort = 9000
)

//go:embed example-config.yaml
var ExampleConfig string

// ReconnectConfig is the capped exponential reconnect policy.
type ReconnectConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
	MaxElapsedTime  time.Duration `yaml:"max_elapsed_time"`
}

// Config is the YAML configuration of a client.
type Config struct {
	Host      string `yaml:"host"`
	TLS       bool   `yaml:"tls"`
	APIURL    string `yaml:"api_url"`
	SocketURL string `yaml:"socket_url"`

	AutoReconnect bool            `yaml:"auto_reconnect"`
	DedupeFetches bool            `yaml:"dedupe_fetches"`
	PingInterval  time.Duration   `yaml:"ping_interval"`
	Reconnect     ReconnectConfig `yaml:"reconnect"`

	LogLevel string `yaml:"log_level"`

	logLevel zerolog.Level `yaml:"-"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// ParseConfig decodes data on top of the example configuration and
// post-processes the result.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(ExampleConfig), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse example config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig reads and parses the config file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseConfig(data)
}

// PostProcess validates the config and derives endpoint URLs from Host.
func (c *Config) PostProcess() error {
	if c.APIURL == "" || c.SocketURL == "" {
		if c.Host == "" {
			return errors.New("host is required when api_url and socket_url are not both set")
		}
		httpScheme, wsScheme := "http", "ws"
		if c.TLS {
			httpScheme, wsScheme = "https", "wss"
		}
		if c.APIURL == "" {
			c.APIURL = fmt.Sprintf("%s://%s:%d", httpScheme, c.Host, APIPort)
		}
		if c.SocketURL == "" {
			c.SocketURL = fmt.Sprintf("%s://%s:%d", wsScheme, c.Host, SocketPort)
		}
	}
	c.SocketURL = httpToWS(c.SocketURL)

	if c.PingInterval < 0 {
		return fmt.Errorf("ping_interval must not be negative, got %s", c.PingInterval)
	}
	if c.Reconnect.MaxInterval > 0 && c.Reconnect.InitialInterval > c.Reconnect.MaxInterval {
		return fmt.Errorf("reconnect.initial_interval %s exceeds max_interval %s",
			c.Reconnect.InitialInterval, c.Reconnect.MaxInterval)
	}

	c.logLevel = zerolog.InfoLevel
	if c.LogLevel != "" {
		level, err := zerolog.ParseLevel(c.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log_level: %w", err)
		}
		c.logLevel = level
	}
	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() zerolog.Level {
	return c.logLevel
}

// NewBackoff builds the reconnect policy described by the config.
func (rc ReconnectConfig) NewBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if rc.InitialInterval > 0 {
		b.InitialInterval = rc.InitialInterval
	}
	if rc.MaxInterval > 0 {
		b.MaxInterval = rc.MaxInterval
	}
	if rc.Multiplier >= 1 {
		b.Multiplier = rc.Multiplier
	}
	b.MaxElapsedTime = rc.MaxElapsedTime
	b.Reset()
	return b
}

// Options converts the config into client options.
func (c *Config) Options(log zerolog.Logger) Options {
	return Options{
		APIURL:        c.APIURL,
		SocketURL:     c.SocketURL,
		AutoReconnect: c.AutoReconnect,
		Backoff:       c.Reconnect.NewBackoff(),
		DedupeFetches: c.DedupeFetches,
		PingInterval:  c.PingInterval,
		Log:           log.Level(c.logLevel),
	}
}

// Options configure a Client.
type Options struct {
	// APIURL is the HTTP API base URL.
	APIURL string
	// SocketURL is the push socket URL.
	SocketURL string

	// AutoReconnect reconnects after every drop of the active socket.
	AutoReconnect bool
	// Backoff is the delay policy between reconnects. Nil uses
	// DefaultBackoff. Use &backoff.ZeroBackOff{} to reconnect immediately.
	Backoff backoff.BackOff

	// DedupeFetches makes concurrent cache misses for one id share a fetch.
	DedupeFetches bool
	// PingInterval enables keepalive pings when positive.
	PingInterval time.Duration

	HTTPClient *http.Client
	// Dialer opens sockets. Nil uses a WebSocketDialer.
	Dialer Dialer
	// Log is the base logger. The zero value logs nothing.
	Log zerolog.Logger
}

// DefaultBackoff is the reconnect policy used when none is configured:
// exponential from 500ms, capped at 30s, never giving up.
func DefaultBackoff() backoff.BackOff {
	return ReconnectConfig{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
	}.NewBackoff()
}
