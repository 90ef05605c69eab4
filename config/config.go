// Package config loads server and client settings from YAML files.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Log selects the logger built by package logging.
type Log struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

// Registry selects where endpoints are published and discovered.
// With no etcd endpoints a static, in-process registry is used and
// Static lists the instances known up front.
type Registry struct {
	Etcd        []string        `yaml:"etcd"`
	DialTimeout time.Duration   `yaml:"dial_timeout"`
	TTL         int64           `yaml:"ttl"` // lease seconds
	Static      []StaticService `yaml:"static"`
}

type StaticService struct {
	Name    string `yaml:"name"`
	Network string `yaml:"network"`
	Addr    string `yaml:"addr"`
	Weight  int    `yaml:"weight"`
}

// Server configures binder-server.
type Server struct {
	Service   string `yaml:"service"`
	Network   string `yaml:"network"` // tcp or unix
	Address   string `yaml:"address"`
	Advertise string `yaml:"advertise"` // address published in the registry, default the listen address
	Identity  int32  `yaml:"identity"`  // 0 reports the process id
	Weight    int    `yaml:"weight"`
	Version   string `yaml:"version"`

	Registry Registry `yaml:"registry"`

	RateLimit      float64       `yaml:"rate_limit"` // calls per second, 0 disables
	RateBurst      int           `yaml:"rate_burst"`
	HandlerTimeout time.Duration `yaml:"handler_timeout"` // 0 disables
	MetricsAddr    string        `yaml:"metrics_addr"`    // empty disables /metrics
	ShutdownAfter  time.Duration `yaml:"shutdown_timeout"`

	Log Log `yaml:"log"`
}

// Client configures binder-client.
type Client struct {
	Target      string        `yaml:"target"`
	Balancer    string        `yaml:"balancer"`
	HashKey     string        `yaml:"hash_key"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	CallTimeout time.Duration `yaml:"call_timeout"` // 0 blocks forever
	Heartbeat   time.Duration `yaml:"heartbeat"`

	Registry Registry `yaml:"registry"`

	Log Log `yaml:"log"`
}

func DefaultServer() *Server {
	return &Server{
		Service:       "com.example.aidl",
		Network:       "unix",
		Address:       "/tmp/mini-binder.sock",
		Weight:        1,
		Registry:      Registry{DialTimeout: 5 * time.Second, TTL: 10},
		RateBurst:     1,
		ShutdownAfter: 5 * time.Second,
		Log:           Log{Level: "info", Format: "console"},
	}
}

func DefaultClient() *Client {
	return &Client{
		Target:      "com.example.aidl",
		Balancer:    "round-robin",
		DialTimeout: 5 * time.Second,
		Heartbeat:   30 * time.Second,
		Registry:    Registry{DialTimeout: 5 * time.Second, TTL: 10},
		Log:         Log{Level: "info", Format: "console"},
	}
}

// LoadServer reads path over the defaults. An empty path yields the defaults.
func LoadServer(path string) (*Server, error) {
	cfg := DefaultServer()
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadClient reads path over the defaults. An empty path yields the defaults.
func LoadClient(path string) (*Client, error) {
	cfg := DefaultClient()
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func load(path string, into any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, into); err != nil {
		return errors.Wrapf(err, "parse %s", path)
	}
	return nil
}

func (c *Server) Validate() error {
	if c.Service == "" {
		return errors.New("service name is required")
	}
	if err := validateNetwork(c.Network); err != nil {
		return err
	}
	if c.Address == "" {
		return errors.New("listen address is required")
	}
	if c.RateLimit < 0 || (c.RateLimit > 0 && c.RateBurst < 1) {
		return errors.Errorf("rate limit %v with burst %d", c.RateLimit, c.RateBurst)
	}
	if c.HandlerTimeout < 0 || c.ShutdownAfter < 0 {
		return errors.New("timeouts must not be negative")
	}
	if err := c.Registry.validate(); err != nil {
		return err
	}
	return c.Log.validate()
}

func (c *Client) Validate() error {
	if c.Target == "" {
		return errors.New("target is required")
	}
	switch c.Balancer {
	case "", "round-robin", "weighted-random":
	case "consistent-hash":
		if c.HashKey == "" {
			return errors.New("consistent-hash balancer needs hash_key")
		}
	default:
		return errors.Errorf("unknown balancer %q", c.Balancer)
	}
	if c.DialTimeout < 0 || c.CallTimeout < 0 || c.Heartbeat < 0 {
		return errors.New("timeouts must not be negative")
	}
	if err := c.Registry.validate(); err != nil {
		return err
	}
	return c.Log.validate()
}

func (r *Registry) validate() error {
	if r.TTL <= 0 {
		return errors.Errorf("registry ttl %d must be positive", r.TTL)
	}
	for _, s := range r.Static {
		if s.Name == "" || s.Addr == "" {
			return errors.Errorf("static service %+v needs name and addr", s)
		}
		if err := validateNetwork(s.Network); err != nil {
			return errors.Wrapf(err, "static service %s", s.Name)
		}
	}
	return nil
}

func (l *Log) validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("unknown log level %q", l.Level)
	}
	switch l.Format {
	case "json", "console":
	default:
		return errors.Errorf("unknown log format %q", l.Format)
	}
	return nil
}

func validateNetwork(network string) error {
	switch network {
	case "tcp", "unix":
		return nil
	}
	return errors.Errorf("unsupported network %q", network)
}
