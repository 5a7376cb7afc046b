// Package config loads the ambassador daemon configuration.
package config

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/nats-io/nats.go"
	"gopkg.in/yaml.v3"

	"github.com/insikl/messaging-admin-ambassador/internal/admin"
)

// Defaults applied to unset fields.
const (
	DefaultListen        = "localhost:8181"
	DefaultPollInterval  = 30 * time.Second
	DefaultSubjectBase   = "io.messaging.ima"
	DefaultRelayTimeout  = 10 * time.Second
	DefaultAdminTimeout  = 60 * time.Second
	minimumPollInterval  = time.Second
	defaultNATSClientTag = "ima-ambassador"
)

// Target is a messaging server whose admin endpoint the daemon polls and
// relays to.
type Target struct {
	Name     string        `yaml:"name"`
	URL      string        `yaml:"url"`
	User     string        `yaml:"user"`
	Password string        `yaml:"password"`
	Insecure bool          `yaml:"insecure"`
	Timeout  time.Duration `yaml:"timeout"`
}

// NATS holds the connection settings, mirroring the daemon's flags.
type NATS struct {
	URLs        string `yaml:"urls"`
	Name        string `yaml:"name"`
	Creds       string `yaml:"creds"`
	NKey        string `yaml:"nkey"`
	TLSCert     string `yaml:"tlscert"`
	TLSKey      string `yaml:"tlskey"`
	TLSCACert   string `yaml:"tlscacert"`
	SubjectBase string `yaml:"subjbase"`
	// Disabled turns off the relay and the HTTP proxy.
	Disabled bool `yaml:"disabled"`
}

// Config is the daemon configuration file.
type Config struct {
	Listen       string        `yaml:"listen"`
	LogLevel     string        `yaml:"logLevel"`
	PollInterval time.Duration `yaml:"pollInterval"`
	RelayTimeout time.Duration `yaml:"relayTimeout"`
	// Routes is an optional relay route file.
	Routes  string   `yaml:"routes"`
	Targets []Target `yaml:"targets"`
	NATS    NATS     `yaml:"nats"`
}

// Default returns a configuration with every default filled in and no
// targets.
func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// Load reads a YAML file, rejecting unknown keys.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	c := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) ApplyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.RelayTimeout == 0 {
		c.RelayTimeout = DefaultRelayTimeout
	}
	if c.NATS.URLs == "" {
		c.NATS.URLs = nats.DefaultURL
	}
	if c.NATS.Name == "" {
		c.NATS.Name = defaultNATSClientTag
	}
	if c.NATS.SubjectBase == "" {
		c.NATS.SubjectBase = DefaultSubjectBase
	}
	for i := range c.Targets {
		if c.Targets[i].Timeout == 0 {
			c.Targets[i].Timeout = DefaultAdminTimeout
		}
	}
}

// Target names end up as a NATS subject token and a metric label.
var targetNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func (c *Config) Validate() error {
	if c.PollInterval < minimumPollInterval {
		return fmt.Errorf("pollInterval %v is below %v", c.PollInterval, minimumPollInterval)
	}
	if c.RelayTimeout <= 0 {
		return fmt.Errorf("relayTimeout must be positive")
	}
	seen := make(map[string]bool, len(c.Targets))
	for i, t := range c.Targets {
		if !targetNameRe.MatchString(t.Name) {
			return fmt.Errorf("target %d: invalid name %q", i+1, t.Name)
		}
		if seen[t.Name] {
			return fmt.Errorf("target %q defined twice", t.Name)
		}
		seen[t.Name] = true
		if t.URL == "" {
			return fmt.Errorf("target %q has no url", t.Name)
		}
	}
	if (c.NATS.TLSCert == "") != (c.NATS.TLSKey == "") {
		return fmt.Errorf("nats tlscert and tlskey must be set together")
	}
	return nil
}

// Target looks a target up by name.
func (c *Config) Target(name string) (Target, bool) {
	for _, t := range c.Targets {
		if t.Name == name {
			return t, true
		}
	}
	return Target{}, false
}

// Client builds an admin client for the target.
func (t Target) Client(userAgent string) (*admin.Client, error) {
	opts := []admin.Option{admin.WithUserAgent(userAgent)}
	if t.Timeout > 0 {
		opts = append(opts, admin.WithTimeout(t.Timeout))
	}
	if t.User != "" {
		opts = append(opts, admin.WithBasicAuth(t.User, os.ExpandEnv(t.Password)))
	}
	if t.Insecure {
		opts = append(opts, admin.WithInsecureTLS())
	}
	return admin.NewClient(t.URL, opts...)
}
