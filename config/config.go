package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Duration parses yaml duration strings like "5s" or "2m30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Server locates the managed media server.
type Server struct {
	URL        string   `yaml:"url" validate:"required,url"`
	App        string   `yaml:"app" validate:"required"`
	ProxyToken string   `yaml:"proxyToken"`
	Timeout    Duration `yaml:"timeout"`
}

// Console configures the dashboard backend.
type Console struct {
	Enable       bool     `yaml:"enable"`
	Address      string   `yaml:"address"`
	JWTSecret    string   `yaml:"jwtSecret"`
	SessionTTL   Duration `yaml:"sessionTTL"`
	PollInterval Duration `yaml:"pollInterval"`
}

// Probe bounds playback health checks.
type Probe struct {
	Timeout Duration `yaml:"timeout"`
}

// ViewerStats configures the nginx edge log ingestion.
type ViewerStats struct {
	Enable        bool     `yaml:"enable"`
	SocketPath    string   `yaml:"socketPath"`
	SlidingWindow Duration `yaml:"slidingWindow"`
	StreamFilter  string   `yaml:"streamFilter"`
}

// Discovery configures optional consul lookup of media-server instances.
type Discovery struct {
	Enable   bool     `yaml:"enable"`
	Service  string   `yaml:"service"`
	Interval Duration `yaml:"interval"`
}

type Config struct {
	// Name identifies this console instance, defaulting to the fqdn.
	Name        string
	Server      Server
	Console     Console
	Probe       Probe
	ViewerStats ViewerStats
	Discovery   Discovery
}

// Default returns the config used when a key is absent from the file.
func Default() Config {
	return Config{
		Server: Server{
			URL: "http://localhost:5080",
			App: "LiveApp",
		},
		Console: Console{
			Enable:       true,
			Address:      ":8085",
			SessionTTL:   Duration(12 * time.Hour),
			PollInterval: Duration(5 * time.Second),
		},
		Probe: Probe{
			Timeout: Duration(5 * time.Second),
		},
		ViewerStats: ViewerStats{
			SocketPath:    "/var/log/ams-edge.sock",
			SlidingWindow: Duration(30 * time.Second),
			StreamFilter:  "*",
		},
		Discovery: Discovery{
			Service:  "ant-media",
			Interval: Duration(15 * time.Second),
		},
	}
}

var validate = validator.New()

// Validate checks the parsed config before any service starts.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Console.Enable {
		if c.Console.Address == "" {
			return errors.New("console.address is required when the console is enabled")
		}
		if c.Console.JWTSecret == "" {
			return errors.New("console.jwtSecret is required when the console is enabled")
		}
	}
	if c.ViewerStats.Enable && c.ViewerStats.SocketPath == "" {
		return errors.New("viewerstats.socketPath is required when viewer stats are enabled")
	}
	return nil
}

// Parse reads the yaml file at path over the defaults and validates the
// result.
func Parse(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
