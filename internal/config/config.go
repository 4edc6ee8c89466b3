package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// LogConfig contains logging settings shared by both binaries.
type LogConfig struct {
	Level   string `yaml:"level"`
	UseJSON bool   `yaml:"json"`
	Colors  bool   `yaml:"colors"`
}

// GetLevel returns the configured level with a default.
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// Cloud is the configuration for the bridged (cloud) process.
type Cloud struct {
	Log      LogConfig      `yaml:"log"`
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	OAuth    CloudOAuth     `yaml:"oauth"`
	EventBus EventBusConfig `yaml:"eventbus"`
}

// HTTPConfig contains HTTP server settings.
type HTTPConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// Addr returns the listen address.
func (c *HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// CloudOAuth contains the identity-provider settings the cloud side needs
// to validate token requests and verify identity assertions.
type CloudOAuth struct {
	ClientID     string   `yaml:"client_id"`
	RedirectURI  string   `yaml:"redirect_uri"`
	TokenInfoURL string   `yaml:"tokeninfo_url"`
	HTTPTimeout  Duration `yaml:"http_timeout"`
}

// EventBusConfig contains change fan-out settings.
type EventBusConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// GetWorkers returns worker count with default.
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default.
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// Agent is the configuration for the lampd (physical client) process.
type Agent struct {
	Log             LogConfig  `yaml:"log"`
	Cloud           CloudLink  `yaml:"cloud"`
	OAuth           AgentOAuth `yaml:"oauth"`
	CredentialFile  string     `yaml:"credential_file"`
	Device          DeviceSpec `yaml:"device"`
	GPIO            GPIOConfig `yaml:"gpio"`
	ShutdownTimeout Duration   `yaml:"shutdown_timeout"`
}

// CloudLink describes how the agent reaches the bridged sync API.
type CloudLink struct {
	BaseURL     string   `yaml:"base_url"`
	HTTPTimeout Duration `yaml:"http_timeout"`
}

// AgentOAuth contains the device-authorization grant settings.
type AgentOAuth struct {
	ClientID      string `yaml:"client_id"`
	ClientSecret  string `yaml:"client_secret"`
	DeviceCodeURL string `yaml:"device_code_url"`
	TokenURL      string `yaml:"token_url"`
	Scope         string `yaml:"scope"`
}

// DeviceSpec describes the device document the agent registers on startup.
type DeviceSpec struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// GPIOConfig contains the pigpiod connection and channel pin assignment.
type GPIOConfig struct {
	Addr     string `yaml:"addr"`
	RedPin   uint32 `yaml:"red_pin"`
	GreenPin uint32 `yaml:"green_pin"`
	BluePin  uint32 `yaml:"blue_pin"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// LoadCloud reads and parses the cloud configuration file.
func LoadCloud(path string) (*Cloud, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Cloud
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, err
	}

	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = Duration(5 * time.Second)
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./glowbridge.sqlite"
	}
	if cfg.OAuth.TokenInfoURL == "" {
		cfg.OAuth.TokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"
	}
	if cfg.OAuth.HTTPTimeout == 0 {
		cfg.OAuth.HTTPTimeout = Duration(10 * time.Second)
	}

	return &cfg, nil
}

// LoadAgent reads and parses the agent configuration file.
func LoadAgent(path string) (*Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Agent
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, err
	}

	if cfg.Cloud.HTTPTimeout == 0 {
		cfg.Cloud.HTTPTimeout = Duration(30 * time.Second)
	}
	if cfg.OAuth.DeviceCodeURL == "" {
		cfg.OAuth.DeviceCodeURL = "https://accounts.google.com/o/oauth2/device/code"
	}
	if cfg.OAuth.TokenURL == "" {
		cfg.OAuth.TokenURL = "https://www.googleapis.com/oauth2/v4/token"
	}
	if cfg.OAuth.Scope == "" {
		cfg.OAuth.Scope = "email profile"
	}
	if cfg.CredentialFile == "" {
		cfg.CredentialFile = "./credential.json"
	}
	if cfg.Device.ID == "" {
		cfg.Device.ID = "diy-rpi-light"
	}
	if cfg.Device.Name == "" {
		cfg.Device.Name = "DIY Raspberry Light"
	}
	if cfg.GPIO.Addr == "" {
		cfg.GPIO.Addr = "127.0.0.1:8888"
	}
	if cfg.GPIO.RedPin == 0 && cfg.GPIO.GreenPin == 0 && cfg.GPIO.BluePin == 0 {
		cfg.GPIO.RedPin, cfg.GPIO.GreenPin, cfg.GPIO.BluePin = 17, 22, 24
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}

	return &cfg, nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
