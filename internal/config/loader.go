package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"goldenhour/internal/location"
	"goldenhour/internal/solar"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv
const EnvPrefix = "GOLDENHOUR_"

// HomeAssistantConfig configures the homeassistant location source
type HomeAssistantConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Entity string `yaml:"entity"`
}

// MQTTConfig configures the owntracks location source
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
}

// Config holds the process configuration
type Config struct {
	// Path of the YAML file, only settable by flag or environment
	ConfigFile string `yaml:"-"`

	Latitude        float64       `yaml:"latitude"`
	Longitude       float64       `yaml:"longitude"`
	LocationSource  string        `yaml:"location_source"`
	LocationTimeout time.Duration `yaml:"location_timeout"`
	LocationMaxAge  time.Duration `yaml:"location_max_age"`
	HighAccuracy    bool          `yaml:"high_accuracy"`

	Provider     string        `yaml:"provider"`
	TickInterval time.Duration `yaml:"tick_interval"`
	Timezone     string        `yaml:"timezone"`
	Terminal     bool          `yaml:"terminal"`

	APIPort  int    `yaml:"api_port"`
	LogLevel string `yaml:"log_level"`

	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		LocationSource:  location.SourceStatic,
		LocationTimeout: location.DefaultTimeout,
		LocationMaxAge:  location.DefaultMaxAge,
		HighAccuracy:    true,
		Provider:        solar.ProviderSunrise,
		TickInterval:    time.Second,
		Timezone:        "Local",
		Terminal:        true,
		APIPort:         8080,
		LogLevel:        "info",
		HomeAssistant: HomeAssistantConfig{
			Entity: "zone.home",
		},
		MQTT: MQTTConfig{
			Broker: "localhost",
			Port:   1883,
			Topic:  "owntracks/#",
		},
	}
}

// Load builds the configuration from defaults, the YAML file, the environment
// and finally the command-line flags in args, then validates it.
func Load(args []string) (*Config, error) {
	// First pass only discovers --config; flag values are re-applied last
	probe := NewConfig()
	fs := probe.FlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := NewConfig()
	cfg.ConfigFile = probe.ConfigFile
	if v, ok := os.LookupEnv(EnvPrefix + "CONFIG"); ok && !fs.Changed("config") {
		cfg.ConfigFile = v
	}

	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.ApplyFlags(fs); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays values present in the YAML file at path
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables with the GOLDENHOUR_ prefix
func (c *Config) LoadFromEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	parse := func(key string, set func(string) error) {
		v, ok := os.LookupEnv(EnvPrefix + key)
		if !ok || v == "" {
			return
		}
		if err := set(v); err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
		}
	}
	float := func(dst *float64) func(string) error {
		return func(v string) (err error) {
			*dst, err = strconv.ParseFloat(v, 64)
			return err
		}
	}
	integer := func(dst *int) func(string) error {
		return func(v string) (err error) {
			*dst, err = strconv.Atoi(v)
			return err
		}
	}
	boolean := func(dst *bool) func(string) error {
		return func(v string) (err error) {
			*dst, err = strconv.ParseBool(v)
			return err
		}
	}
	duration := func(dst *time.Duration) func(string) error {
		return func(v string) (err error) {
			*dst, err = time.ParseDuration(v)
			return err
		}
	}

	// Location
	parse("LATITUDE", float(&c.Latitude))
	parse("LONGITUDE", float(&c.Longitude))
	str("LOCATION_SOURCE", &c.LocationSource)
	parse("LOCATION_TIMEOUT", duration(&c.LocationTimeout))
	parse("LOCATION_MAX_AGE", duration(&c.LocationMaxAge))
	parse("HIGH_ACCURACY", boolean(&c.HighAccuracy))

	// Scheduler and service
	str("PROVIDER", &c.Provider)
	parse("TICK_INTERVAL", duration(&c.TickInterval))
	str("TIMEZONE", &c.Timezone)
	parse("TERMINAL", boolean(&c.Terminal))
	parse("API_PORT", integer(&c.APIPort))
	str("LOG_LEVEL", &c.LogLevel)

	// Home Assistant
	str("HA_URL", &c.HomeAssistant.URL)
	str("HA_TOKEN", &c.HomeAssistant.Token)
	str("HA_ENTITY", &c.HomeAssistant.Entity)

	// MQTT
	str("MQTT_BROKER", &c.MQTT.Broker)
	parse("MQTT_PORT", integer(&c.MQTT.Port))
	str("MQTT_USER", &c.MQTT.User)
	str("MQTT_PASSWORD", &c.MQTT.Password)
	str("MQTT_CLIENT_ID", &c.MQTT.ClientID)
	str("MQTT_TOPIC", &c.MQTT.Topic)

	return errors.Join(errs...)
}

// FlagSet returns a flag set bound to c, with c's current values as defaults
func (c *Config) FlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("goldenhour", pflag.ContinueOnError)

	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "Path to a YAML configuration file")

	// Location flags
	fs.Float64Var(&c.Latitude, "latitude", c.Latitude, "Latitude for the static location source")
	fs.Float64Var(&c.Longitude, "longitude", c.Longitude, "Longitude for the static location source")
	fs.StringVar(&c.LocationSource, "location-source", c.LocationSource, "Location source (static, homeassistant, owntracks)")
	fs.DurationVar(&c.LocationTimeout, "location-timeout", c.LocationTimeout, "Give up on a location fix after this long")
	fs.DurationVar(&c.LocationMaxAge, "location-max-age", c.LocationMaxAge, "Reuse a location fix up to this old")
	fs.BoolVar(&c.HighAccuracy, "high-accuracy", c.HighAccuracy, "Ask the location source for a high accuracy fix")

	// Scheduler and service flags
	fs.StringVar(&c.Provider, "provider", c.Provider, "Sunrise/sunset provider (sunrise, suncalc)")
	fs.DurationVar(&c.TickInterval, "tick-interval", c.TickInterval, "Recomputation interval")
	fs.StringVar(&c.Timezone, "timezone", c.Timezone, "IANA time zone used for display dates")
	fs.BoolVar(&c.Terminal, "terminal", c.Terminal, "Render a status line on stdout")
	fs.IntVar(&c.APIPort, "api-port", c.APIPort, "HTTP API port (0 disables)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error)")

	// Home Assistant flags
	fs.StringVar(&c.HomeAssistant.URL, "ha-url", c.HomeAssistant.URL, "Home Assistant websocket URL")
	fs.StringVar(&c.HomeAssistant.Token, "ha-token", c.HomeAssistant.Token, "Home Assistant long-lived access token")
	fs.StringVar(&c.HomeAssistant.Entity, "ha-entity", c.HomeAssistant.Entity, "Entity carrying latitude/longitude attributes")

	// MQTT flags
	fs.StringVar(&c.MQTT.Broker, "mqtt-broker", c.MQTT.Broker, "MQTT broker hostname")
	fs.IntVar(&c.MQTT.Port, "mqtt-port", c.MQTT.Port, "MQTT broker port")
	fs.StringVar(&c.MQTT.User, "mqtt-user", c.MQTT.User, "MQTT username")
	fs.StringVar(&c.MQTT.Password, "mqtt-password", c.MQTT.Password, "MQTT password")
	fs.StringVar(&c.MQTT.ClientID, "mqtt-client-id", c.MQTT.ClientID, "MQTT client ID")
	fs.StringVar(&c.MQTT.Topic, "mqtt-topic", c.MQTT.Topic, "OwnTracks topic filter")

	return fs
}

// ApplyFlags copies every flag explicitly set on parsed onto c
func (c *Config) ApplyFlags(parsed *pflag.FlagSet) error {
	target := c.FlagSet()
	var errs []error
	parsed.Visit(func(f *pflag.Flag) {
		if err := target.Set(f.Name, f.Value.String()); err != nil {
			errs = append(errs, fmt.Errorf("--%s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	switch c.LocationSource {
	case location.SourceStatic:
		if c.Latitude == 0 && c.Longitude == 0 {
			return fmt.Errorf("latitude and longitude are required for the %s location source", c.LocationSource)
		}
		if err := c.Coordinate().Validate(); err != nil {
			return err
		}
	case location.SourceHomeAssistant:
		if c.HomeAssistant.URL == "" || c.HomeAssistant.Token == "" {
			return fmt.Errorf("homeassistant.url and homeassistant.token are required for the %s location source", c.LocationSource)
		}
		if c.HomeAssistant.Entity == "" {
			return fmt.Errorf("homeassistant.entity is required")
		}
	case location.SourceOwnTracks:
		if c.MQTT.Broker == "" {
			return fmt.Errorf("MQTT broker is required for the %s location source", c.LocationSource)
		}
		if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
			return fmt.Errorf("MQTT port must be between 1 and 65535")
		}
		if c.MQTT.Topic == "" {
			return fmt.Errorf("MQTT topic is required")
		}
	default:
		return fmt.Errorf("unknown location source: %s", c.LocationSource)
	}

	if _, err := solar.NewProvider(c.Provider); err != nil {
		return err
	}
	if c.LocationTimeout <= 0 {
		return fmt.Errorf("location timeout must be positive")
	}
	if c.LocationMaxAge < 0 {
		return fmt.Errorf("location max age must not be negative")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}
	if c.APIPort < 0 || c.APIPort > 65535 {
		return fmt.Errorf("API port must be between 0 and 65535")
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// Coordinate returns the configured static coordinate
func (c *Config) Coordinate() solar.Coordinate {
	return solar.Coordinate{Latitude: c.Latitude, Longitude: c.Longitude}
}

// Location resolves the configured display time zone
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// LocatorOptions returns the locator settings
func (c *Config) LocatorOptions() location.Options {
	return location.Options{
		Timeout:      c.LocationTimeout,
		MaxAge:       c.LocationMaxAge,
		HighAccuracy: c.HighAccuracy,
	}
}

// NewLogger builds a production logger at the configured level
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = level
	return zc.Build()
}
