package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/AaronLay10/carla-go/carla"
	"github.com/AaronLay10/carla-go/internal/mqtt"
)

// Config is the client-side configuration of the bindings tooling.
type Config struct {
	Version int `yaml:"version"`

	Carla struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		RoleName string `yaml:"role_name"`
		SyncMode bool   `yaml:"sync_mode"`
	} `yaml:"carla"`

	MQTT struct {
		URL          string `yaml:"url"`
		ClientID     string `yaml:"client_id"`
		Username     string `yaml:"username"`
		Password     string `yaml:"-"`
		TopicPrefix  string `yaml:"topic_prefix"`
		EventsTopic  string `yaml:"events_topic"`
		QueueSize    int    `yaml:"queue_size"`
		KeepaliveSec int    `yaml:"keepalive_sec"`
	} `yaml:"mqtt"`

	Logging struct {
		Enabled bool   `yaml:"enabled"`
		ToFile  bool   `yaml:"to_file"`
		File    string `yaml:"file"`
	} `yaml:"logging"`

	EABS struct {
		TTCWarning         float64 `yaml:"ttc_warning"`
		TTCMildBraking     float64 `yaml:"ttc_mild_braking"`
		TTCStrongBrakes    float64 `yaml:"ttc_strong_brakes"`
		LateralExtraMargin float64 `yaml:"lateral_extra_margin"`
		MinVRel            float64 `yaml:"min_v_rel"`
	} `yaml:"eabs"`

	API struct {
		Port int `yaml:"port"`
	} `yaml:"api"`

	Postgres struct {
		Enabled  bool   `yaml:"enabled"`
		Password string `yaml:"-"`
	} `yaml:"postgres"`

	// Binding is resolved by ApplyEnv, never read from the file.
	Binding carla.Info `yaml:"-"`
}

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	var cfg Config
	cfg.Version = 1

	cfg.Carla.Host = "localhost"
	cfg.Carla.Port = 2000
	cfg.Carla.RoleName = "hero"

	cfg.MQTT.URL = mqtt.DefaultBrokerURL
	cfg.MQTT.ClientID = "carla-go"
	cfg.MQTT.TopicPrefix = "carla"
	cfg.MQTT.EventsTopic = "eabs/nxp/events"
	cfg.MQTT.QueueSize = 1024
	cfg.MQTT.KeepaliveSec = 60

	cfg.Logging.ToFile = true
	cfg.Logging.File = "apply_eabs.log"

	cfg.EABS.TTCWarning = 2.5
	cfg.EABS.TTCMildBraking = 2.0
	cfg.EABS.TTCStrongBrakes = 1.5
	cfg.EABS.LateralExtraMargin = 0.5
	cfg.EABS.MinVRel = 0.05

	cfg.API.Port = 8080

	cfg.Binding = carla.Resolve(nil)

	return &cfg
}

// Load reads a YAML config file on top of the defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if cfg.Version != 1 {
		return nil, fmt.Errorf("unsupported config version: %d", cfg.Version)
	}

	return cfg, nil
}

// ApplyEnv overlays environment values and resolves the binding version.
func (c *Config) ApplyEnv(lookup carla.LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	c.Binding = carla.Resolve(lookup)

	if v, ok := lookup("MQTT_URL"); ok && v != "" {
		c.MQTT.URL = v
	}
	if v, ok := lookup("CARLA_HOST"); ok && v != "" {
		c.Carla.Host = v
	}
	if v, ok := lookup("CARLA_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid CARLA_PORT %q: %w", v, err)
		}
		c.Carla.Port = port
	}

	password, err := ResolveSecret(lookup, "MQTT_PASSWORD")
	if err != nil {
		return err
	}
	if password != "" {
		c.MQTT.Password = password
	}

	password, err = ResolveSecret(lookup, "PGPASSWORD")
	if err != nil {
		return err
	}
	if password != "" {
		c.Postgres.Password = password
	}

	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if !validPort(c.Carla.Port) {
		errs = append(errs, fmt.Errorf("carla.port out of range: %d", c.Carla.Port))
	}
	if !validPort(c.API.Port) {
		errs = append(errs, fmt.Errorf("api.port out of range: %d", c.API.Port))
	}
	if c.MQTT.URL == "" {
		errs = append(errs, errors.New("mqtt.url is required"))
	}
	if c.MQTT.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("mqtt.queue_size must be positive: %d", c.MQTT.QueueSize))
	}
	if c.MQTT.KeepaliveSec < 0 {
		errs = append(errs, fmt.Errorf("mqtt.keepalive_sec must not be negative: %d", c.MQTT.KeepaliveSec))
	}
	if c.Logging.Enabled && c.Logging.ToFile && c.Logging.File == "" {
		errs = append(errs, errors.New("logging.file is required when logging to a file"))
	}
	if c.EABS.TTCStrongBrakes > c.EABS.TTCMildBraking || c.EABS.TTCMildBraking > c.EABS.TTCWarning {
		errs = append(errs, fmt.Errorf("eabs thresholds must satisfy strong <= mild <= warning, got %.2f/%.2f/%.2f",
			c.EABS.TTCStrongBrakes, c.EABS.TTCMildBraking, c.EABS.TTCWarning))
	}

	return errors.Join(errs...)
}

// Lookup returns the value of key, or def when it is unset.
func Lookup(lookup carla.LookupFunc, key, def string) string {
	if lookup == nil {
		return def
	}
	if v, ok := lookup(key); ok {
		return v
	}
	return def
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}
