// Package config loads application settings from configs/config.yml, environment and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "CACTUS"

// Config is the full application configuration.
type Config struct {
	Port     string          `mapstructure:"port"`
	DDNSHost string          `mapstructure:"ddns_host"`
	Log      LogConfig       `mapstructure:"log"`
	DB       DBConfig        `mapstructure:"db"`
	Auth     AuthConfig      `mapstructure:"auth"`
	Scan     ScanConfig      `mapstructure:"scan"`
	Discover DiscoveryConfig `mapstructure:"discovery"`
	OTA      OTAConfig       `mapstructure:"ota"`
	Storage  StorageConfig   `mapstructure:"storage"`
	Tools    ToolsConfig     `mapstructure:"tools"`
	Registry RegistryConfig  `mapstructure:"registry"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

type AuthConfig struct {
	SecretKey       string        `mapstructure:"secret_key"`
	TokenTTL        time.Duration `mapstructure:"token_ttl"`
	DefaultUser     string        `mapstructure:"default_user"`
	DefaultPassword string        `mapstructure:"default_password"`
}

type ScanConfig struct {
	TCPTimeout  time.Duration `mapstructure:"tcp_timeout"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
	MetaTimeout time.Duration `mapstructure:"meta_timeout"`
	Retries     int           `mapstructure:"retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	Concurrency int           `mapstructure:"concurrency"`
	Interval    time.Duration `mapstructure:"interval"`
}

type DiscoveryConfig struct {
	PortMin     int           `mapstructure:"port_min"`
	PortMax     int           `mapstructure:"port_max"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Concurrency int           `mapstructure:"concurrency"`
}

type OTAConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	ChunkSize int           `mapstructure:"chunk_size"`
}

type StorageConfig struct {
	UploadsDir string `mapstructure:"uploads_dir"`
	BuildsDir  string `mapstructure:"builds_dir"`
}

type ToolsConfig struct {
	ESPHome    string `mapstructure:"esphome"`
	ArduinoCLI string `mapstructure:"arduino_cli"`
	PlatformIO string `mapstructure:"platformio"`
}

type RegistryConfig struct {
	SeedFile string `mapstructure:"seed_file"`
}

// legacy environment names kept from the first deployments.
var legacyEnv = map[string]string{
	"ddns_host":         "DDNS_HOST",
	"auth.secret_key":   "SECRET_KEY",
	"tools.esphome":     "ESPHOME_PATH",
	"tools.arduino_cli": "ARDUINO_CLI_PATH",
	"tools.platformio":  "PLATFORMIO_PATH",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("ddns_host", "esp32gb.ddns.net")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("db.path", "cactus.db")

	v.SetDefault("auth.secret_key", "cactus-flasher-secret-key-change-in-production")
	v.SetDefault("auth.token_ttl", time.Hour)
	v.SetDefault("auth.default_user", "admin")
	v.SetDefault("auth.default_password", "cactus")

	v.SetDefault("scan.tcp_timeout", 3*time.Second)
	v.SetDefault("scan.http_timeout", 3*time.Second)
	v.SetDefault("scan.meta_timeout", 5*time.Second)
	v.SetDefault("scan.retries", 1)
	v.SetDefault("scan.retry_delay", 500*time.Millisecond)
	v.SetDefault("scan.concurrency", 32)
	v.SetDefault("scan.interval", time.Duration(0))

	v.SetDefault("discovery.port_min", 8201)
	v.SetDefault("discovery.port_max", 8299)
	v.SetDefault("discovery.timeout", 2*time.Second)
	v.SetDefault("discovery.concurrency", 20)

	v.SetDefault("ota.timeout", 120*time.Second)
	v.SetDefault("ota.chunk_size", 4096)

	v.SetDefault("storage.uploads_dir", "uploads")
	v.SetDefault("storage.builds_dir", "builds")

	v.SetDefault("tools.esphome", "esphome")
	v.SetDefault("tools.arduino_cli", "arduino-cli")
	v.SetDefault("tools.platformio", "pio")

	v.SetDefault("registry.seed_file", "")
}

// Load reads config.yml from dir (missing file is fine), then applies env overrides.
func Load(dir string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(dir)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, envPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.DDNSHost == "":
		return errors.New("ddns_host must not be empty")
	case c.Discover.PortMin > c.Discover.PortMax:
		return fmt.Errorf("discovery.port_min %d > port_max %d", c.Discover.PortMin, c.Discover.PortMax)
	case c.OTA.Timeout <= 0:
		return errors.New("ota.timeout must be positive")
	case c.Scan.TCPTimeout <= 0 || c.Scan.HTTPTimeout <= 0:
		return errors.New("scan timeouts must be positive")
	case c.Scan.TCPTimeout >= c.OTA.Timeout:
		return errors.New("scan.tcp_timeout must be shorter than ota.timeout")
	}
	return nil
}
