// Package config loads service configuration from defaults, an
// optional YAML file, and MESSAGERIE_* environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	NodeID  string        `mapstructure:"node_id"`
	Server  ServerConfig  `mapstructure:"server"`
	Broker  BrokerConfig  `mapstructure:"broker"`
	Store   StoreConfig   `mapstructure:"store"`
	Cache   CacheConfig   `mapstructure:"cache"`
	PKI     PKIConfig     `mapstructure:"pki"`
	Pump    PumpConfig    `mapstructure:"pump"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type BrokerConfig struct {
	URL          string `mapstructure:"url"`
	ConsumerName string `mapstructure:"consumer_name"`
}

type StoreConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MigrationsPath string `mapstructure:"migrations_path"`
}

// ConnString renders the postgres connection string.
func (c StoreConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

type CacheConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	URL          string        `mapstructure:"url"`
	TTL          time.Duration `mapstructure:"ttl"`
	MaxStaleness time.Duration `mapstructure:"max_staleness"`
}

// PKIConfig names the trust material. All three files must exist and
// parse at startup; there is no degraded mode without them.
type PKIConfig struct {
	CAFile   string `mapstructure:"ca_file"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

type PumpConfig struct {
	Workers          int           `mapstructure:"workers"`
	MaxApplyAttempts int           `mapstructure:"max_apply_attempts"`
	RetryBase        time.Duration `mapstructure:"retry_base"`
	RetryMax         time.Duration `mapstructure:"retry_max"`
}

// LoggingConfig carries one verbosity per component so a noisy pump
// can be quieted without losing query-path logs.
type LoggingConfig struct {
	Format             string `mapstructure:"format"`
	Level              string `mapstructure:"level"`
	LevelRequetes      string `mapstructure:"level_requetes"`
	LevelPompeMessages string `mapstructure:"level_pompe_messages"`
	LevelCommandes     string `mapstructure:"level_commandes"`
	LevelTransactions  string `mapstructure:"level_transactions"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("node_id", "messagerie-1")
	v.SetDefault("server.port", 8095)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("broker.url", "nats://localhost:4222")
	v.SetDefault("broker.consumer_name", "messagerie-pump")
	v.SetDefault("store.host", "localhost")
	v.SetDefault("store.port", 5432)
	v.SetDefault("store.database", "messagerie")
	v.SetDefault("store.user", "messagerie")
	v.SetDefault("store.password", "messagerie")
	v.SetDefault("store.ssl_mode", "disable")
	v.SetDefault("store.migrations_path", "migrations")
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.url", "redis://localhost:6379/0")
	v.SetDefault("cache.ttl", "1m")
	v.SetDefault("cache.max_staleness", "5m")
	v.SetDefault("pki.ca_file", "/etc/messagerie/pki/ca.pem")
	v.SetDefault("pki.cert_file", "/etc/messagerie/pki/cert.pem")
	v.SetDefault("pki.key_file", "/etc/messagerie/pki/key.pem")
	v.SetDefault("pump.workers", 4)
	v.SetDefault("pump.max_apply_attempts", 3)
	v.SetDefault("pump.retry_base", "100ms")
	v.SetDefault("pump.retry_max", "2s")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.level_requetes", "")
	v.SetDefault("logging.level_pompe_messages", "")
	v.SetDefault("logging.level_commandes", "")
	v.SetDefault("logging.level_transactions", "")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/messagerie")
	}

	// Environment variables override
	v.SetEnvPrefix("MESSAGERIE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.PKI.CAFile == "" || c.PKI.CertFile == "" || c.PKI.KeyFile == "" {
		return fmt.Errorf("pki.ca_file, pki.cert_file and pki.key_file are required")
	}
	if c.Pump.Workers <= 0 {
		return fmt.Errorf("pump.workers must be positive, got %d", c.Pump.Workers)
	}
	if c.Pump.MaxApplyAttempts <= 0 {
		return fmt.Errorf("pump.max_apply_attempts must be positive, got %d", c.Pump.MaxApplyAttempts)
	}
	return nil
}

// ComponentLevel resolves the verbosity for one component, falling back
// to the global level when no override is set.
func (c LoggingConfig) ComponentLevel(component string) string {
	override := map[string]string{
		"requetes":       c.LevelRequetes,
		"pompe_messages": c.LevelPompeMessages,
		"commandes":      c.LevelCommandes,
		"transactions":   c.LevelTransactions,
	}[component]
	if override != "" {
		return override
	}
	return c.Level
}
