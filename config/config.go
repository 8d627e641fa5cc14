package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

var (
	BackoffMaxElapsedTime time.Duration                = 5 * time.Minute
	Timeout               time.Duration                = 1000 * time.Millisecond
	GlobalConfigCallback  ConfigCallback[GlobalConfig] = ConfigCallback[GlobalConfig]{}
)

const (
	DefaultWorkers          = 1
	DefaultRetryAttempts    = 3
	DefaultRetryDelayMillis = 1000
	DefaultTokenCacheSize   = 4096
	DefaultMaxFileSize      = 10
)

type GlobalConfig interface {
	LoggerConfig() LoggerConfig
	ChainConfig() ChainConfig
}

type Config struct {
	DB      DBConfig      `toml:"db"`
	Logger  LoggerConfig  `toml:"logger"`
	Chain   ChainConfig   `toml:"chain"`
	Indexer IndexerConfig `toml:"indexer"`
	Router  RouterConfig  `toml:"router"`
}

type LoggerConfig struct {
	Level       string `toml:"level"` // valid values are: DEBUG, INFO, WARN, ERROR, DPANIC, PANIC, FATAL (zap)
	File        string `toml:"file"`
	MaxFileSize int    `toml:"max_file_size"` // In megabytes
	Console     bool   `toml:"console"`
}

type DBConfig struct {
	Host             string `toml:"host" envconfig:"DB_HOST"`
	Port             int    `toml:"port" envconfig:"DB_PORT"`
	Database         string `toml:"database" envconfig:"DB_DATABASE"`
	Username         string `toml:"username" envconfig:"DB_USERNAME"`
	Password         string `toml:"password" envconfig:"DB_PASSWORD"`
	LogQueries       bool   `toml:"log_queries"`
	DropTableAtStart bool   `toml:"drop_table_at_start"`
}

type ChainConfig struct {
	NodeURL       string `toml:"node_url" envconfig:"CHAIN_NODE_URL"`
	APIKey        string `toml:"api_key" envconfig:"CHAIN_API_KEY"`
	TimeoutMillis int    `toml:"timeout_millis"`
}

type IndexerConfig struct {
	FactoryAddress   string `toml:"factory_address" envconfig:"FACTORY_ADDRESS"`
	Workers          int    `toml:"workers"`
	RetryAttempts    int    `toml:"retry_attempts"`
	RetryDelayMillis int    `toml:"retry_delay_millis"`
	TokenCacheSize   int    `toml:"token_cache_size"`
	RepairSkipped    bool   `toml:"repair_skipped"`
	MetricsAddress   string `toml:"metrics_address" envconfig:"METRICS_ADDRESS"`
}

type RouterConfig struct {
	BaseToken string `toml:"base_token"`
	MaxHops   int    `toml:"max_hops"`
}

func newConfig() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:       "INFO",
			Console:     true,
			MaxFileSize: DefaultMaxFileSize,
		},
		Indexer: IndexerConfig{
			Workers:          DefaultWorkers,
			RetryAttempts:    DefaultRetryAttempts,
			RetryDelayMillis: DefaultRetryDelayMillis,
			TokenCacheSize:   DefaultTokenCacheSize,
			RepairSkipped:    true,
		},
	}
}

func BuildConfig(cfgFileName string) (*Config, error) {
	cfg := newConfig()
	err := ParseConfigFile(cfg, cfgFileName)
	if err != nil {
		return nil, err
	}

	// .env is optional, values already present in the environment take precedence
	err = godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	err = ReadEnv(cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func ParseConfigFile(cfg *Config, fileName string) error {
	content, err := os.ReadFile(fileName)
	if err != nil {
		return fmt.Errorf("error opening config file: %w", err)
	}

	_, err = toml.Decode(string(content), cfg)
	if err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}
	return nil
}

func ReadEnv(cfg interface{}) error {
	err := envconfig.Process("", cfg)
	if err != nil {
		return fmt.Errorf("error reading env config: %w", err)
	}
	return nil
}

// Validate checks the values the indexer cannot run without.
func (c *Config) Validate() error {
	if !common.IsHexAddress(c.Indexer.FactoryAddress) {
		return errors.Errorf("invalid factory address %q", c.Indexer.FactoryAddress)
	}
	if c.Indexer.Workers < 1 {
		return errors.Errorf("workers must be at least 1, got %d", c.Indexer.Workers)
	}
	if c.Indexer.RetryAttempts < 1 {
		return errors.Errorf("retry_attempts must be at least 1, got %d", c.Indexer.RetryAttempts)
	}
	if c.Router.BaseToken != "" && !common.IsHexAddress(c.Router.BaseToken) {
		return errors.Errorf("invalid base token address %q", c.Router.BaseToken)
	}
	if _, err := c.Chain.FullNodeURL(); err != nil {
		return err
	}
	return nil
}

func (c Config) LoggerConfig() LoggerConfig {
	return c.Logger
}

func (c Config) ChainConfig() ChainConfig {
	return c.Chain
}

func (cc ChainConfig) FullNodeURL() (*url.URL, error) {
	u, err := url.Parse(cc.NodeURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid node URL")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("invalid node URL %q", cc.NodeURL)
	}

	if cc.APIKey != "" {
		q := u.Query()
		q.Set("x-apikey", cc.APIKey)
		u.RawQuery = q.Encode()
	}

	return u, nil
}

func (cc ChainConfig) Timeout() time.Duration {
	if cc.TimeoutMillis <= 0 {
		return Timeout
	}
	return time.Duration(cc.TimeoutMillis) * time.Millisecond
}

func (ic IndexerConfig) Factory() common.Address {
	return common.HexToAddress(ic.FactoryAddress)
}

func (ic IndexerConfig) RetryDelay() time.Duration {
	return time.Duration(ic.RetryDelayMillis) * time.Millisecond
}
