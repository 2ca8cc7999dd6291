package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"github.com/manus-ai/secret-resolver/pkg/types"
)

// EnvPrefix prefixes environment overrides, e.g. RESOLVER_RESOLVER_ENDPOINT.
const EnvPrefix = "RESOLVER"

// Config holds all configuration for the resolver client and server
type Config struct {
	// The payment node the client acts for
	Node NodeConfig `mapstructure:"node"`

	// Resolver client configuration
	Resolver ResolverConfig `mapstructure:"resolver"`

	// Reference resolver server configuration
	Server ServerConfig `mapstructure:"server"`

	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// NodeConfig holds the node parameters forwarded to the resolver
type NodeConfig struct {
	// Address of the node, sent as payment_recipient
	Address       string `mapstructure:"address"`
	RevealTimeout uint64 `mapstructure:"reveal_timeout"`
	SettleTimeout uint64 `mapstructure:"settle_timeout"`
}

// NodeAddress returns the configured node address, or the zero address.
func (n NodeConfig) NodeAddress() common.Address {
	return common.HexToAddress(n.Address)
}

// ResolverConfig holds the resolver client configuration
type ResolverConfig struct {
	// Endpoint of the external resolver. Empty disables resolution.
	Endpoint       string        `mapstructure:"endpoint"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Enabled reports whether a resolver endpoint is configured.
func (r ResolverConfig) Enabled() bool {
	return r.Endpoint != ""
}

// ServerConfig holds the reference resolver server configuration
type ServerConfig struct {
	ListenAddress string `mapstructure:"listen_address"`
	// Algorithm used to key the preimage table
	HashAlgorithm string   `mapstructure:"hash_algorithm"`
	Preimages     []string `mapstructure:"preimages"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

// MetricsConfig holds prometheus configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.secret-resolver")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Node defaults
	v.SetDefault("node.address", "")
	v.SetDefault("node.reveal_timeout", 50)
	v.SetDefault("node.settle_timeout", 500)

	// Resolver client defaults
	v.SetDefault("resolver.endpoint", "")
	v.SetDefault("resolver.request_timeout", "10s")

	// Reference server defaults
	v.SetDefault("server.listen_address", "localhost:8000")
	v.SetDefault("server.hash_algorithm", "sha256")
	v.SetDefault("server.preimages", []string{"deadbeef"})
	v.SetDefault("server.read_timeout", "5s")
	v.SetDefault("server.write_timeout", "5s")
	v.SetDefault("server.max_body_bytes", 64*1024)

	v.SetDefault("metrics.enabled", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Node.RevealTimeout == 0 {
		return errorsmod.Wrap(types.ErrInvalidConfig, "node.reveal_timeout must be positive")
	}
	if config.Node.SettleTimeout <= config.Node.RevealTimeout {
		return errorsmod.Wrap(types.ErrInvalidConfig, "node.settle_timeout must be greater than node.reveal_timeout")
	}
	if config.Node.Address != "" && !common.IsHexAddress(config.Node.Address) {
		return errorsmod.Wrapf(types.ErrInvalidConfig, "node.address %q is not a hex address", config.Node.Address)
	}

	if err := config.ValidateResolver(); err != nil {
		return err
	}
	if config.Resolver.RequestTimeout <= 0 {
		return errorsmod.Wrap(types.ErrInvalidConfig, "resolver.request_timeout must be positive")
	}

	if _, err := types.ParseHashAlgorithm(config.Server.HashAlgorithm); err != nil {
		return errorsmod.Wrap(types.ErrInvalidConfig, err.Error())
	}
	if config.Server.MaxBodyBytes <= 0 {
		return errorsmod.Wrap(types.ErrInvalidConfig, "server.max_body_bytes must be positive")
	}

	return nil
}

// ValidateResolver checks the settings the resolver client depends on. It is
// a no-op while no endpoint is configured.
func (c *Config) ValidateResolver() error {
	if !c.Resolver.Enabled() {
		return nil
	}

	u, err := url.Parse(c.Resolver.Endpoint)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return errorsmod.Wrapf(types.ErrInvalidConfig, "resolver.endpoint %q is not an http(s) URL", c.Resolver.Endpoint)
	}
	// the node is the payment recipient in every resolution request
	if c.Node.Address == "" {
		return errorsmod.Wrap(types.ErrInvalidConfig, "node.address is required when resolver.endpoint is set")
	}

	return nil
}
