// Package config loads relay node configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/VanDung-dev/HieraChain-Relay/relay-engine/discovery"
	"github.com/VanDung-dev/HieraChain-Relay/relay-engine/logx"
	"github.com/VanDung-dev/HieraChain-Relay/relay-engine/network"
)

// FileName is the config file looked up under <base>/config.
const FileName = "relay.yml"

type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second" validate:"gt=0"`
	Burst     int     `yaml:"burst" validate:"gte=1"`
}

type DiscoveryConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Bootstrap []string `yaml:"bootstrap" validate:"dive,required"`
	MDNS      bool     `yaml:"mdns"`
}

type AdminConfig struct {
	// Address serves HTTP admin routes. Empty disables them.
	Address string `yaml:"address" validate:"omitempty,hostname_port"`
	// GRPCAddress serves the gRPC health service. Empty disables it.
	GRPCAddress string `yaml:"grpc_address" validate:"omitempty,hostname_port"`
}

// MainConfig is the relay node configuration file.
type MainConfig struct {
	Host                string          `yaml:"host" validate:"required"`
	Port                int             `yaml:"port" validate:"gte=0,lte=65535"`
	Channel             string          `yaml:"channel" validate:"required"`
	MaxConnections      int             `yaml:"max_connections" validate:"gte=1"`
	TimeoutMS           int             `yaml:"timeout_ms" validate:"gte=1"`
	AutoExpand          bool            `yaml:"auto_expand"`
	HeartbeatIntervalMS int             `yaml:"heartbeat_interval_ms" validate:"gte=1"`
	StaleTimeoutMS      int             `yaml:"stale_timeout_ms" validate:"gtfield=HeartbeatIntervalMS"`
	SeenTTLMS           int             `yaml:"seen_ttl_ms" validate:"gte=1"`
	SeenMaxEntries      int             `yaml:"seen_max_entries" validate:"gte=1"`
	RateLimit           RateLimitConfig `yaml:"rate_limit"`
	Discovery           DiscoveryConfig `yaml:"discovery"`
	Admin               AdminConfig     `yaml:"admin"`
	Log                 logx.Config     `yaml:"log"`
}

// Default returns the configuration used when no file is present.
func Default() MainConfig {
	return MainConfig{
		Host:                "127.0.0.1",
		Port:                4444,
		Channel:             "main",
		MaxConnections:      10,
		TimeoutMS:           30000,
		AutoExpand:          false,
		HeartbeatIntervalMS: 5000,
		StaleTimeoutMS:      30000,
		SeenTTLMS:           600000,
		SeenMaxEntries:      100000,
		RateLimit: RateLimitConfig{
			PerSecond: 100,
			Burst:     200,
		},
		Admin: AdminConfig{
			Address: ":9464",
		},
		Log: logx.Config{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads and validates the file at path. A missing file yields the
// defaults; fields absent from the file keep their default values.
func Load(path string) (*MainConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadMainConfig loads <basePath>/config/relay.yml. An empty basePath
// means the executable's directory.
func LoadMainConfig(basePath string) (*MainConfig, error) {
	if basePath == "" {
		exePath, err := os.Executable()
		if err != nil {
			return nil, err
		}
		basePath = filepath.Dir(exePath)
	}
	return Load(filepath.Join(basePath, "config", FileName))
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		c := sl.Current().Interface().(MainConfig)
		// Discovery listens on port-1, so it needs a fixed port of at least 2.
		if c.Discovery.Enabled && c.Port < 2 {
			sl.ReportError(c.Port, "Port", "Port", "discovery_port", "")
		}
	}, MainConfig{})
	return v
}

// Validate checks field constraints and cross-field rules.
func (c MainConfig) Validate() error {
	return validate.Struct(c)
}

// NodeConfig converts the file settings into a network.Config.
func (c MainConfig) NodeConfig() network.Config {
	return network.Config{
		Host:              c.Host,
		Port:              c.Port,
		Channel:           c.Channel,
		MaxConnections:    c.MaxConnections,
		Timeout:           ms(c.TimeoutMS),
		AutoExpand:        c.AutoExpand,
		HeartbeatInterval: ms(c.HeartbeatIntervalMS),
		StaleTimeout:      ms(c.StaleTimeoutMS),
		SeenTTL:           ms(c.SeenTTLMS),
		SeenMaxEntries:    c.SeenMaxEntries,
		RateLimit:         c.RateLimit.PerSecond,
		RateBurst:         c.RateLimit.Burst,
	}
}

// DiscoveryConfig returns the discovery settings for a node on servicePort.
func (c MainConfig) DiscoveryConfig(servicePort int) discovery.Config {
	dc := discovery.DefaultConfig(servicePort)
	dc.Host = c.Host
	dc.Channel = c.Channel
	dc.Bootstrap = c.Discovery.Bootstrap
	dc.MDNS = c.Discovery.MDNS
	return dc
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
