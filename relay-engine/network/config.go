package network

import "time"

// Config defines configuration for a relay node.
type Config struct {
	Host              string        `json:"host"`
	Port              int           `json:"port"`
	Channel           string        `json:"channel"`
	MaxConnections    int           `json:"max_connections"`
	Timeout           time.Duration `json:"timeout"`
	AutoExpand        bool          `json:"auto_expand"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	StaleTimeout      time.Duration `json:"stale_timeout"`
	SeenTTL           time.Duration `json:"seen_ttl"`
	SeenMaxEntries    int           `json:"seen_max_entries"`
	RateLimit         float64       `json:"rate_limit"`
	RateBurst         int           `json:"rate_burst"`
	DialWorkers       int           `json:"dial_workers"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:              "127.0.0.1",
		Port:              4444,
		Channel:           "main",
		MaxConnections:    10,
		Timeout:           30 * time.Second,
		AutoExpand:        false,
		HeartbeatInterval: 5 * time.Second,
		StaleTimeout:      30 * time.Second,
		SeenTTL:           10 * time.Minute,
		SeenMaxEntries:    100000,
		RateLimit:         100,
		RateBurst:         200,
		DialWorkers:       4,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Host == "" {
		c.Host = def.Host
	}
	if c.Channel == "" {
		c.Channel = def.Channel
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = def.MaxConnections
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.StaleTimeout <= 0 {
		c.StaleTimeout = def.StaleTimeout
	}
	if c.SeenTTL <= 0 {
		c.SeenTTL = def.SeenTTL
	}
	if c.SeenMaxEntries <= 0 {
		c.SeenMaxEntries = def.SeenMaxEntries
	}
	if c.RateLimit <= 0 {
		c.RateLimit = def.RateLimit
	}
	if c.RateBurst <= 0 {
		c.RateBurst = def.RateBurst
	}
	if c.DialWorkers <= 0 {
		c.DialWorkers = def.DialWorkers
	}
	return c
}
