// Package config loads the TOML client configuration: account credentials,
// the set of data centers to dial, an optional SOCKS5 proxy, and
// debug-tunable protocol knobs.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Account holds the API credentials issued out of band for this client
// application.
type Account struct {
	APIID   int32
	APIHash string
}

// DataCenter is one entry of the `[[DataCenter]]` array: an endpoint the
// sender pool may dial, plus whether it is a CDN-only DC (no authorization
// key export).
type DataCenter struct {
	ID    int32
	Addr  string
	IsCDN bool `toml:"is_cdn"`
}

// Proxy is the optional SOCKS5 proxy every transport dial is routed
// through, in the shape transport.NewSOCKS5Dialer takes (address plus
// optional username/password).
type Proxy struct {
	Addr     string
	Username string
	Password string
}

// Debug holds the tunable protocol knobs: gzip threshold,
// container batching limits, and the Sender keepalive interval.
type Debug struct {
	CompressionThreshold int `toml:"compression_threshold"`
	MaxContainerSize     int `toml:"max_container_size"`
	PingIntervalSeconds  int `toml:"ping_interval_seconds"`
}

// Config is the root of a client's TOML configuration file.
type Config struct {
	Account    Account
	DataCenter []DataCenter
	Proxy      Proxy
	Debug      Debug
}

// defaults fill any Debug field a decoded file leaves at zero. mtproto does
// not read CompressionThreshold or MaxContainerSize: a Session applies its
// own constants from mtproto/constants.go (a 500-byte gzip threshold,
// containers of at most 100 messages and 1 MiB) whatever these are set to.
const (
	defaultCompressionThreshold = 1024
	defaultMaxContainerSize     = 1020
	defaultPingIntervalSeconds  = 60
)

// FromFile decodes the TOML file at path into a Config, applying the Debug
// defaults for any field the file left at zero.
func FromFile(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Debug.CompressionThreshold == 0 {
		c.Debug.CompressionThreshold = defaultCompressionThreshold
	}
	if c.Debug.MaxContainerSize == 0 {
		c.Debug.MaxContainerSize = defaultMaxContainerSize
	}
	if c.Debug.PingIntervalSeconds == 0 {
		c.Debug.PingIntervalSeconds = defaultPingIntervalSeconds
	}
}

func (c *Config) validate() error {
	if len(c.DataCenter) == 0 {
		return fmt.Errorf("config: at least one [[DataCenter]] entry is required")
	}
	seen := make(map[int32]bool, len(c.DataCenter))
	for _, dc := range c.DataCenter {
		if dc.Addr == "" {
			return fmt.Errorf("config: data center %d has no address", dc.ID)
		}
		if seen[dc.ID] {
			return fmt.Errorf("config: duplicate data center id %d", dc.ID)
		}
		seen[dc.ID] = true
	}
	return nil
}

// DataCenterByID returns the configured DataCenter entry, if any.
func (c *Config) DataCenterByID(id int32) (DataCenter, bool) {
	for _, dc := range c.DataCenter {
		if dc.ID == id {
			return dc, true
		}
	}
	return DataCenter{}, false
}
