// Package config provides configuration structures and loading for the
// proxytun-dial command line forwarder.
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/relaywire/proxytun/internal/logger"
)

var errInvalidConfigFile = errors.New("invalid config file")

// timeoutConfig holds the timeout settings applied to every dial through
// the configured proxy chain.
type timeoutConfig struct {
	DialTimeout int `toml:"dialTimeout"` // overall proxy-chain connect timeout, in seconds
}

// Config is the complete configuration for one proxytun-dial instance: a
// local listen address, the ordered proxy chain to tunnel through, and the
// fixed destination every accepted connection is forwarded to.
type Config struct {
	Listen      string        `toml:"listen"`      // local address to accept connections on
	Destination string        `toml:"destination"` // "host:port" every accepted connection is forwarded to
	ProxyChain  []string      `toml:"proxyChain"`  // ordered proxy URLs, e.g. ["socks5://user:pass@p1:1080", "http://p2:8080"]
	Timeout     timeoutConfig `toml:"timeout"`
}

var (
	cfg         *Config
	loadingOnce sync.Once
)

// Get loads and returns the configuration at path. It uses sync.Once so
// repeated calls load the file exactly once; a load failure is fatal,
// matching the teacher's config-loading convention.
func Get(path string) *Config {
	loadingOnce.Do(func() {
		var err error
		if cfg, err = load(path); err != nil {
			logger.Fatal(errors.Join(errInvalidConfigFile, err))
		}
	})
	return cfg
}

func load(path string) (*Config, error) {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	c.applyDefaultValues()
	return &c, nil
}

func (c *Config) validate() error {
	var missing []string
	if len(c.Listen) < 1 {
		missing = append(missing, "listen")
	}
	if len(c.Destination) < 1 {
		missing = append(missing, "destination")
	}
	if len(c.ProxyChain) < 1 {
		missing = append(missing, "proxyChain")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c *Config) applyDefaultValues() {
	if c.Timeout.DialTimeout == 0 {
		c.Timeout.DialTimeout = 10
	}
}
