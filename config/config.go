// Package config holds the job file read by pmesh run.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/notargets/ddcmesh/comm"
)

// Transports understood by Comm.Transport
const (
	TransportLocal     = "local"
	TransportWebSocket = "websocket"
)

type Mesh struct {
	// Basename of the partition files, as passed to partitions.Read
	Basename string `toml:"basename"`
}

type Comm struct {
	Transport string `toml:"transport"`
	// Peers lists host:port for every rank, in rank order
	Peers                 []string `toml:"peers"`
	Path                  string   `toml:"path"`
	ConnectTimeoutSeconds int      `toml:"connect_timeout_seconds"`
	// NParts is the in-process world size for the local transport
	NParts int `toml:"nparts"`
}

type Log struct {
	Level    string `toml:"level"`
	AllRanks bool   `toml:"all_ranks"`
}

// Config is a decoded job file
type Config struct {
	Mesh Mesh `toml:"mesh"`
	Comm Comm `toml:"comm"`
	Log  Log  `toml:"log"`
}

// Default returns a serial local job with info logging from Root
func Default() *Config {
	return &Config{
		Comm: Comm{
			Transport:             TransportLocal,
			Path:                  comm.DefaultPath,
			ConnectTimeoutSeconds: 30,
			NParts:                1,
		},
		Log: Log{Level: "info"},
	}
}

// Load reads and validates a job file
func Load(path string) (*Config, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	cfg, err := Decode(bufio.NewReader(fp))
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Decode reads a job file over Default; keys it does not know are errors
func Decode(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := toml.NewDecoder(r).DisallowUnknownFields().Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("unknown keys:\n%s", strict.String())
		}
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields against each other
func (c *Config) Validate() error {
	if c.Mesh.Basename == "" {
		return errors.New("mesh.basename is required")
	}
	switch c.Comm.Transport {
	case TransportLocal:
		if c.Comm.NParts < 1 {
			return fmt.Errorf("comm.nparts = %d, need at least 1", c.Comm.NParts)
		}
	case TransportWebSocket:
		if len(c.Comm.Peers) == 0 {
			return errors.New("comm.peers is empty")
		}
		seen := make(map[string]int, len(c.Comm.Peers))
		for r, p := range c.Comm.Peers {
			if q, dup := seen[p]; dup {
				return fmt.Errorf("comm.peers: ranks %d and %d both use %s", q, r, p)
			}
			seen[p] = r
		}
		if c.Comm.ConnectTimeoutSeconds < 0 {
			return fmt.Errorf("comm.connect_timeout_seconds = %d", c.Comm.ConnectTimeoutSeconds)
		}
	default:
		return fmt.Errorf("comm.transport %q: want %q or %q", c.Comm.Transport, TransportLocal, TransportWebSocket)
	}
	if _, err := comm.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// Size is the number of ranks the job runs on
func (c *Config) Size() int {
	if c.Comm.Transport == TransportWebSocket {
		return len(c.Comm.Peers)
	}
	return c.Comm.NParts
}

// ConnectTimeout is comm.connect_timeout_seconds as a duration
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Comm.ConnectTimeoutSeconds) * time.Second
}
