package server

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ulule/limiter/v3"
	"gopkg.in/yaml.v3"

	"github.com/driftsync/driftsync/internal/utils"
)

const (
	// ProtocolLog replicates through the ordered event log.
	ProtocolLog = "log"

	// ProtocolIndex serves the version/fingerprint polling protocol with
	// rename-on-conflict. One deployment runs exactly one protocol.
	ProtocolIndex = "index"
)

const DefaultAddr = ":8080"

type HTTPConfig struct {
	Addr     string `yaml:"addr"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type Config struct {
	HTTP     HTTPConfig `yaml:"http"`
	Protocol string     `yaml:"protocol"`

	// DataDir is the server's storage tree, the disk mirror of the
	// replicated state.
	DataDir string `yaml:"data_dir"`

	// DBPath holds the event log or server index database. Defaults to
	// a dot-directory inside DataDir so the tree walkers skip it.
	DBPath string `yaml:"db_path"`

	// NodeID is the origin id the server stamps on events produced by
	// its own storage observer.
	NodeID string `yaml:"node_id"`

	// RateLimit in ulule/limiter format, e.g. "300-M". Empty disables.
	RateLimit string `yaml:"rate_limit"`

	ScanInterval time.Duration `yaml:"scan_interval"`
	PullInterval time.Duration `yaml:"pull_interval"`
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate applies defaults and checks the config.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultAddr
	}
	if c.Protocol == "" {
		c.Protocol = ProtocolLog
	}
	if c.Protocol != ProtocolLog && c.Protocol != ProtocolIndex {
		return fmt.Errorf("unknown protocol %q", c.Protocol)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	dataDir, err := utils.ResolvePath(c.DataDir)
	if err != nil {
		return fmt.Errorf("resolve data_dir: %w", err)
	}
	c.DataDir = dataDir

	if c.DBPath == "" {
		name := "events.db"
		if c.Protocol == ProtocolIndex {
			name = "index.db"
		}
		c.DBPath = filepath.Join(c.DataDir, ".driftsync", name)
	}
	if c.NodeID == "" {
		c.NodeID = "server"
	}
	if c.RateLimit != "" {
		if _, err := limiter.NewRateFromFormatted(c.RateLimit); err != nil {
			return fmt.Errorf("invalid rate_limit %q: %w", c.RateLimit, err)
		}
	}
	return nil
}

// StatePath is where the server's own replica engine persists its cursor
// and known paths.
func (c *Config) StatePath() string {
	return filepath.Join(c.DataDir, ".driftsync", "state.json")
}
