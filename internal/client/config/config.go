package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"

	"github.com/driftsync/driftsync/internal/utils"
	"github.com/driftsync/driftsync/internal/version"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".driftsync", "config.json")
	DefaultDataDir    = filepath.Join(home, "DriftSync")
	DefaultServerURL  = "http://localhost:8080"
)

const (
	ProtocolLog   = "log"
	ProtocolIndex = "index"
)

type Config struct {
	DataDir   string `json:"data_dir"`
	ServerURL string `json:"server_url"`
	Protocol  string `json:"protocol"`
	NodeID    string `json:"node_id"`
	Path      string `json:"-"`
}

func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.Path = path
	return &cfg, nil
}

// Validate applies defaults and stamps a stable node id if the config does
// not carry one yet.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	dataDir, err := utils.ResolvePath(c.DataDir)
	if err != nil {
		return fmt.Errorf("resolve data_dir: %w", err)
	}
	c.DataDir = dataDir

	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	if c.Protocol == "" {
		c.Protocol = ProtocolLog
	}
	if c.Protocol != ProtocolLog && c.Protocol != ProtocolIndex {
		return fmt.Errorf("unknown protocol %q", c.Protocol)
	}
	if c.NodeID == "" {
		c.NodeID = defaultNodeID()
	}
	return nil
}

// defaultNodeID derives a stable per-machine id. Falls back to a random
// uuid when the machine id is unavailable (containers, stripped-down VMs).
func defaultNodeID() string {
	if id, err := machineid.ProtectedID(version.AppName); err == nil {
		return id[:16]
	}
	host, _ := os.Hostname()
	if host == "" {
		host = "node"
	}
	return host + "-" + uuid.NewString()[:8]
}
