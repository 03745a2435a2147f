package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".driftsync", "config.json")

	cfg := &Config{
		DataDir:   "/tmp/driftsync-test",
		ServerURL: "http://example.test:9000",
		Protocol:  ProtocolIndex,
		NodeID:    "node-123",
	}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.DataDir, loaded.DataDir)
	assert.Equal(t, cfg.ServerURL, loaded.ServerURL)
	assert.Equal(t, cfg.Protocol, loaded.Protocol)
	assert.Equal(t, cfg.NodeID, loaded.NodeID)
	assert.Equal(t, path, loaded.Path)
}

func TestConfig_ValidateAppliesDefaults(t *testing.T) {
	cfg := &Config{DataDir: t.TempDir()}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultServerURL, cfg.ServerURL)
	assert.Equal(t, ProtocolLog, cfg.Protocol)
	assert.NotEmpty(t, cfg.NodeID)

	// An explicit node id is never replaced.
	pinned := &Config{DataDir: cfg.DataDir, NodeID: "pinned"}
	require.NoError(t, pinned.Validate())
	assert.Equal(t, "pinned", pinned.NodeID)
}

func TestConfig_ValidateRejectsUnknownProtocol(t *testing.T) {
	cfg := &Config{DataDir: t.TempDir(), Protocol: "carrier-pigeon"}
	assert.Error(t, cfg.Validate())
}
