package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Gates.MinEvidenceLinks)
	assert.Equal(t, 1440, cfg.Auth.TokenTTLMinutes)
	assert.Equal(t, "/api", cfg.Server.BasePath)
	assert.Equal(t, 500, cfg.Copilot.SearchExcerptChars)
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("gates:\n  min_evidence_links: 5\nlog:\n  level: debug\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Gates.MinEvidenceLinks)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, DefaultSecretKey, cfg.Auth.SecretKey)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"zero evidence": "gates:\n  min_evidence_links: 0\n",
		"bad level":     "log:\n  level: loud\n",
		"bad format":    "log:\n  format: xml\n",
		"empty secret":  "auth:\n  secret_key: \"\"\n",
		"base path":     "server:\n  base_path: api\n",
		"hook url":      "webhooks:\n  - events: [issue_created]\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptionalWithoutFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Database.Workspace)

	_, err = Load(dir)
	assert.Error(t, err)
}

func TestLoadFromWorkspace(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plcgate.yml"), []byte(GenerateDefault()), 0o644))
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
}
