package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/asaidimu/go-syncstore/config"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, "./data", cfg.RootDir)
	require.Equal(t, 4, cfg.PoolSize)
	require.Equal(t, 64, cfg.PolicyMaxDepth)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "syncstore.yaml")
	content := `
root_dir: /tmp/syncstore-data
pool_size: 8
policy_max_depth: 32
namespaces:
  - name: acme
    schemas:
      - collection: note
        schema_json: '{"type":"object"}'
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/syncstore-data", cfg.RootDir)
	require.Equal(t, 8, cfg.PoolSize)
	require.Equal(t, 32, cfg.PolicyMaxDepth)
	require.Len(t, cfg.Namespaces, 1)
	require.Equal(t, "acme", cfg.Namespaces[0].Name)
}

func TestValidateRejectsDuplicateNamespaces(t *testing.T) {
	cfg := &config.Config{
		RootDir:        "./data",
		PoolSize:       1,
		PolicyMaxDepth: 1,
		Namespaces: []config.NamespaceConfig{
			{Name: "acme"},
			{Name: "acme"},
		},
	}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsBadPoolSize(t *testing.T) {
	cfg := &config.Config{RootDir: "./data", PoolSize: 0, PolicyMaxDepth: 1}
	require.Error(t, cfg.Validate())
}
