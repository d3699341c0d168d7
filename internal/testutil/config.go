// Package testutil holds helpers shared by package tests.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gaborage/e2e-gateway/config"
)

// Config loads the default configuration, isolated from the process
// environment and any config.yaml or .env in the working directory.
// yaml, when non-empty, is applied on top of the defaults.
func Config(t *testing.T, yaml string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Load(config.Options{
		File:    filepath.Join(dir, "missing.yaml"),
		DotEnv:  filepath.Join(dir, "missing.env"),
		YAML:    []byte(yaml),
		Environ: func() []string { return nil },
	})
	require.NoError(t, err)
	return cfg
}
