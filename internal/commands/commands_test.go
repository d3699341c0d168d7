package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/e2e-gateway/internal/testutil"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := NewVersionCommand("v1.2.3")
	cmd.SetOut(&out)
	cmd.SetArgs(nil)

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "gateway version v1.2.3\nBuilt with "+runtime.Version()+" "+runtime.GOOS+"/"+runtime.GOARCH+"\n", out.String())
}

func TestRootCommandWiring(t *testing.T) {
	root := NewRootCommand("dev")

	names := make([]string, 0, len(root.Commands()))
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "probe", "version"})
	assert.Equal(t, "config.yaml", root.PersistentFlags().Lookup("config").DefValue)
}

func TestServeFailsOnInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("retry:\n  maxretries: 99\n"), 0o600))

	root := NewRootCommand("dev")
	root.SetArgs([]string{"serve", "--config", file, "--env-file", filepath.Join(dir, "none.env")})
	root.SetOut(&bytes.Buffer{})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestRunProbe(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	t.Run("all connected", func(t *testing.T) {
		cfg := testutil.Config(t, "")
		cfg.Backend.URL = up.URL
		cfg.Worker.URL = up.URL

		var out bytes.Buffer
		require.NoError(t, runProbe(context.Background(), cfg, nil, &out))

		var report map[string]any
		require.NoError(t, json.Unmarshal(out.Bytes(), &report))
		assert.Equal(t, "connected", report["status"])
	})

	t.Run("worker down", func(t *testing.T) {
		cfg := testutil.Config(t, "")
		cfg.Backend.URL = up.URL
		cfg.Worker.URL = down.URL

		var out bytes.Buffer
		err := runProbe(context.Background(), cfg, nil, &out)
		require.EqualError(t, err, "upstreams disconnected")
		assert.Contains(t, out.String(), `"worker"`)
	})
}
