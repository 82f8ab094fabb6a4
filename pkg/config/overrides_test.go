package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routecodex/routecodex/pkg/types"
)

func TestLoadLocalOverrides_MissingFileIsNotAnError(t *testing.T) {
	o, err := LoadLocalOverrides(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Nil(t, o.HTTPServer)
}

func TestLoadLocalOverrides_ParsesHTTPServerBlock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte("httpServer:\n  host: 0.0.0.0\n  port: 9090\n  apiKey: local-dev-key\n"), 0o600))

	o, err := LoadLocalOverrides(path)
	require.NoError(t, err)
	require.NotNil(t, o.HTTPServer)
	assert.Equal(t, "0.0.0.0", o.HTTPServer.Host)
	assert.Equal(t, 9090, o.HTTPServer.Port)
	assert.Equal(t, "local-dev-key", o.HTTPServer.APIKey)
}

func TestLoadLocalOverrides_MalformedFileErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid yaml"), 0o600))

	_, err := LoadLocalOverrides(path)
	require.Error(t, err)
}

func TestLocalOverrides_Apply_OnlyOverridesNonZeroFields(t *testing.T) {
	rc := types.RuntimeConfig{HTTPServer: types.HTTPServerConfig{Host: "127.0.0.1", Port: 8080, APIKey: "orig-key"}}
	o := &LocalOverrides{HTTPServer: &types.HTTPServerConfig{Port: 9090}}

	out := o.Apply(rc)
	assert.Equal(t, "127.0.0.1", out.HTTPServer.Host)
	assert.Equal(t, 9090, out.HTTPServer.Port)
	assert.Equal(t, "orig-key", out.HTTPServer.APIKey)
}

func TestLocalOverrides_Apply_NilOverridesIsNoop(t *testing.T) {
	rc := types.RuntimeConfig{HTTPServer: types.HTTPServerConfig{Port: 8080}}
	var o *LocalOverrides
	assert.Equal(t, rc, o.Apply(rc))
}
