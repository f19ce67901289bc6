package config

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"servercheck/internal/model"
	"servercheck/internal/storage"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("REFRESH_INTERVAL", "")
	t.Setenv("CRON_SPECS", "")
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "./data/servercheck.db", cfg.Store.DBPath)
	assert.Equal(t, 8080, cfg.APIPort)
	assert.Equal(t, model.Settings{RefreshInterval: 60, ProbeTimeoutMS: 3000}, cfg.Settings())
	assert.Equal(t, 64, cfg.Probe.MaxConcurrent)
	assert.True(t, cfg.Probe.PingPrivileged)
	assert.Empty(t, cfg.CronSpecs)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"STORE_BACKEND=S3\nS3_BUCKET=checks\nREFRESH_INTERVAL=0.5\nPROBE_TIMEOUT_MS=1500\nCRON_SPECS=0 */5 * * * *; ;0 0 2 * * *\nPING_PRIVILEGED=false\n",
	), 0644))
	for _, key := range []string{"STORE_BACKEND", "S3_BUCKET", "REFRESH_INTERVAL", "PROBE_TIMEOUT_MS", "CRON_SPECS", "PING_PRIVILEGED"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, "s3", cfg.Store.Backend)
	assert.Equal(t, "checks", cfg.Store.Bucket)
	assert.Equal(t, model.Settings{RefreshInterval: 0.5, ProbeTimeoutMS: 1500}, cfg.Settings())
	assert.Equal(t, []string{"0 */5 * * * *", "0 0 2 * * *"}, cfg.CronSpecs)
	assert.False(t, cfg.Probe.PingPrivileged)

	_, err = Load(filepath.Join(dir, "missing.env"))
	assert.Error(t, err)
}

const endpointYAML = `
groups:
  - name: 生产环境
    endpoints:
      - {name: 官网, type: HTTP, host: " example.com "}
      - {name: 数据库, type: tcp, host: 10.0.0.5, port: 5432}
  - endpoints:
      - {type: ping, host: 1.1.1.1}
`

func TestParseEndpoints(t *testing.T) {
	groups, err := ParseEndpoints([]byte(endpointYAML))
	require.NoError(t, err)
	require.Len(t, groups, 2)

	assert.Equal(t, "生产环境", groups[0].Name)
	require.Len(t, groups[0].Endpoints, 2)
	assert.Equal(t, model.CheckTypeHTTP, groups[0].Endpoints[0].Type)
	assert.Equal(t, "example.com", groups[0].Endpoints[0].Host)
	assert.Equal(t, 5432, groups[0].Endpoints[1].Port)
	assert.Equal(t, "Group 2", groups[1].Name)

	_, err = ParseEndpoints([]byte("groups: []"))
	assert.Error(t, err)
	_, err = ParseEndpoints([]byte("groups:\n  - endpoints:\n      - {type: smtp, host: a}\n"))
	assert.Error(t, err)
	_, err = ParseEndpoints([]byte("groups:\n  - endpoints:\n      - {type: tcp, host: ''}\n"))
	assert.Error(t, err)
}

func TestLoadEndpointFileFromDiskAndURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "endpoints.yaml")
	require.NoError(t, os.WriteFile(path, []byte(endpointYAML), 0644))

	groups, err := LoadEndpointFile(path)
	require.NoError(t, err)
	assert.Len(t, groups, 2)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/endpoints.yaml" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(endpointYAML))
	}))
	defer srv.Close()

	groups, err = LoadEndpointFile(srv.URL + "/endpoints.yaml")
	require.NoError(t, err)
	assert.Len(t, groups, 2)

	_, err = LoadEndpointFile(srv.URL + "/missing")
	assert.ErrorContains(t, err, "404")
}

func TestLoadSettingsFromStore(t *testing.T) {
	ctx := context.Background()
	st, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "servercheck.db"))
	require.NoError(t, err)
	defer st.Close()

	defaults := model.Settings{RefreshInterval: 30, ProbeTimeoutMS: 2000}
	got, err := LoadSettingsFromStore(ctx, st, defaults)
	require.NoError(t, err)
	assert.Equal(t, defaults, got)

	saved, err := st.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, defaults, saved)

	require.NoError(t, st.SaveSettings(ctx, model.Settings{RefreshInterval: 0}))
	got, err = LoadSettingsFromStore(ctx, st, defaults)
	require.NoError(t, err)
	assert.Equal(t, model.Settings{RefreshInterval: 0}, got)

	groups, err := LoadGroupsFromStore(ctx, st)
	require.NoError(t, err)
	assert.Nil(t, groups)
}
