package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urlsentry/urlsentry/internal/config"
)

func writeMalwareList(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "malware.csv")
	content := "hostname,port,path\nevil.net,443,/trojan\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newRunningServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	cfg.Server.Addr = "127.0.0.1:0"
	srv, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

func TestServer_EndToEnd(t *testing.T) {
	cfg := config.Default()
	cfg.Sources = []config.SourceConfig{
		{Name: "local", Type: "file", Path: writeMalwareList(t), Format: "csv"},
	}
	srv := newRunningServer(t, cfg)

	base := "http://" + srv.Addr()

	resp, err := http.Get(base + "/urlinfo/1/evil.net:443/trojan")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		URL            string   `json:"url"`
		IsMalicious    bool     `json:"is_malicious"`
		ThreatLevel    string   `json:"threat_level"`
		SourcesQueried []string `json:"sources_queried"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.IsMalicious)
	assert.Equal(t, "high", body.ThreatLevel)
	assert.Equal(t, []string{"local"}, body.SourcesQueried)

	for _, path := range []string{"/health", "/readyz", "/metrics", "/urlinfo/health"} {
		r, err := http.Get(base + path)
		require.NoError(t, err, path)
		assert.Equal(t, http.StatusOK, r.StatusCode, path)
		r.Body.Close()
	}
}

func TestServer_NoSourcesServesDegraded(t *testing.T) {
	srv := newRunningServer(t, config.Default())
	base := "http://" + srv.Addr()

	resp, err := http.Get(base + "/urlinfo/1/example.com:80/x")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "lookups degrade, they do not fail")

	ready, err := http.Get(base + "/readyz")
	require.NoError(t, err)
	ready.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, ready.StatusCode)
}

func TestServer_ShutdownReleasesPort(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	srv, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))

	addr := srv.Addr()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	_, err = http.Get(fmt.Sprintf("http://%s/health", addr))
	assert.Error(t, err, "stopped server must not accept connections")
}

func TestBuildSources(t *testing.T) {
	sources, err := BuildSources([]config.SourceConfig{
		{Name: "list", Type: "file", Path: "x.csv", Format: "csv"},
		{Name: "api", Type: "http", URL: "http://intel.example", Method: "GET"},
	}, nil)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "list", sources[0].Name())
	assert.Equal(t, "api", sources[1].Name())
}

func TestBuildSources_BadConfig(t *testing.T) {
	_, err := BuildSources([]config.SourceConfig{
		{Name: "bad", Type: "file", Path: "x.xml", Format: "xml"},
	}, nil)
	require.Error(t, err)

	_, err = BuildSources([]config.SourceConfig{
		{Name: "odd", Type: "carrier-pigeon"},
	}, nil)
	require.Error(t, err)
}

func TestNew_DuplicateSourceNames(t *testing.T) {
	cfg := config.Default()
	cfg.Sources = []config.SourceConfig{
		{Name: "dup", Type: "file", Path: "a.csv", Format: "csv"},
		{Name: "dup", Type: "file", Path: "b.csv", Format: "csv"},
	}
	_, err := New(cfg, nil)
	require.Error(t, err)
}
