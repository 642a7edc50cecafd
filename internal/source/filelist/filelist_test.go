package filelist

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urlsentry/urlsentry/internal/source"
)

func writeList(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const sampleCSV = `hostname,port,path
evil.net,443,/trojan
Malware.example,80,/
phish.io,8080,/login
`

func newCSVSource(t *testing.T, path string) *Source {
	t.Helper()
	s, err := New(Options{Name: "local-csv", Path: path, Format: "csv"})
	require.NoError(t, err)
	require.NoError(t, s.Initialize(context.Background()))
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func TestNew_UnsupportedFormat(t *testing.T) {
	_, err := New(Options{Name: "bad", Path: "x.xml", Format: "xml"})
	require.Error(t, err)
	var ce *source.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Error(), "unsupported format")
}

func TestInitialize_MissingFileIsReadyAndEmpty(t *testing.T) {
	s, err := New(Options{Name: "gone", Path: filepath.Join(t.TempDir(), "nope.csv"), Format: "csv"})
	require.NoError(t, err)
	require.NoError(t, s.Initialize(context.Background()), "absence of a feed is not a service outage")
	assert.True(t, s.Ready())
	assert.Equal(t, 0, s.Size())

	v := s.Lookup(context.Background(), "evil.net", 443, "/trojan")
	assert.False(t, v.Malicious)
}

func TestInitialize_MalformedJSONIsConfigError(t *testing.T) {
	path := writeList(t, "bad.json", "{not json")
	s, err := New(Options{Name: "bad-json", Path: path, Format: "json"})
	require.NoError(t, err)
	err = s.Initialize(context.Background())
	require.Error(t, err)
	var ce *source.ConfigError
	assert.ErrorAs(t, err, &ce)
	assert.False(t, s.Ready())
}

func TestLookup_ExactMatch(t *testing.T) {
	s := newCSVSource(t, writeList(t, "list.csv", sampleCSV))

	v := s.Lookup(context.Background(), "evil.net", 443, "/trojan")
	assert.True(t, v.Malicious)
	assert.Equal(t, "malware", v.ThreatType)
	assert.Equal(t, source.LevelHigh, v.Level)
	assert.Equal(t, 1.0, v.Confidence)
	assert.Equal(t, "local-csv", v.DetectedBy)
	assert.Equal(t, 3, v.Metadata["database_size"])
}

func TestLookup_LenientHostPortMatch(t *testing.T) {
	s := newCSVSource(t, writeList(t, "list.csv", sampleCSV))

	// Same hostname and port with a different path still matches.
	v := s.Lookup(context.Background(), "evil.net", 443, "/other")
	assert.True(t, v.Malicious)
}

func TestLookup_CaseInsensitiveHostname(t *testing.T) {
	s := newCSVSource(t, writeList(t, "list.csv", sampleCSV))

	v := s.Lookup(context.Background(), "MALWARE.EXAMPLE", 80, "/")
	assert.True(t, v.Malicious)
}

func TestLookup_NoMatch(t *testing.T) {
	s := newCSVSource(t, writeList(t, "list.csv", sampleCSV))

	v := s.Lookup(context.Background(), "google.com", 80, "/")
	assert.False(t, v.Malicious)
	assert.Equal(t, source.LevelSafe, v.Level)
	assert.Equal(t, 0.0, v.Confidence)

	v = s.Lookup(context.Background(), "evil.net", 80, "/trojan")
	assert.False(t, v.Malicious, "different port must not match")
}

func TestLookup_EmptyPathDefaultsToSlash(t *testing.T) {
	s := newCSVSource(t, writeList(t, "list.csv", sampleCSV))

	v := s.Lookup(context.Background(), "malware.example", 80, "")
	assert.True(t, v.Malicious)
}

func TestLookup_BeforeInitialize(t *testing.T) {
	s, err := New(Options{Name: "cold", Path: "whatever.csv", Format: "csv"})
	require.NoError(t, err)

	v := s.Lookup(context.Background(), "evil.net", 443, "/")
	assert.False(t, v.Malicious)
	assert.Equal(t, "source not ready", v.Metadata["error"])
}

func TestJSONFormats(t *testing.T) {
	asArray := `[{"hostname":"evil.net","port":443,"path":"/trojan"}]`
	asObject := `{"urls":[{"hostname":"evil.net","port":"443","path":"/trojan"}]}`

	for name, content := range map[string]string{"array": asArray, "object": asObject} {
		path := writeList(t, name+".json", content)
		s, err := New(Options{Name: "json-" + name, Path: path, Format: "json"})
		require.NoError(t, err)
		require.NoError(t, s.Initialize(context.Background()))

		v := s.Lookup(context.Background(), "evil.net", 443, "/trojan")
		assert.True(t, v.Malicious, "format variant %s", name)
	}
}

func TestCSV_BadPortDefaultsTo80(t *testing.T) {
	path := writeList(t, "list.csv", "hostname,port,path\nevil.net,oops,/x\n")
	s := newCSVSource(t, path)

	v := s.Lookup(context.Background(), "evil.net", 80, "/x")
	assert.True(t, v.Malicious)
}

func TestCSV_RowsWithoutHostnameSkipped(t *testing.T) {
	path := writeList(t, "list.csv", "hostname,port,path\n,80,/\nevil.net,80,/\n")
	s := newCSVSource(t, path)
	assert.Equal(t, 1, s.Size())
}

func TestWatch_ReloadOnChange(t *testing.T) {
	path := writeList(t, "list.csv", "hostname,port,path\nold.evil,80,/\n")
	s, err := New(Options{Name: "watched", Path: path, Format: "csv", Watch: true})
	require.NoError(t, err)
	require.NoError(t, s.Initialize(context.Background()))
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	require.NoError(t, os.WriteFile(path, []byte("hostname,port,path\nnew.evil,80,/\n"), 0o644))

	assert.Eventually(t, func() bool {
		return s.Lookup(context.Background(), "new.evil", 80, "/").Malicious
	}, 3*time.Second, 20*time.Millisecond, "list should reload after file change")
}

func TestWatch_ReloadFailureKeepsLastGood(t *testing.T) {
	path := writeList(t, "list.json", `[{"hostname":"evil.net","port":80,"path":"/"}]`)
	s, err := New(Options{Name: "watched-json", Path: path, Format: "json", Watch: true})
	require.NoError(t, err)
	require.NoError(t, s.Initialize(context.Background()))
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))

	// Give the watcher a chance to observe the bad write, then verify the
	// previous data still serves.
	time.Sleep(200 * time.Millisecond)
	v := s.Lookup(context.Background(), "evil.net", 80, "/")
	assert.True(t, v.Malicious, "last-known-good data must survive a bad reload")
}

func TestShutdown_Idempotent(t *testing.T) {
	s := newCSVSource(t, writeList(t, "list.csv", sampleCSV))
	require.NoError(t, s.Shutdown(context.Background()))
	require.NoError(t, s.Shutdown(context.Background()))
	assert.False(t, s.Ready())
}
