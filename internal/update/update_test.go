package update

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func releaseZip(t *testing.T, topDir string, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(topDir + "/" + name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func testUpdater(t *testing.T, tag string, zipBody []byte) *Updater {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tag_name":"` + tag + `","zipball_url":"` + srv.URL + `/zipball"}`))
	})
	mux.HandleFunc("/zipball", func(w http.ResponseWriter, r *http.Request) {
		w.Write(zipBody)
	})

	base := t.TempDir()
	return &Updater{
		APIURL:      srv.URL + "/releases/latest",
		InstallDir:  filepath.Join(base, "labs"),
		VersionFile: filepath.Join(base, "version"),
	}
}

func TestRunInstallsNewRelease(t *testing.T) {
	body := releaseZip(t, "uprootnetworks-uproot-labs-abc123", map[string]string{
		"lab1/topology.yaml": "nodes: 4\n",
		"README.md":          "labs\n",
	})
	u := testUpdater(t, "v1.2.0", body)

	require.NoError(t, u.Run(context.Background()))

	assert.Equal(t, "v1.2.0", u.CurrentVersion())
	got, err := os.ReadFile(filepath.Join(u.InstallDir, "lab1", "topology.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "nodes: 4\n", string(got))
}

func TestRunReplacesOldInstall(t *testing.T) {
	body := releaseZip(t, "top", map[string]string{"new.txt": "new"})
	u := testUpdater(t, "v2.0.0", body)

	require.NoError(t, os.MkdirAll(u.InstallDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(u.InstallDir, "stale.txt"), []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(u.VersionFile, []byte("v1.0.0\n"), 0o644))

	require.NoError(t, u.Run(context.Background()))

	assert.Equal(t, "v2.0.0", u.CurrentVersion())
	_, err := os.Stat(filepath.Join(u.InstallDir, "stale.txt"))
	assert.True(t, os.IsNotExist(err), "stale file survived the update")
	_, err = os.Stat(filepath.Join(u.InstallDir, "new.txt"))
	assert.NoError(t, err)
}

func TestRunUpToDate(t *testing.T) {
	u := testUpdater(t, "v1.0.0", nil)
	require.NoError(t, os.WriteFile(u.VersionFile, []byte("v1.0.0\n"), 0o644))

	require.NoError(t, u.Run(context.Background()))

	// Nothing installed; the zipball was never needed.
	_, err := os.Stat(u.InstallDir)
	assert.True(t, os.IsNotExist(err))
}

func TestLatestReleaseAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	u := &Updater{APIURL: srv.URL}
	_, _, err := u.LatestRelease(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "rate limited")
}

func TestLatestReleaseMissingFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	u := &Updater{APIURL: srv.URL}
	_, _, err := u.LatestRelease(context.Background())
	require.Error(t, err)
}

func TestExtractRejectsTraversal(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("../escape.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	tmp := t.TempDir()
	zipPath := filepath.Join(tmp, "bad.zip")
	require.NoError(t, os.WriteFile(zipPath, buf.Bytes(), 0o644))

	err = extract(zipPath, filepath.Join(tmp, "out"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes")
}

func TestCurrentVersionMissingFile(t *testing.T) {
	u := &Updater{VersionFile: filepath.Join(t.TempDir(), "version")}
	assert.Equal(t, "", u.CurrentVersion())
}
