// Package update fetches the latest lab content release from GitHub and
// installs it under the uproot home directory.
package update

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/uprootnetworks/uproot/internal/config"
	"github.com/uprootnetworks/uproot/internal/log"
)

// ReleaseAPI is the GitHub latest-release endpoint for the lab content.
const ReleaseAPI = "https://api.github.com/repos/uprootnetworks/uproot-labs/releases/latest"

const (
	apiTimeout      = 30 * time.Second
	downloadTimeout = 60 * time.Second
)

// Updater checks for and installs lab content releases.
type Updater struct {
	// APIURL overrides ReleaseAPI (tests).
	APIURL string
	// InstallDir receives the release contents. Config and journal files
	// live outside it and survive updates.
	InstallDir string
	// VersionFile records the installed release tag.
	VersionFile string

	client *http.Client
}

// New returns an Updater rooted in the uproot home directory.
func New() *Updater {
	base := config.BaseDir()
	return &Updater{
		APIURL:      ReleaseAPI,
		InstallDir:  filepath.Join(base, "labs"),
		VersionFile: filepath.Join(base, "version"),
		client:      &http.Client{},
	}
}

// CurrentVersion reads the installed release tag, or "" when no release
// has been installed yet.
func (u *Updater) CurrentVersion() string {
	b, err := os.ReadFile(u.VersionFile)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

type release struct {
	TagName    string `json:"tag_name"`
	ZipballURL string `json:"zipball_url"`
}

// LatestRelease queries GitHub for the newest release tag and zipball.
func (u *Updater) LatestRelease(ctx context.Context) (version, zipURL string, err error) {
	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.APIURL, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := u.httpClient().Do(req)
	if err != nil {
		return "", "", fmt.Errorf("querying GitHub releases: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("GitHub API error %d: %s", resp.StatusCode, readExcerpt(resp.Body))
	}
	var rel release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return "", "", fmt.Errorf("decoding release metadata: %w", err)
	}
	if rel.TagName == "" || rel.ZipballURL == "" {
		return "", "", fmt.Errorf("release metadata missing tag_name or zipball_url")
	}
	return rel.TagName, rel.ZipballURL, nil
}

// Run checks for a newer release and installs it when found.
func (u *Updater) Run(ctx context.Context) error {
	current := u.CurrentVersion()
	if current == "" {
		log.Info("no installed version found")
	} else {
		log.Info("installed version", "version", current)
	}

	latest, zipURL, err := u.LatestRelease(ctx)
	if err != nil {
		return err
	}
	if current == latest {
		log.Info("already up to date", "version", current)
		return nil
	}

	log.Info("newer release available", "version", latest)
	if err := u.install(ctx, zipURL); err != nil {
		return err
	}
	if err := os.WriteFile(u.VersionFile, []byte(latest+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing version file: %w", err)
	}
	log.Info("update complete", "version", latest)
	return nil
}

func (u *Updater) install(ctx context.Context, zipURL string) error {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	log.Info("downloading release", "url", zipURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, zipURL, nil)
	if err != nil {
		return err
	}
	resp, err := u.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("downloading release: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status %d: %s", resp.StatusCode, readExcerpt(resp.Body))
	}

	tmp, err := os.MkdirTemp("", "uproot_update_")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	zipPath := filepath.Join(tmp, "release.zip")
	f, err := os.Create(zipPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return fmt.Errorf("saving release zip: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	extractDir := filepath.Join(tmp, "extract")
	if err := extract(zipPath, extractDir); err != nil {
		return err
	}

	// GitHub zipballs wrap everything in <owner>-<repo>-<sha>/.
	src, err := singleTopDir(extractDir)
	if err != nil {
		return err
	}

	log.Info("installing release", "dir", u.InstallDir)
	if err := os.RemoveAll(u.InstallDir); err != nil {
		return fmt.Errorf("clearing install dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(u.InstallDir), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, u.InstallDir); err != nil {
		// Rename fails across filesystems; fall back to a copy.
		if err := copyTree(src, u.InstallDir); err != nil {
			return fmt.Errorf("installing release: %w", err)
		}
	}
	return nil
}

func extract(zipPath, dest string) error {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("opening release zip: %w", err)
	}
	defer zr.Close()

	for _, zf := range zr.File {
		target := filepath.Join(dest, filepath.Clean(zf.Name))
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("zip entry escapes extraction dir: %s", zf.Name)
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		rc, err := zf.Open()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, zf.Mode().Perm()|0o600)
		if err != nil {
			rc.Close()
			return err
		}
		_, err = io.Copy(out, rc)
		rc.Close()
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("extracting %s: %w", zf.Name, err)
		}
	}
	return nil
}

func singleTopDir(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	if len(dirs) != 1 {
		return "", fmt.Errorf("unexpected zip layout: %d top-level directories", len(dirs))
	}
	return filepath.Join(dir, dirs[0]), nil
}

func copyTree(src, dest string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	})
}

func (u *Updater) httpClient() *http.Client {
	if u.client == nil {
		u.client = &http.Client{}
	}
	return u.client
}

func readExcerpt(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 300))
	return strings.TrimSpace(string(b))
}
