package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	xlog "github.com/yoyo3287258/wol-gateway/internal/log"
)

const releaseOwner = "yoyo3287258"

// Updater replaces the running binary with the latest GitHub release.
type Updater struct {
	owner   string
	repo    string
	apiBase string
	client  *http.Client
	logger  zerolog.Logger
}

// NewUpdater creates an updater for owner/repo.
func NewUpdater(owner, repo string) *Updater {
	return &Updater{
		owner:   owner,
		repo:    repo,
		apiBase: "https://api.github.com",
		client:  &http.Client{Timeout: 5 * time.Minute},
		logger:  xlog.WithComponent("updater"),
	}
}

// GitHubRelease is the part of the releases API the updater reads.
type GitHubRelease struct {
	TagName string `json:"tag_name"`
	Name    string `json:"name"`
	Assets  []struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
	} `json:"assets"`
}

// LatestRelease returns the latest tag and the download URL of the asset for
// this platform.
func (u *Updater) LatestRelease(ctx context.Context) (version string, downloadURL string, err error) {
	apiURL := fmt.Sprintf("%s/repos/%s/%s/releases/latest", u.apiBase, u.owner, u.repo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := u.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", "", fmt.Errorf("GitHub API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var release GitHubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return "", "", fmt.Errorf("decode release: %w", err)
	}

	assetName := assetName(u.repo, runtime.GOOS, runtime.GOARCH)
	for _, asset := range release.Assets {
		if strings.EqualFold(asset.Name, assetName) {
			return release.TagName, asset.BrowserDownloadURL, nil
		}
	}

	return "", "", fmt.Errorf("release %s has no asset %s", release.TagName, assetName)
}

func assetName(repo, goos, goarch string) string {
	ext := ""
	if goos == "windows" {
		ext = ".exe"
	}
	return fmt.Sprintf("%s-%s-%s%s", repo, goos, goarch, ext)
}

// DownloadAndReplace downloads the asset and swaps it in for the running binary.
func (u *Updater) DownloadAndReplace(ctx context.Context, downloadURL string) error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return err
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	return u.replace(execPath, resp.Body)
}

// replace writes r next to path and renames it over path.
func (u *Updater) replace(path string, r io.Reader) error {
	pendingFile, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o755))
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() {
		if err := pendingFile.Cleanup(); err != nil {
			u.logger.Debug().Err(err).Msg("cleanup pending file")
		}
	}()

	written, err := io.Copy(pendingFile, r)
	if err != nil {
		return fmt.Errorf("write new binary: %w", err)
	}

	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}

	u.logger.Info().
		Str(xlog.FieldEvent, "update.replaced").
		Str("path", path).
		Int64("bytes", written).
		Msg("binary replaced")
	return nil
}

func doSelfUpdate(ctx context.Context) error {
	logger := xlog.WithComponent("updater")
	logger.Info().Str(xlog.FieldEvent, "update.check").Msg("checking for updates")

	updater := NewUpdater(releaseOwner, serviceName)

	latest, downloadURL, err := updater.LatestRelease(ctx)
	if err != nil {
		return fmt.Errorf("fetch latest release: %w", err)
	}

	if latest == Version {
		logger.Info().Str("version", Version).Msg("already up to date")
		return nil
	}

	logger.Info().
		Str(xlog.FieldEvent, "update.available").
		Str("current", Version).
		Str("latest", latest).
		Str("url", downloadURL).
		Msg("new version found")

	if err := updater.DownloadAndReplace(ctx, downloadURL); err != nil {
		return fmt.Errorf("install update: %w", err)
	}

	logger.Info().Str(xlog.FieldEvent, "update.done").Msg("update complete, restart to use the new version")
	return nil
}
