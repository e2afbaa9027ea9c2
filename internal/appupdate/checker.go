// Package appupdate compares the running build with the newest published
// release so `apiusage version --check` can suggest an upgrade command.
package appupdate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/janekbaraniewski/apiusage/internal/version"
)

const (
	latestReleaseURL = "https://api.github.com/repos/janekbaraniewski/apiusage/releases/latest"
	requestTimeout   = 3 * time.Second
	binaryName       = "apiusage"
)

type InstallMethod string

const (
	InstallUnknown   InstallMethod = "unknown"
	InstallHomebrew  InstallMethod = "homebrew"
	InstallGoInstall InstallMethod = "go_install"
)

type Options struct {
	CurrentVersion string
	ExecutablePath string
	ReleaseURL     string
	HTTPClient     *http.Client
}

type Result struct {
	Current         string
	Latest          string
	UpdateAvailable bool
	Method          InstallMethod
	Hint            string
}

// Check looks up the latest release. Development builds are never compared
// and return an empty Latest without contacting the network.
func Check(ctx context.Context, opts Options) (Result, error) {
	current := releaseVersion(opts.CurrentVersion)
	method := installMethod(executable(opts.ExecutablePath))
	res := Result{Current: current, Method: method, Hint: upgradeHint(method)}
	if current == "" {
		return res, nil
	}

	latest, err := fetchLatest(ctx, opts)
	if err != nil {
		return res, err
	}
	res.Latest = latest
	res.UpdateAvailable = semver.Compare(latest, current) > 0
	return res, nil
}

func fetchLatest(ctx context.Context, opts Options) (string, error) {
	url := strings.TrimSpace(opts.ReleaseURL)
	if url == "" {
		url = latestReleaseURL
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build release request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", binaryName+"/"+version.Version)
	if token := strings.TrimSpace(os.Getenv("GITHUB_TOKEN")); token != "" && strings.HasPrefix(url, "https://api.github.com/") {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch latest release: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch latest release: HTTP %d", resp.StatusCode)
	}

	var payload struct {
		TagName string `json:"tag_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode release: %w", err)
	}
	latest := releaseVersion(payload.TagName)
	if latest == "" {
		return "", fmt.Errorf("latest release tag %q is not a stable version", payload.TagName)
	}
	return latest, nil
}

func executable(explicit string) string {
	path := strings.TrimSpace(explicit)
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return ""
		}
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		path = exe
	}
	return strings.ToLower(filepath.ToSlash(filepath.Clean(path)))
}

func installMethod(path string) InstallMethod {
	switch {
	case path == "" || path == ".":
		return InstallUnknown
	case strings.Contains(path, "/cellar/"+binaryName+"/"):
		return InstallHomebrew
	case strings.HasSuffix(path, "/go/bin/"+binaryName), strings.HasSuffix(path, "/go/bin/"+binaryName+".exe"):
		return InstallGoInstall
	}
	if gobin := strings.TrimSpace(os.Getenv("GOBIN")); gobin != "" {
		dir := strings.ToLower(filepath.ToSlash(filepath.Clean(gobin)))
		if strings.TrimSuffix(path, ".exe") == dir+"/"+binaryName {
			return InstallGoInstall
		}
	}
	return InstallUnknown
}

func upgradeHint(method InstallMethod) string {
	switch method {
	case InstallHomebrew:
		return "brew upgrade " + binaryName
	case InstallGoInstall:
		return "go install github.com/janekbaraniewski/apiusage/cmd/apiusage@latest"
	default:
		return "download the latest release from https://github.com/janekbaraniewski/apiusage/releases"
	}
}

// releaseVersion returns v-prefixed semver for stable releases and "" for
// anything else, pre-releases included.
func releaseVersion(value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) || semver.Prerelease(v) != "" || semver.Build(v) != "" {
		return ""
	}
	return semver.Canonical(v)
}
