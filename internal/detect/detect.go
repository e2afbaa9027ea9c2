// Package detect inspects the workstation for credentials the daemon can
// use and proposes a starting configuration from what it finds.
package detect

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"

	"github.com/janekbaraniewski/apiusage/internal/config"
	"github.com/janekbaraniewski/apiusage/internal/core"
	"github.com/janekbaraniewski/apiusage/internal/credentials"
)

type Source string

const (
	SourceEnv     Source = "env"
	SourceKeyring Source = "keyring"
	SourceBrowser Source = "browser"
)

// Finding is one usable credential location for a service.
type Finding struct {
	Service core.ServiceKind
	Source  Source
	Detail  string // env var name, keyring service or browser name
}

type Result struct {
	Findings []Finding
	// EnvKeys holds secrets found in the environment so the caller can
	// offer to move them into the keychain. They never reach Config.
	EnvKeys map[core.ServiceKind]string
	Config  config.Config
}

// Options replaces process state in tests.
type Options struct {
	Getenv  func(string) string
	HomeDir string
	GOOS    string
	Vault   credentials.Vault
	Log     *zap.Logger
}

var envKeys = []struct {
	EnvVar  string
	Service core.ServiceKind
}{
	{"FIRECRAWL_API_KEY", core.ServiceFirecrawl},
	{"SERPAPI_API_KEY", core.ServiceSerpAPI},
	{"SERPAPI_KEY", core.ServiceSerpAPI},
	{"SERP_API_KEY", core.ServiceSerpAPI},
}

// Scan looks at environment variables, the keychain and browser profile
// directories. The proposed config enables every service with a finding.
func Scan(opts Options) Result {
	opts = withDefaults(opts)
	res := Result{EnvKeys: map[core.ServiceKind]string{}, Config: config.DefaultConfig()}

	detectEnvKeys(&res, opts)
	detectKeyring(&res, opts)
	detectBrowser(&res, opts)

	for _, f := range res.Findings {
		svc := res.Config.Services[f.Service]
		svc.Enabled = true
		if f.Source == SourceBrowser && svc.Browser == "" {
			svc.Browser = f.Detail
		}
		res.Config.Services[f.Service] = svc
	}
	return res
}

func withDefaults(opts Options) Options {
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	if opts.HomeDir == "" {
		opts.HomeDir, _ = os.UserHomeDir()
	}
	if opts.GOOS == "" {
		opts.GOOS = runtime.GOOS
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return opts
}

func (r *Result) add(f Finding) {
	for _, existing := range r.Findings {
		if existing.Service == f.Service && existing.Source == f.Source {
			return
		}
	}
	r.Findings = append(r.Findings, f)
}

func detectEnvKeys(res *Result, opts Options) {
	for _, m := range envKeys {
		val := strings.TrimSpace(opts.Getenv(m.EnvVar))
		if val == "" {
			continue
		}
		if _, seen := res.EnvKeys[m.Service]; seen {
			continue
		}
		opts.Log.Debug("detect_env_key", zap.String("service", string(m.Service)), zap.String("env", m.EnvVar), zap.String("key", mask(val)))
		res.EnvKeys[m.Service] = val
		res.add(Finding{Service: m.Service, Source: SourceEnv, Detail: m.EnvVar})
	}
}

func detectKeyring(res *Result, opts Options) {
	if opts.Vault == nil {
		return
	}
	for _, kind := range core.AllServiceKinds() {
		secret, err := opts.Vault.Get(kind)
		if err != nil {
			opts.Log.Debug("detect_keyring_unavailable", zap.Error(err))
			return
		}
		if strings.TrimSpace(secret) != "" {
			res.add(Finding{Service: kind, Source: SourceKeyring, Detail: credentials.DefaultKeyringService})
		}
	}
}

// detectBrowser proposes the work Claude account only. A second account
// needs a profile path the scan cannot guess.
func detectBrowser(res *Result, opts Options) {
	if opts.HomeDir == "" {
		return
	}
	for _, b := range browserStores(opts.GOOS, opts.HomeDir) {
		if _, err := os.Stat(b.path); err == nil {
			opts.Log.Debug("detect_browser", zap.String("browser", b.name), zap.String("path", b.path))
			res.add(Finding{Service: core.ServiceClaudeWork, Source: SourceBrowser, Detail: b.name})
			return
		}
	}
}

type browserStore struct {
	name string
	path string
}

// browserStores lists cookie stores in preference order; the desktop app
// comes first because it is the most likely to hold a live session.
func browserStores(goos, home string) []browserStore {
	switch goos {
	case "darwin":
		support := filepath.Join(home, "Library", "Application Support")
		return []browserStore{
			{credentials.DesktopBrowser, filepath.Join(support, "Claude", "Cookies")},
			{"chrome", filepath.Join(support, "Google", "Chrome")},
			{"brave", filepath.Join(support, "BraveSoftware", "Brave-Browser")},
			{"edge", filepath.Join(support, "Microsoft Edge")},
			{"firefox", filepath.Join(support, "Firefox", "Profiles")},
		}
	case "linux":
		cfg := filepath.Join(home, ".config")
		return []browserStore{
			{"chrome", filepath.Join(cfg, "google-chrome")},
			{"chromium", filepath.Join(cfg, "chromium")},
			{"brave", filepath.Join(cfg, "BraveSoftware", "Brave-Browser")},
			{"firefox", filepath.Join(home, ".mozilla", "firefox")},
		}
	default:
		return nil
	}
}

func mask(val string) string {
	if len(val) < 10 {
		return "****"
	}
	return val[:4] + "..." + val[len(val)-4:]
}

// Summary renders the findings for the terminal.
func (r Result) Summary() string {
	if len(r.Findings) == 0 {
		return "No credentials found. Edit the config and enable services manually.\n"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d credential source(s):\n", len(r.Findings))
	for _, f := range r.Findings {
		fmt.Fprintf(&sb, "  • %s via %s (%s)\n", f.Service, f.Source, f.Detail)
	}
	return sb.String()
}
