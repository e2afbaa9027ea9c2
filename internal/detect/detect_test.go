package detect

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/janekbaraniewski/apiusage/internal/core"
	"github.com/janekbaraniewski/apiusage/internal/credentials"
)

type mapVault map[core.ServiceKind]string

func (m mapVault) Get(kind core.ServiceKind) (string, error) { return m[kind], nil }

type brokenVault struct{}

func (brokenVault) Get(core.ServiceKind) (string, error) { return "", errors.New("no secret service") }

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestScan_EnvKeys(t *testing.T) {
	res := Scan(Options{
		Getenv: env(map[string]string{
			"FIRECRAWL_API_KEY": "fc-1234567890",
			"SERPAPI_KEY":       "serp-first",
			"SERP_API_KEY":      "serp-second",
		}),
		HomeDir: t.TempDir(),
		GOOS:    "linux",
	})

	if got := res.EnvKeys[core.ServiceFirecrawl]; got != "fc-1234567890" {
		t.Errorf("firecrawl key = %q", got)
	}
	if got := res.EnvKeys[core.ServiceSerpAPI]; got != "serp-first" {
		t.Errorf("serpapi key = %q, want first match", got)
	}
	if len(res.Findings) != 2 {
		t.Fatalf("findings = %+v", res.Findings)
	}
	enabled := res.Config.EnabledServices()
	if len(enabled) != 2 || enabled[0] != core.ServiceFirecrawl || enabled[1] != core.ServiceSerpAPI {
		t.Errorf("enabled = %v", enabled)
	}
	for kind, svc := range res.Config.Services {
		if svc.APIKey != "" {
			t.Errorf("%s: proposed config carries a key", kind)
		}
	}
}

func TestScan_Keyring(t *testing.T) {
	res := Scan(Options{
		Getenv:  env(nil),
		HomeDir: t.TempDir(),
		GOOS:    "linux",
		Vault:   mapVault{core.ServiceSerpAPI: "from-keychain"},
	})
	if len(res.Findings) != 1 || res.Findings[0].Source != SourceKeyring {
		t.Fatalf("findings = %+v", res.Findings)
	}
	if !res.Config.Services[core.ServiceSerpAPI].Enabled {
		t.Error("serpapi should be enabled")
	}

	res = Scan(Options{Getenv: env(nil), HomeDir: t.TempDir(), GOOS: "linux", Vault: brokenVault{}})
	if len(res.Findings) != 0 {
		t.Errorf("unavailable keyring produced findings: %+v", res.Findings)
	}
}

func TestScan_BrowserPreference(t *testing.T) {
	home := t.TempDir()
	support := filepath.Join(home, "Library", "Application Support")
	for _, dir := range []string{filepath.Join(support, "Claude"), filepath.Join(support, "Google", "Chrome")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(support, "Claude", "Cookies"), nil, 0o600); err != nil {
		t.Fatal(err)
	}

	res := Scan(Options{Getenv: env(nil), HomeDir: home, GOOS: "darwin"})
	if len(res.Findings) != 1 {
		t.Fatalf("findings = %+v", res.Findings)
	}
	claude := res.Config.Services[core.ServiceClaudeWork]
	if !claude.Enabled || claude.Browser != credentials.DesktopBrowser {
		t.Errorf("claude_work = %+v, want desktop cookies", claude)
	}
	if _, ok := res.Config.Services[core.ServiceClaudePrivate]; ok {
		t.Error("private account should not be guessed")
	}
}

func TestScan_ProposedConfigValidates(t *testing.T) {
	home := t.TempDir()
	if err := os.MkdirAll(filepath.Join(home, ".config", "chromium"), 0o755); err != nil {
		t.Fatal(err)
	}
	res := Scan(Options{
		Getenv:  env(map[string]string{"FIRECRAWL_API_KEY": "fc-abc"}),
		HomeDir: home,
		GOOS:    "linux",
	})
	if err := res.Config.Validate(); err != nil {
		t.Fatalf("proposed config invalid: %v", err)
	}
	if got := res.Config.Services[core.ServiceClaudeWork].Browser; got != "chromium" {
		t.Errorf("browser = %q", got)
	}
}

func TestSummary(t *testing.T) {
	if got := (Result{}).Summary(); !strings.Contains(got, "No credentials found") {
		t.Errorf("empty summary = %q", got)
	}
	r := Result{Findings: []Finding{{Service: core.ServiceFirecrawl, Source: SourceEnv, Detail: "FIRECRAWL_API_KEY"}}}
	if got := r.Summary(); !strings.Contains(got, "firecrawl via env (FIRECRAWL_API_KEY)") {
		t.Errorf("summary = %q", got)
	}
}

func TestMask(t *testing.T) {
	if got := mask("short"); got != "****" {
		t.Errorf("mask(short) = %q", got)
	}
	if got := mask("fc-1234567890"); got != "fc-1...7890" {
		t.Errorf("mask = %q", got)
	}
}
