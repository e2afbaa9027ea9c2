package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/janekbaraniewski/apiusage/internal/core"
)

const (
	MinRefreshMinutes = 1
	MaxRefreshMinutes = 60
	MinThreshold      = 50.0
	MaxThreshold      = 100.0
)

// SupportedBrowsers lists the cookie stores a session-based service may read.
var SupportedBrowsers = []string{
	"chrome", "chromium", "brave", "edge", "opera", "vivaldi", "helium", "firefox", "safari", "claude-desktop",
}

type ServiceConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	Label        string `json:"label,omitempty" yaml:"label,omitempty"`
	Browser      string `json:"browser,omitempty" yaml:"browser,omitempty"`
	ProfilePath  string `json:"profile_path,omitempty" yaml:"profile_path,omitempty"`
	Organization string `json:"organization,omitempty" yaml:"organization,omitempty"`
	APIKey       string `json:"api_key,omitempty" yaml:"api_key,omitempty"` // runtime only, stripped before persisting
	ResetDay     int    `json:"reset_day,omitempty" yaml:"reset_day,omitempty"`
	BaseURL      string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
}

// Settings returns the adapter-facing view of the service config.
func (s ServiceConfig) Settings(kind core.ServiceKind) core.ServiceSettings {
	resetDay := s.ResetDay
	if resetDay == 0 {
		if spec, ok := core.SpecFor(kind); ok {
			resetDay = spec.DefaultResetDay
		}
	}
	return core.ServiceSettings{
		Label:        s.Label,
		Organization: s.Organization,
		ResetDay:     resetDay,
		BaseURL:      s.BaseURL,
	}
}

func (s ServiceConfig) BrowserOrDefault() string {
	if b := strings.ToLower(strings.TrimSpace(s.Browser)); b != "" {
		return b
	}
	return "chrome"
}

// Config is an immutable snapshot; Manager swaps whole values on each push.
type Config struct {
	RefreshIntervalMinutes int                                `json:"refresh_interval_minutes" yaml:"refresh_interval_minutes"`
	LegacyRefreshSeconds   int                                `json:"refresh_interval,omitempty" yaml:"refresh_interval,omitempty"`
	WarningThreshold       float64                            `json:"warning_threshold" yaml:"warning_threshold"`
	CriticalThreshold      float64                            `json:"critical_threshold" yaml:"critical_threshold"`
	Services               map[core.ServiceKind]ServiceConfig `json:"services" yaml:"services"`
}

func DefaultConfig() Config {
	return Config{
		RefreshIntervalMinutes: 5,
		WarningThreshold:       75,
		CriticalThreshold:      90,
		Services:               map[core.ServiceKind]ServiceConfig{},
	}
}

func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalMinutes) * time.Minute
}

func (c Config) Clone() Config {
	out := c
	out.Services = maps.Clone(c.Services)
	if out.Services == nil {
		out.Services = map[core.ServiceKind]ServiceConfig{}
	}
	return out
}

// EnabledServices returns enabled kinds in stable order.
func (c Config) EnabledServices() []core.ServiceKind {
	var out []core.ServiceKind
	for _, kind := range core.AllServiceKinds() {
		if svc, ok := c.Services[kind]; ok && svc.Enabled {
			out = append(out, kind)
		}
	}
	return out
}

// Redacted drops every credential value so the result is safe to persist or echo.
func (c Config) Redacted() Config {
	out := c.Clone()
	for kind, svc := range out.Services {
		svc.APIKey = ""
		out.Services[kind] = svc
	}
	return out
}

// normalize folds legacy fields into their current form.
func (c Config) normalize() Config {
	out := c.Clone()
	if out.RefreshIntervalMinutes == 0 && out.LegacyRefreshSeconds > 0 {
		out.RefreshIntervalMinutes = max(1, (out.LegacyRefreshSeconds+59)/60)
	}
	out.LegacyRefreshSeconds = 0
	for kind, svc := range out.Services {
		svc.Browser = strings.ToLower(strings.TrimSpace(svc.Browser))
		svc.Label = strings.TrimSpace(svc.Label)
		out.Services[kind] = svc
	}
	return out
}

// Validate reports every out-of-range field at once.
func (c Config) Validate() error {
	verr := &core.ValidationError{}
	if c.RefreshIntervalMinutes < MinRefreshMinutes || c.RefreshIntervalMinutes > MaxRefreshMinutes {
		verr.Add("refresh_interval_minutes", "must be between %d and %d, got %d",
			MinRefreshMinutes, MaxRefreshMinutes, c.RefreshIntervalMinutes)
	}
	if c.WarningThreshold < MinThreshold || c.WarningThreshold > MaxThreshold {
		verr.Add("warning_threshold", "must be between %v and %v, got %v", MinThreshold, MaxThreshold, c.WarningThreshold)
	}
	if c.CriticalThreshold < MinThreshold || c.CriticalThreshold > MaxThreshold {
		verr.Add("critical_threshold", "must be between %v and %v, got %v", MinThreshold, MaxThreshold, c.CriticalThreshold)
	}
	if c.CriticalThreshold < c.WarningThreshold {
		verr.Add("critical_threshold", "must be >= warning_threshold (%v), got %v", c.WarningThreshold, c.CriticalThreshold)
	}

	kinds := slices.Sorted(maps.Keys(c.Services))
	for _, kind := range kinds {
		svc := c.Services[kind]
		field := "services." + string(kind)
		if !kind.Valid() {
			verr.Add(field, "unknown service")
			continue
		}
		if svc.ResetDay != 0 && (svc.ResetDay < 1 || svc.ResetDay > 31) {
			verr.Add(field+".reset_day", "must be between 1 and 31, got %d", svc.ResetDay)
		}
		if svc.Browser != "" && !slices.Contains(SupportedBrowsers, strings.ToLower(svc.Browser)) {
			verr.Add(field+".browser", "unsupported browser %q", svc.Browser)
		}
		if svc.Browser != "" && kind.Auth() != core.AuthKindSessionCookie {
			verr.Add(field+".browser", "only session-based services read browser cookies")
		}
	}
	return verr.OrNil()
}

// Decode parses a config document over the defaults. Fields absent from the
// document keep their default values.
func Decode(data []byte, format Format) (Config, error) {
	cfg := DefaultConfig()
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &cfg)
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		err = dec.Decode(&cfg)
	}
	if err != nil {
		return DefaultConfig(), err
	}
	if cfg.Services == nil {
		cfg.Services = map[core.ServiceKind]ServiceConfig{}
	}
	return cfg.normalize(), nil
}

func Encode(cfg Config, format Format) ([]byte, error) {
	if format == FormatYAML {
		return yaml.Marshal(cfg)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatForPath picks YAML for .yaml/.yml files and JSON otherwise.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

func ConfigDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "apiusage")
	}
	if base := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); base != "" {
		return filepath.Join(base, "apiusage")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "apiusage")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// LoadFrom reads and validates the config file. A missing file yields defaults.
func LoadFrom(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return DefaultConfig(), fmt.Errorf("reading config: %w", err)
	}
	// Older installs may have left the file world-readable.
	_ = os.Chmod(path, 0o600)

	cfg, err := Decode(data, FormatForPath(path))
	if err != nil {
		return DefaultConfig(), fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return DefaultConfig(), fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// SaveTo persists the redacted config atomically with owner-only permissions.
func SaveTo(path string, cfg Config) ([]byte, error) {
	data, err := Encode(cfg.Redacted(), FormatForPath(path))
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	if err := writeFileAtomic(path, data, 0o600); err != nil {
		return nil, err
	}
	return data, nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp config: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp config: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replacing config: %w", err)
	}
	return nil
}
