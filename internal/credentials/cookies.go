package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/browserutils/kooky"
	_ "github.com/browserutils/kooky/browser/all" // register every supported browser
	"github.com/browserutils/kooky/browser/chrome"
	"github.com/browserutils/kooky/browser/firefox"
)

const claudeDomain = "claude.ai"

// heliumCookies is the default Helium store relative to the home directory.
// kooky has no finder for Helium, so it is read as a plain Chromium file.
var heliumCookies = filepath.Join(".config", "net.imput.helium", "Default", "Cookies")

// BrowserCookies reads claude.ai cookies from installed browsers via kooky.
type BrowserCookies struct {
	// Stores lists candidate cookie stores. Nil uses kooky's registered finders.
	Stores func(context.Context) kooky.CookieStoreSeq
}

func (b BrowserCookies) Cookies(ctx context.Context, browser, profilePath string) (map[string]string, error) {
	filters := []kooky.Filter{kooky.Valid, kooky.DomainHasSuffix(claudeDomain)}

	if profilePath == "" && strings.EqualFold(browser, "helium") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("reading helium cookies: %w", err)
		}
		profilePath = filepath.Join(home, heliumCookies)
	}

	var (
		found []*kooky.Cookie
		err   error
	)
	if profilePath != "" {
		found, err = readProfile(ctx, browser, profilePath, filters)
	} else {
		found, err = b.readStores(ctx, browser, filters)
	}
	// kooky reports per-store errors alongside whatever it could read.
	if len(found) == 0 && err != nil {
		return nil, fmt.Errorf("reading %s cookies: %w", browser, err)
	}
	return jarFrom(found)
}

// readStores opens only the stores that belong to browser. Reading every
// store would touch each installed browser's keychain entry.
func (b BrowserCookies) readStores(ctx context.Context, browser string, filters []kooky.Filter) ([]*kooky.Cookie, error) {
	traverse := b.Stores
	if traverse == nil {
		traverse = kooky.TraverseCookieStores
	}

	var (
		found   []*kooky.Cookie
		errs    []error
		matched int
	)
	for store, err := range traverse(ctx) {
		if err != nil || store == nil {
			continue
		}
		if !strings.EqualFold(store.Browser(), browser) {
			_ = store.Close()
			continue
		}
		matched++
		cookies, err := store.TraverseCookies(filters...).ReadAllCookies(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", store.FilePath(), err))
		}
		found = append(found, cookies...)
		_ = store.Close()
	}
	if matched == 0 {
		return nil, fmt.Errorf("no %s cookie store found", browser)
	}
	return found, errors.Join(errs...)
}

func readProfile(ctx context.Context, browser, profilePath string, filters []kooky.Filter) ([]*kooky.Cookie, error) {
	file, err := cookieFile(browser, profilePath)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(browser, "firefox") {
		return firefox.ReadCookies(ctx, file, filters...)
	}
	return chrome.ReadCookies(ctx, file, filters...)
}

// cookieFile resolves a configured profile path to the cookie database. A
// directory is treated as a browser profile.
func cookieFile(browser, profilePath string) (string, error) {
	path, err := expandHome(profilePath)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return path, nil
	}
	candidates := []string{"Cookies", filepath.Join("Network", "Cookies")}
	if strings.EqualFold(browser, "firefox") {
		candidates = []string{"cookies.sqlite"}
	}
	for _, name := range candidates {
		file := filepath.Join(path, name)
		if _, err := os.Stat(file); err == nil {
			return file, nil
		}
	}
	return "", fmt.Errorf("no cookie database in profile %s", path)
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// jarFrom keeps the newest value per cookie name.
func jarFrom(cookies []*kooky.Cookie) (map[string]string, error) {
	jar := make(map[string]string, len(cookies))
	created := make(map[string]time.Time, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Value == "" {
			continue
		}
		if prev, ok := created[c.Name]; ok && !c.Creation.After(prev) {
			continue
		}
		jar[c.Name] = c.Value
		created[c.Name] = c.Creation
	}
	if jar["sessionKey"] == "" {
		return nil, ErrNoSessionCookie
	}
	return jar, nil
}

// MultiCookies dispatches to a provider by browser name, falling back to
// Default for names without a dedicated reader.
type MultiCookies struct {
	Default CookieProvider
	ByName  map[string]CookieProvider
}

// DefaultCookieProvider reads the Claude desktop store for "claude-desktop"
// and uses kooky for everything else.
func DefaultCookieProvider() MultiCookies {
	return MultiCookies{
		Default: BrowserCookies{},
		ByName:  map[string]CookieProvider{DesktopBrowser: DesktopCookies{}},
	}
}

func (m MultiCookies) Cookies(ctx context.Context, browser, profilePath string) (map[string]string, error) {
	if p, ok := m.ByName[strings.ToLower(browser)]; ok {
		return p.Cookies(ctx, browser, profilePath)
	}
	if m.Default == nil {
		return nil, fmt.Errorf("no cookie reader for %q", browser)
	}
	return m.Default.Cookies(ctx, browser, profilePath)
}
