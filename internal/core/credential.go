package core

import (
	"sort"
	"strings"
)

type CredentialSource string

const (
	CredentialSourceConfig  CredentialSource = "config"
	CredentialSourceVault   CredentialSource = "vault"
	CredentialSourceBrowser CredentialSource = "browser"
)

// SessionCookieName is the claude.ai cookie that authenticates a session.
const SessionCookieName = "sessionKey"

// Credential is an opaque bearer value. It lives only for one poll cycle.
type Credential struct {
	APIKey  string
	Cookies map[string]string
	Source  CredentialSource
}

func APIKeyCredential(key string, source CredentialSource) Credential {
	return Credential{APIKey: key, Source: source}
}

func CookieCredential(cookies map[string]string, source CredentialSource) Credential {
	return Credential{Cookies: cookies, Source: source}
}

func (c Credential) Empty() bool {
	return strings.TrimSpace(c.APIKey) == "" && strings.TrimSpace(c.Cookies[SessionCookieName]) == ""
}

// CookieHeader renders the jar as a Cookie header value with stable ordering.
func (c Credential) CookieHeader() string {
	names := make([]string, 0, len(c.Cookies))
	for name := range c.Cookies {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+c.Cookies[name])
	}
	return strings.Join(parts, "; ")
}
