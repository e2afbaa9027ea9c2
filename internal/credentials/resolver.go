package credentials

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/janekbaraniewski/apiusage/internal/config"
	"github.com/janekbaraniewski/apiusage/internal/core"
)

// ErrNoSessionCookie is returned by a CookieProvider whose store was readable
// but held no claude.ai session.
var ErrNoSessionCookie = errors.New("no claude.ai sessionKey cookie found")

// Vault is a secret store keyed by service kind. A missing entry is ("", nil).
type Vault interface {
	Get(kind core.ServiceKind) (string, error)
}

// CookieProvider reads the claude.ai cookie jar from a browser profile.
type CookieProvider interface {
	Cookies(ctx context.Context, browser, profilePath string) (map[string]string, error)
}

// Resolver produces a fresh credential for each poll. Nothing is cached.
type Resolver struct {
	vault   Vault
	cookies CookieProvider
	log     *zap.Logger
}

func NewResolver(vault Vault, cookies CookieProvider, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{vault: vault, cookies: cookies, log: log}
}

// Resolve tries the pushed config, then the vault, then (session services
// only) the browser cookie store.
func (r *Resolver) Resolve(ctx context.Context, kind core.ServiceKind, svc config.ServiceConfig) (core.Credential, error) {
	session := kind.Auth() == core.AuthKindSessionCookie

	if key := strings.TrimSpace(svc.APIKey); key != "" {
		return credentialFromSecret(key, session, core.CredentialSourceConfig), nil
	}

	if r.vault != nil {
		secret, err := r.vault.Get(kind)
		switch {
		case err != nil:
			r.log.Debug("vault_lookup_failed", zap.String("service", string(kind)), zap.Error(err))
		case strings.TrimSpace(secret) != "":
			return credentialFromSecret(strings.TrimSpace(secret), session, core.CredentialSourceVault), nil
		}
	}

	if !session {
		return core.Credential{}, &core.CredentialError{Service: kind, Reason: core.MissingCredential}
	}
	if r.cookies == nil {
		return core.Credential{}, &core.CredentialError{Service: kind, Reason: core.BrowserUnavailable, Detail: "no cookie reader"}
	}

	browser := svc.BrowserOrDefault()
	jar, err := r.cookies.Cookies(ctx, browser, svc.ProfilePath)
	if err != nil {
		reason := core.BrowserUnavailable
		if errors.Is(err, ErrNoSessionCookie) {
			reason = core.MissingCredential
		}
		return core.Credential{}, &core.CredentialError{Service: kind, Reason: reason, Detail: browser, Err: err}
	}
	if strings.TrimSpace(jar[core.SessionCookieName]) == "" {
		return core.Credential{}, &core.CredentialError{Service: kind, Reason: core.MissingCredential, Detail: browser, Err: ErrNoSessionCookie}
	}
	return core.CookieCredential(jar, core.CredentialSourceBrowser), nil
}

func credentialFromSecret(secret string, session bool, source core.CredentialSource) core.Credential {
	if session {
		return core.CookieCredential(map[string]string{core.SessionCookieName: secret}, source)
	}
	return core.APIKeyCredential(secret, source)
}
