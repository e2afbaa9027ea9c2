package core

import (
	"fmt"
	"strings"
)

// ServiceKind identifies one monitored upstream account. The set is closed:
// adapters are registered per kind and unknown identifiers are rejected at the
// configuration boundary.
type ServiceKind string

const (
	ServiceClaudeWork    ServiceKind = "claude_work"
	ServiceClaudePrivate ServiceKind = "claude_private"
	ServiceFirecrawl     ServiceKind = "firecrawl"
	ServiceSerpAPI       ServiceKind = "serpapi"
)

type AuthKind string

const (
	AuthKindAPIKey        AuthKind = "api_key"
	AuthKindSessionCookie AuthKind = "session_cookie"
)

// ServiceSpec is the static description of a ServiceKind.
type ServiceSpec struct {
	Kind            ServiceKind
	DisplayName     string
	Auth            AuthKind
	DefaultResetDay int
	Icon            string
}

var serviceSpecs = []ServiceSpec{
	{Kind: ServiceClaudeWork, DisplayName: "Claude", Auth: AuthKindSessionCookie, Icon: "dialog-messages"},
	{Kind: ServiceClaudePrivate, DisplayName: "Claude", Auth: AuthKindSessionCookie, Icon: "dialog-messages"},
	{Kind: ServiceFirecrawl, DisplayName: "Firecrawl", Auth: AuthKindAPIKey, DefaultResetDay: 16, Icon: "cloud-download"},
	{Kind: ServiceSerpAPI, DisplayName: "SerpAPI", Auth: AuthKindAPIKey, DefaultResetDay: 19, Icon: "search"},
}

// AllServiceKinds returns every known kind in declaration order.
func AllServiceKinds() []ServiceKind {
	out := make([]ServiceKind, 0, len(serviceSpecs))
	for _, spec := range serviceSpecs {
		out = append(out, spec.Kind)
	}
	return out
}

func ParseServiceKind(raw string) (ServiceKind, error) {
	id := ServiceKind(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := SpecFor(id); !ok {
		return "", fmt.Errorf("unknown service %q", raw)
	}
	return id, nil
}

func SpecFor(kind ServiceKind) (ServiceSpec, bool) {
	for _, spec := range serviceSpecs {
		if spec.Kind == kind {
			return spec, true
		}
	}
	return ServiceSpec{}, false
}

func (k ServiceKind) Valid() bool {
	_, ok := SpecFor(k)
	return ok
}

func (k ServiceKind) Auth() AuthKind {
	spec, _ := SpecFor(k)
	return spec.Auth
}

func (k ServiceKind) String() string { return string(k) }

// DisplayName renders the name shown next to a snapshot. Session-based kinds
// carry the account label, e.g. "Claude (Work)".
func (k ServiceKind) DisplayName(label string) string {
	spec, ok := SpecFor(k)
	if !ok {
		return string(k)
	}
	if spec.Auth != AuthKindSessionCookie {
		return spec.DisplayName
	}
	label = strings.TrimSpace(label)
	if label == "" {
		label = defaultLabel(k)
	}
	return fmt.Sprintf("%s (%s)", spec.DisplayName, label)
}

func defaultLabel(k ServiceKind) string {
	suffix := strings.TrimPrefix(string(k), "claude_")
	if suffix == "" {
		return string(k)
	}
	return strings.ToUpper(suffix[:1]) + suffix[1:]
}
