// Package claude reads the rolling usage limits of a claude.ai account using
// the browser session cookie.
//
//	GET https://claude.ai/api/organizations
//	GET https://claude.ai/api/organizations/{uuid}/usage
//	Response: {"five_hour": {"utilization": 0.42, "resets_at": "..."},
//	           "seven_day": {...}, "seven_day_sonnet": {...}, "seven_day_opus": null}
//
// Utilization arrives either as a 0..1 fraction or as a percentage.
package claude

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/janekbaraniewski/apiusage/internal/core"
	"github.com/janekbaraniewski/apiusage/internal/providers/shared"
)

const (
	defaultBaseURL = "https://claude.ai"

	// claude.ai sits behind bot protection that rejects non-browser agents.
	browserUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"

	lastActiveOrgCookie = "lastActiveOrg"
)

type organization struct {
	UUID         string   `json:"uuid"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
}

type usageResponse struct {
	FiveHour       *usageBucket `json:"five_hour"`
	SevenDay       *usageBucket `json:"seven_day"`
	SevenDaySonnet *usageBucket `json:"seven_day_sonnet"`
	SevenDayOpus   *usageBucket `json:"seven_day_opus"`
}

type usageBucket struct {
	Utilization float64 `json:"utilization"`
	ResetsAt    string  `json:"resets_at"`
}

var sessionMessages = shared.StatusMessages{
	http.StatusUnauthorized: "session expired",
	http.StatusForbidden:    "session expired",
}

type Provider struct {
	client *http.Client
}

func New() *Provider { return &Provider{client: shared.NewHTTPClient()} }

func NewWithClient(c *http.Client) *Provider { return &Provider{client: c} }

func (p *Provider) Kinds() []core.ServiceKind {
	return []core.ServiceKind{core.ServiceClaudeWork, core.ServiceClaudePrivate}
}

func (p *Provider) Describe() core.AdapterInfo {
	return core.AdapterInfo{
		Name:   "Claude",
		Auth:   core.AuthKindSessionCookie,
		DocURL: "https://support.anthropic.com/en/articles/9797557-usage-limit-best-practices",
	}
}

func (p *Provider) Fetch(ctx context.Context, req core.FetchRequest) (core.UsageSnapshot, error) {
	baseURL := lo.CoalesceOrEmpty(req.Settings.BaseURL, defaultBaseURL)
	headers := map[string]string{
		"User-Agent":   browserUserAgent,
		"Content-Type": "application/json",
		"Cookie":       req.Credential.CookieHeader(),
	}

	var orgs []organization
	if err := p.get(ctx, baseURL, "/api/organizations", headers, "organizations", &orgs); err != nil {
		return core.UsageSnapshot{}, err
	}
	org, ok := selectOrganization(orgs, req.Settings, req.Credential.Cookies[lastActiveOrgCookie])
	if !ok {
		return core.UsageSnapshot{}, &core.ParseError{What: "organizations", Err: errors.New("no organizations found")}
	}

	var usage usageResponse
	endpoint := "/api/organizations/" + url.PathEscape(org.UUID) + "/usage"
	if err := p.get(ctx, baseURL, endpoint, headers, "usage", &usage); err != nil {
		return core.UsageSnapshot{}, err
	}

	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	short := bucketWindow("five_hour", usage.FiveHour, core.ShortWindowMinutes, now)
	long := bucketWindow("seven_day", usage.SevenDay, core.LongWindowMinutes, now)
	windows := []core.UsageWindow{short, long}
	if usage.SevenDaySonnet != nil {
		windows = append(windows, bucketWindow("seven_day_sonnet", usage.SevenDaySonnet, core.LongWindowMinutes, now))
	}
	if usage.SevenDayOpus != nil {
		windows = append(windows, bucketWindow("seven_day_opus", usage.SevenDayOpus, core.LongWindowMinutes, now))
	}

	primary := max(short.Percentage, long.Percentage)
	return core.UsageSnapshot{
		ID:         req.Kind,
		Name:       req.Kind.DisplayName(req.Settings.Label),
		PlanName:   planName(org.Capabilities),
		Percentage: &primary,
		Used:       primary,
		Total:      100,
		Unit:       "%",
		ResetInfo:  shared.FormatMinutes(short.ResetMinutes),
		Details: &core.UsageDetails{
			Organization: org.Name,
			Windows:      windows,
		},
	}, nil
}

func (p *Provider) get(ctx context.Context, baseURL, endpoint string, headers map[string]string, what string, out any) error {
	httpReq, err := shared.CreateStandardRequest(ctx, baseURL, endpoint, headers)
	if err != nil {
		return err
	}
	return shared.DoJSON(p.client, httpReq, what, sessionMessages, out)
}

func bucketWindow(name string, b *usageBucket, windowMinutes int, now time.Time) core.UsageWindow {
	w := core.UsageWindow{Name: name, WindowMinutes: windowMinutes}
	if b == nil {
		return w
	}
	w.Percentage = shared.NormalizeUtilization(b.Utilization)
	w.ResetMinutes = shared.MinutesUntil(b.ResetsAt, now)
	return w
}

// selectOrganization picks the configured organization (uuid or name), then
// an organization named like the account label, then the one the browser
// last used, then the first one listed.
func selectOrganization(orgs []organization, settings core.ServiceSettings, lastActive string) (organization, bool) {
	if len(orgs) == 0 {
		return organization{}, false
	}
	if want := strings.TrimSpace(settings.Organization); want != "" {
		if org, ok := lo.Find(orgs, func(o organization) bool {
			return strings.EqualFold(o.UUID, want) || strings.EqualFold(o.Name, want)
		}); ok {
			return org, true
		}
	}
	if label := strings.TrimSpace(settings.Label); label != "" {
		if org, ok := lo.Find(orgs, func(o organization) bool { return strings.EqualFold(o.Name, label) }); ok {
			return org, true
		}
	}
	if lastActive != "" {
		if org, ok := lo.Find(orgs, func(o organization) bool { return o.UUID == lastActive }); ok {
			return org, true
		}
	}
	return orgs[0], true
}

func planName(capabilities []string) string {
	joined := strings.ToLower(strings.Join(capabilities, ","))
	switch {
	case strings.Contains(joined, "max"):
		return "Max"
	case strings.Contains(joined, "pro"):
		return "Pro"
	default:
		return "Free"
	}
}
