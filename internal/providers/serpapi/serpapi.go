// Package serpapi reads the monthly search quota of a SerpApi account.
//
//	GET https://serpapi.com/account.json?api_key=<key>
//	Response: {"plan_name": "Developer", "searches_per_month": 5000,
//	           "total_searches_left": 4100, "last_hour_searches": 12}
//
// SerpApi reports a bad key as HTTP 200 with a body-level "error" field.
package serpapi

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/samber/lo"

	"github.com/janekbaraniewski/apiusage/internal/core"
	"github.com/janekbaraniewski/apiusage/internal/providers/shared"
)

const defaultBaseURL = "https://serpapi.com"

type accountResponse struct {
	Error             string   `json:"error"`
	PlanName          string   `json:"plan_name"`
	SearchesPerMonth  float64  `json:"searches_per_month"`
	TotalSearchesLeft *float64 `json:"total_searches_left"`
	PlanSearchesLeft  *float64 `json:"plan_searches_left"`
	LastHourSearches  float64  `json:"last_hour_searches"`
}

type Provider struct {
	client *http.Client
}

func New() *Provider { return &Provider{client: shared.NewHTTPClient()} }

func NewWithClient(c *http.Client) *Provider { return &Provider{client: c} }

func (p *Provider) Kinds() []core.ServiceKind { return []core.ServiceKind{core.ServiceSerpAPI} }

func (p *Provider) Describe() core.AdapterInfo {
	return core.AdapterInfo{
		Name:   "SerpAPI",
		Auth:   core.AuthKindAPIKey,
		DocURL: "https://serpapi.com/account-api",
	}
}

func (p *Provider) Fetch(ctx context.Context, req core.FetchRequest) (core.UsageSnapshot, error) {
	baseURL := lo.CoalesceOrEmpty(req.Settings.BaseURL, defaultBaseURL)
	endpoint := "/account.json?api_key=" + url.QueryEscape(req.Credential.APIKey)
	httpReq, err := shared.CreateStandardRequest(ctx, baseURL, endpoint, nil)
	if err != nil {
		return core.UsageSnapshot{}, err
	}

	var body accountResponse
	if err := shared.DoJSON(p.client, httpReq, "account", shared.StatusMessages{
		http.StatusUnauthorized: "invalid API key",
	}, &body); err != nil {
		return core.UsageSnapshot{}, err
	}
	if body.Error != "" {
		return core.UsageSnapshot{}, &core.UpstreamError{StatusCode: http.StatusOK, Message: body.Error}
	}

	total := body.SearchesPerMonth
	left := lo.FromPtr(lo.CoalesceOrEmpty(body.TotalSearchesLeft, body.PlanSearchesLeft))
	used := total - left
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	return core.UsageSnapshot{
		ID:         core.ServiceSerpAPI,
		Name:       core.ServiceSerpAPI.DisplayName(""),
		PlanName:   lo.CoalesceOrEmpty(body.PlanName, "Plan"),
		Percentage: shared.CreditPercent(used, total),
		Used:       used,
		Total:      total,
		Unit:       "searches",
		ResetInfo:  shared.ResetCountdown(req.Settings.ResetDay, now),
		Details: &core.UsageDetails{
			Windows: []core.UsageWindow{shared.BillingWindow(req.Settings.ResetDay, used, total, now)},
			Extra:   map[string]float64{"hourly_searches": body.LastHourSearches},
		},
	}, nil
}
