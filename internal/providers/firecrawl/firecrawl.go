// Package firecrawl reads the monthly credit balance of a Firecrawl team.
//
//	GET https://api.firecrawl.dev/v2/team/credit-usage
//	Authorization: Bearer <key>
//	Response: {"success": true, "data": {"remainingCredits": 91, "planCredits": 100,
//	           "billingPeriodStart": "...", "billingPeriodEnd": "..."}}
package firecrawl

import (
	"context"
	"net/http"
	"time"

	"github.com/samber/lo"

	"github.com/janekbaraniewski/apiusage/internal/core"
	"github.com/janekbaraniewski/apiusage/internal/providers/shared"
)

const defaultBaseURL = "https://api.firecrawl.dev"

type creditUsageResponse struct {
	Success bool        `json:"success"`
	Data    creditUsage `json:"data"`
}

type creditUsage struct {
	RemainingCredits   float64 `json:"remainingCredits"`
	PlanCredits        float64 `json:"planCredits"`
	BillingPeriodStart string  `json:"billingPeriodStart"`
	BillingPeriodEnd   string  `json:"billingPeriodEnd"`
}

type Provider struct {
	client *http.Client
}

func New() *Provider { return &Provider{client: shared.NewHTTPClient()} }

// NewWithClient is used by tests to inject an httptest client.
func NewWithClient(c *http.Client) *Provider { return &Provider{client: c} }

func (p *Provider) Kinds() []core.ServiceKind { return []core.ServiceKind{core.ServiceFirecrawl} }

func (p *Provider) Describe() core.AdapterInfo {
	return core.AdapterInfo{
		Name:   "Firecrawl",
		Auth:   core.AuthKindAPIKey,
		DocURL: "https://docs.firecrawl.dev/api-reference/endpoint/credit-usage",
	}
}

func (p *Provider) Fetch(ctx context.Context, req core.FetchRequest) (core.UsageSnapshot, error) {
	baseURL := lo.CoalesceOrEmpty(req.Settings.BaseURL, defaultBaseURL)
	httpReq, err := shared.CreateStandardRequest(ctx, baseURL, "/v2/team/credit-usage", map[string]string{
		"Authorization": "Bearer " + req.Credential.APIKey,
	})
	if err != nil {
		return core.UsageSnapshot{}, err
	}

	var body creditUsageResponse
	if err := shared.DoJSON(p.client, httpReq, "credit-usage", shared.StatusMessages{
		http.StatusUnauthorized: "invalid API key",
		http.StatusForbidden:    "invalid API key",
	}, &body); err != nil {
		return core.UsageSnapshot{}, err
	}

	total := body.Data.PlanCredits
	used := total - body.Data.RemainingCredits
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	return core.UsageSnapshot{
		ID:         core.ServiceFirecrawl,
		Name:       core.ServiceFirecrawl.DisplayName(""),
		PlanName:   lo.Ternary(total > 0, shared.FormatCount(total)+" credits/mo", ""),
		Percentage: shared.CreditPercent(used, total),
		Used:       used,
		Total:      total,
		Unit:       "credits",
		ResetInfo:  shared.ResetCountdown(req.Settings.ResetDay, now),
		Details: &core.UsageDetails{Windows: []core.UsageWindow{
			shared.BillingWindow(req.Settings.ResetDay, used, total, now),
		}},
	}, nil
}
