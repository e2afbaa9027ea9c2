package claude

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/janekbaraniewski/apiusage/internal/core"
)

var testNow = time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)

const orgsJSON = `[
	{"uuid": "org-personal", "name": "Personal", "capabilities": ["chat", "claude_pro"]},
	{"uuid": "org-acme", "name": "Acme Corp", "capabilities": ["chat", "claude_max"]}
]`

func newServer(t *testing.T, usage string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Cookie"), "sessionKey=sk-test") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.URL.Path == "/api/organizations":
			w.Write([]byte(orgsJSON))
		case strings.HasPrefix(r.URL.Path, "/api/organizations/") && strings.HasSuffix(r.URL.Path, "/usage"):
			w.Header().Set("X-Org", strings.Split(r.URL.Path, "/")[3])
			w.Write([]byte(usage))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newRequest(baseURL string, settings core.ServiceSettings, cookies map[string]string) core.FetchRequest {
	if cookies == nil {
		cookies = map[string]string{}
	}
	cookies[core.SessionCookieName] = "sk-test"
	settings.BaseURL = baseURL
	return core.FetchRequest{
		Kind:       core.ServiceClaudeWork,
		Credential: core.CookieCredential(cookies, core.CredentialSourceBrowser),
		Settings:   settings,
		Now:        testNow,
	}
}

func TestFetch_Usage(t *testing.T) {
	server := newServer(t, `{
		"five_hour": {"utilization": 0.42, "resets_at": "2026-03-01T12:30:00Z"},
		"seven_day": {"utilization": 61.5, "resets_at": "2026-03-05T10:00:00+00:00"},
		"seven_day_sonnet": {"utilization": 0.1, "resets_at": null},
		"seven_day_opus": null
	}`)
	defer server.Close()

	snap, err := NewWithClient(server.Client()).Fetch(context.Background(),
		newRequest(server.URL, core.ServiceSettings{Label: "Work"}, nil))
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if snap.Name != "Claude (Work)" {
		t.Errorf("name = %q", snap.Name)
	}
	if snap.Percentage == nil || *snap.Percentage != 61.5 {
		t.Errorf("primary = %v, want max(42, 61.5)", snap.Percentage)
	}
	if snap.ResetInfo != "2h 30m" {
		t.Errorf("reset info = %q, want 2h 30m", snap.ResetInfo)
	}
	if snap.PlanName != "Pro" || snap.Details.Organization != "Personal" {
		t.Errorf("plan/org = %q/%q", snap.PlanName, snap.Details.Organization)
	}

	fh, _ := snap.Window("five_hour")
	if fh.Percentage != 42 || fh.ResetMinutes != 150 || fh.WindowMinutes != 300 {
		t.Errorf("five_hour = %+v", fh)
	}
	sd, _ := snap.Window("seven_day")
	if sd.ResetMinutes != 4*24*60 || sd.WindowMinutes != 10080 {
		t.Errorf("seven_day = %+v", sd)
	}
	if _, ok := snap.Window("seven_day_sonnet"); !ok {
		t.Error("missing sonnet window")
	}
	if _, ok := snap.Window("seven_day_opus"); ok {
		t.Error("null opus bucket should be omitted")
	}
}

func TestSelectOrganization(t *testing.T) {
	orgs := []organization{
		{UUID: "org-personal", Name: "Personal"},
		{UUID: "org-acme", Name: "Acme Corp"},
	}
	tests := []struct {
		name       string
		settings   core.ServiceSettings
		lastActive string
		want       string
	}{
		{"first by default", core.ServiceSettings{}, "", "org-personal"},
		{"configured uuid", core.ServiceSettings{Organization: "ORG-ACME"}, "", "org-acme"},
		{"configured name", core.ServiceSettings{Organization: "acme corp"}, "org-personal", "org-acme"},
		{"label matches name", core.ServiceSettings{Label: "Acme Corp"}, "", "org-acme"},
		{"last active cookie", core.ServiceSettings{Label: "Work"}, "org-acme", "org-acme"},
		{"unknown configured falls through", core.ServiceSettings{Organization: "nope"}, "", "org-personal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := selectOrganization(orgs, tt.settings, tt.lastActive)
			if !ok || got.UUID != tt.want {
				t.Errorf("selected %q, want %q", got.UUID, tt.want)
			}
		})
	}
	if _, ok := selectOrganization(nil, core.ServiceSettings{}, ""); ok {
		t.Error("empty org list should select nothing")
	}
}

func TestFetch_SessionExpired(t *testing.T) {
	server := newServer(t, `{}`)
	defer server.Close()

	req := newRequest(server.URL, core.ServiceSettings{}, nil)
	req.Credential = core.CookieCredential(map[string]string{"sessionKey": "stale"}, core.CredentialSourceBrowser)
	_, err := NewWithClient(server.Client()).Fetch(context.Background(), req)
	if err == nil || err.Error() != "session expired" {
		t.Fatalf("error = %v, want session expired", err)
	}
}

func TestPlanName(t *testing.T) {
	if got := planName([]string{"chat", "claude_max"}); got != "Max" {
		t.Errorf("got %q", got)
	}
	if got := planName([]string{"chat"}); got != "Free" {
		t.Errorf("got %q", got)
	}
}
