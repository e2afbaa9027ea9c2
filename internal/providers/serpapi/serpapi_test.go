package serpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/janekbaraniewski/apiusage/internal/core"
)

func newRequest(baseURL string) core.FetchRequest {
	return core.FetchRequest{
		Kind:       core.ServiceSerpAPI,
		Credential: core.APIKeyCredential("serp key", core.CredentialSourceVault),
		Settings:   core.ServiceSettings{ResetDay: 19, BaseURL: baseURL},
		Now:        time.Date(2026, time.March, 18, 0, 0, 0, 0, time.UTC),
	}
}

func TestFetch_Account(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/account.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if got := r.URL.Query().Get("api_key"); got != "serp key" {
			t.Errorf("api_key = %q", got)
		}
		w.Write([]byte(`{"plan_name": "Developer", "searches_per_month": 5000,
			"total_searches_left": 4100, "plan_searches_left": 1, "last_hour_searches": 12}`))
	}))
	defer server.Close()

	snap, err := NewWithClient(server.Client()).Fetch(context.Background(), newRequest(server.URL))
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if snap.Percentage == nil || *snap.Percentage != 18 {
		t.Errorf("percentage = %v, want 18", snap.Percentage)
	}
	if snap.Used != 900 || snap.Total != 5000 || snap.Unit != "searches" {
		t.Errorf("used/total/unit = %v/%v/%q", snap.Used, snap.Total, snap.Unit)
	}
	if snap.PlanName != "Developer" {
		t.Errorf("plan = %q", snap.PlanName)
	}
	if snap.ResetInfo != "1d 0h" {
		t.Errorf("reset info = %q, want 1d 0h", snap.ResetInfo)
	}
	if snap.Details.Extra["hourly_searches"] != 12 {
		t.Errorf("hourly = %v", snap.Details.Extra["hourly_searches"])
	}
}

func TestFetch_PlanSearchesLeftFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"searches_per_month": 100, "plan_searches_left": 75}`))
	}))
	defer server.Close()

	snap, err := NewWithClient(server.Client()).Fetch(context.Background(), newRequest(server.URL))
	if err != nil {
		t.Fatal(err)
	}
	if snap.Used != 25 || *snap.Percentage != 25 {
		t.Errorf("used = %v pct = %v", snap.Used, *snap.Percentage)
	}
	if snap.PlanName != "Plan" {
		t.Errorf("plan = %q, want Plan", snap.PlanName)
	}
}

func TestFetch_NoMonthlySearches(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"plan_name": "Free", "total_searches_left": 0}`))
	}))
	defer server.Close()

	snap, err := NewWithClient(server.Client()).Fetch(context.Background(), newRequest(server.URL))
	if err != nil {
		t.Fatal(err)
	}
	if snap.Percentage == nil || *snap.Percentage != 0 {
		t.Errorf("percentage = %v, want 0", snap.Percentage)
	}
}

func TestFetch_BodyLevelError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": "Invalid API key. Your API key should be here: https://serpapi.com/manage-api-key"}`))
	}))
	defer server.Close()

	_, err := NewWithClient(server.Client()).Fetch(context.Background(), newRequest(server.URL))
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); got != "Invalid API key. Your API key should be here: https://serpapi.com/manage-api-key" {
		t.Errorf("error = %q", got)
	}
}
