package firecrawl

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/janekbaraniewski/apiusage/internal/core"
)

func newRequest(baseURL string) core.FetchRequest {
	return core.FetchRequest{
		Kind:       core.ServiceFirecrawl,
		Credential: core.APIKeyCredential("fc-test", core.CredentialSourceConfig),
		Settings:   core.ServiceSettings{ResetDay: 16, BaseURL: baseURL},
		Now:        time.Date(2026, time.March, 14, 21, 0, 0, 0, time.UTC),
	}
}

func TestFetch_CreditUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/team/credit-usage" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer fc-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success": true, "data": {"remainingCredits": 91, "planCredits": 100}}`))
	}))
	defer server.Close()

	snap, err := NewWithClient(server.Client()).Fetch(context.Background(), newRequest(server.URL))
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if snap.Percentage == nil || *snap.Percentage != 9 {
		t.Errorf("percentage = %v, want 9", snap.Percentage)
	}
	if snap.Used != 9 || snap.Total != 100 || snap.Unit != "credits" {
		t.Errorf("used/total/unit = %v/%v/%q", snap.Used, snap.Total, snap.Unit)
	}
	if snap.ResetInfo != "1d 3h" {
		t.Errorf("reset info = %q, want 1d 3h", snap.ResetInfo)
	}
	if snap.PlanName != "100 credits/mo" {
		t.Errorf("plan = %q", snap.PlanName)
	}
	w, ok := snap.Window("billing_cycle")
	if !ok || w.Percentage != 9 {
		t.Errorf("billing window = %+v, %v", w, ok)
	}
}

func TestFetch_Errors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
		parseError  bool
	}{
		{"invalid key", http.StatusUnauthorized, "", "invalid API key", false},
		{"rate limited", http.StatusTooManyRequests, "", "rate limited (HTTP 429)", false},
		{"server error", http.StatusBadGateway, "", "HTTP 502", false},
		{"garbage body", http.StatusOK, "<html>", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewWithClient(server.Client()).Fetch(context.Background(), newRequest(server.URL))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.parseError {
				var pe *core.ParseError
				if !errors.As(err, &pe) {
					t.Errorf("expected ParseError, got %v", err)
				}
				return
			}
			if err.Error() != tt.wantMessage {
				t.Errorf("error = %q, want %q", err.Error(), tt.wantMessage)
			}
		})
	}
}

func TestFetch_ZeroPlanReadsZeroPercent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": {"remainingCredits": 0, "planCredits": 0}}`))
	}))
	defer server.Close()

	snap, err := NewWithClient(server.Client()).Fetch(context.Background(), newRequest(server.URL))
	if err != nil {
		t.Fatal(err)
	}
	if snap.Percentage == nil || *snap.Percentage != 0 {
		t.Errorf("percentage = %v, want 0", snap.Percentage)
	}
	if snap.Failed() {
		t.Errorf("error = %q, want success", snap.Error)
	}
}
