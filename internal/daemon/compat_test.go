package daemon

import (
	"strings"
	"testing"

	"github.com/janekbaraniewski/apiusage/internal/version"
)

func withClientVersion(t *testing.T, v string) {
	t.Helper()
	orig := version.Version
	version.Version = v
	t.Cleanup(func() { version.Version = orig })
}

func TestIsReleaseSemver(t *testing.T) {
	for input, want := range map[string]bool{
		"v0.4.0":                   true,
		"  v1.2.3  ":               true,
		"dev":                      false,
		"v0.4.0-11-g0aa98a4-dirty": false,
		"v0.4":                     false,
		"0.4.0":                    false,
		"v1.2.3+meta":              false,
	} {
		if got := IsReleaseSemver(input); got != want {
			t.Errorf("IsReleaseSemver(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestCompat_OK(t *testing.T) {
	tests := []struct {
		name   string
		client string
		health HealthResponse
		want   bool
	}{
		{"release needs same daemon", "v0.4.0", HealthResponse{DaemonVersion: "dev", APIVersion: APIVersion}, false},
		{"release matches", "v0.4.0", HealthResponse{DaemonVersion: "v0.4.0", APIVersion: APIVersion}, true},
		{"snapshot accepts dev daemon", "v0.4.0-11-g0aa98a4-dirty", HealthResponse{DaemonVersion: "dev", APIVersion: APIVersion}, true},
		{"missing api version is v1", "dev", HealthResponse{DaemonVersion: "dev"}, true},
		{"api mismatch", "dev", HealthResponse{DaemonVersion: "dev", APIVersion: "v2"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withClientVersion(t, tt.client)
			if got := CompatFor(tt.health).OK(); got != tt.want {
				t.Fatalf("OK() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompat_Warning(t *testing.T) {
	withClientVersion(t, "v0.5.0")

	tests := []struct {
		name   string
		health HealthResponse
		want   string
	}{
		{"current", HealthResponse{DaemonVersion: "v0.5.0", APIVersion: APIVersion}, ""},
		{"older daemon", HealthResponse{DaemonVersion: "v0.4.2", APIVersion: APIVersion}, "older than client"},
		{"newer daemon", HealthResponse{DaemonVersion: "v0.6.0", APIVersion: APIVersion}, "differs from client"},
		{"unknown daemon", HealthResponse{APIVersion: APIVersion}, "daemon unknown differs"},
		{"api mismatch", HealthResponse{DaemonVersion: "v0.5.0", APIVersion: "v2"}, "speaks API v2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CompatFor(tt.health).Warning()
			if tt.want == "" {
				if got != "" {
					t.Fatalf("Warning() = %q, want none", got)
				}
				return
			}
			if !strings.Contains(got, tt.want) {
				t.Fatalf("Warning() = %q, want %q", got, tt.want)
			}
		})
	}
}
