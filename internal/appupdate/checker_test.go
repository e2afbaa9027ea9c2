package appupdate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestReleaseVersion(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "valid with prefix", input: "v1.2.3", want: "v1.2.3"},
		{name: "valid without prefix", input: "1.2.3", want: "v1.2.3"},
		{name: "short form", input: "v1.2", want: "v1.2.0"},
		{name: "pre-release skipped", input: "v1.2.3-rc.1", want: ""},
		{name: "git describe skipped", input: "v0.4.0-11-g0aa98a4-dirty", want: ""},
		{name: "dev skipped", input: "dev", want: ""},
		{name: "empty skipped", input: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := releaseVersion(tt.input); got != tt.want {
				t.Fatalf("releaseVersion(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestInstallMethod(t *testing.T) {
	t.Setenv("GOBIN", "/opt/tools/bin")
	tests := []struct {
		path string
		want InstallMethod
	}{
		{"/opt/homebrew/Cellar/apiusage/0.3.0/bin/apiusage", InstallHomebrew},
		{"/Users/test/go/bin/apiusage", InstallGoInstall},
		{"/opt/tools/bin/apiusage", InstallGoInstall},
		{"/usr/local/bin/apiusage", InstallUnknown},
	}
	for _, tt := range tests {
		if got := installMethod(executable(tt.path)); got != tt.want {
			t.Errorf("installMethod(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestCheck_UpdateAvailable(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(`{"tag_name":"v0.6.0"}`))
	}))
	defer srv.Close()

	res, err := Check(context.Background(), Options{
		CurrentVersion: "v0.5.1",
		ExecutablePath: "/home/me/go/bin/apiusage",
		ReleaseURL:     srv.URL,
		HTTPClient:     srv.Client(),
	})
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if !res.UpdateAvailable || res.Latest != "v0.6.0" || res.Current != "v0.5.1" {
		t.Fatalf("result = %+v", res)
	}
	if res.Method != InstallGoInstall || !strings.Contains(res.Hint, "go install") {
		t.Errorf("method = %q hint = %q", res.Method, res.Hint)
	}
	if !strings.HasPrefix(gotUA, "apiusage/") {
		t.Errorf("User-Agent = %q", gotUA)
	}
}

func TestCheck_UpToDate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"tag_name":"0.5.1"}`))
	}))
	defer srv.Close()

	res, err := Check(context.Background(), Options{CurrentVersion: "0.5.1", ReleaseURL: srv.URL})
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if res.UpdateAvailable {
		t.Errorf("result = %+v, want up to date", res)
	}
}

func TestCheck_DevBuildSkipsNetwork(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	defer srv.Close()

	res, err := Check(context.Background(), Options{CurrentVersion: "dev", ReleaseURL: srv.URL})
	if err != nil || called || res.Latest != "" {
		t.Fatalf("Check(dev) = %+v, %v (called=%v)", res, err, called)
	}
}

func TestCheck_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"http error", http.StatusForbidden, `{}`, "HTTP 403"},
		{"bad json", http.StatusOK, `{`, "decode release"},
		{"prerelease tag", http.StatusOK, `{"tag_name":"v0.7.0-beta.1"}`, "not a stable version"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := Check(context.Background(), Options{CurrentVersion: "v0.5.0", ReleaseURL: srv.URL})
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}
