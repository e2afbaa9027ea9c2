package shared

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/janekbaraniewski/apiusage/internal/core"
)

func TestDoJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("User-Agent"), "apiusage/") {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte(`{"n": 3}`))
		case "/bad-json":
			w.Write([]byte(`{"n": `))
		case "/limited":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer server.Close()

	get := func(path string, out any) error {
		req, err := CreateStandardRequest(context.Background(), server.URL+"/", path, nil)
		if err != nil {
			t.Fatal(err)
		}
		return DoJSON(server.Client(), req, "test", StatusMessages{http.StatusUnauthorized: "invalid API key"}, out)
	}

	var body struct{ N int }
	if err := get("/ok", &body); err != nil || body.N != 3 {
		t.Fatalf("ok: n=%d err=%v", body.N, err)
	}

	var pe *core.ParseError
	if err := get("/bad-json", &body); !errors.As(err, &pe) {
		t.Errorf("bad-json: expected ParseError, got %v", err)
	}

	var ue *core.UpstreamError
	if err := get("/limited", &body); !errors.As(err, &ue) || !ue.RateLimited {
		t.Errorf("limited: expected rate-limited UpstreamError, got %v", err)
	}
	if err := get("/auth", &body); !errors.As(err, &ue) || ue.Error() != "invalid API key" {
		t.Errorf("auth: got %v", err)
	}
}

func TestDoJSON_TransportErrorHidesURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := server.URL
	server.Close()

	req, err := CreateStandardRequest(context.Background(), addr, "/account.json?api_key=secret", nil)
	if err != nil {
		t.Fatal(err)
	}
	err = DoJSON(http.DefaultClient, req, "test", nil, &struct{}{})
	var ue *core.UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if strings.Contains(err.Error(), "secret") {
		t.Errorf("error leaks query string: %v", err)
	}
}
