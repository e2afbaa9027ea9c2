package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/janekbaraniewski/apiusage/internal/core"
	"github.com/janekbaraniewski/apiusage/internal/version"
)

const (
	DefaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

// UserAgent identifies the daemon to upstream services.
func UserAgent() string {
	return "apiusage/" + version.Version
}

// NewHTTPClient returns the client adapters share. The per-request deadline
// comes from ctx; the client timeout is a backstop.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: DefaultTimeout}
}

func CreateStandardRequest(ctx context.Context, baseURL, endpoint string, headers map[string]string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent())
	req.Header.Set("Accept", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	return req, nil
}

// StatusMessages maps a non-2xx status to a service-specific message.
type StatusMessages map[int]string

// DoJSON executes req and decodes a 2xx JSON body into out. Transport
// failures and non-2xx statuses become *core.UpstreamError; undecodable
// bodies become *core.ParseError.
func DoJSON(client *http.Client, req *http.Request, what string, messages StatusMessages, out any) error {
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return &core.UpstreamError{Err: stripURL(err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &core.UpstreamError{Err: fmt.Errorf("reading body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &core.UpstreamError{
			StatusCode:  resp.StatusCode,
			RateLimited: resp.StatusCode == http.StatusTooManyRequests,
			Message:     messages[resp.StatusCode],
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &core.ParseError{What: what, Err: err}
	}
	return nil
}

// stripURL drops the request URL from transport errors so query-string
// secrets never reach logs or snapshots.
func stripURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Err != nil {
		return fmt.Errorf("%s: %w", strings.ToLower(uerr.Op), uerr.Err)
	}
	return err
}
