package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/janekbaraniewski/apiusage/internal/config"
	"github.com/janekbaraniewski/apiusage/internal/core"
)

// Client talks to a running daemon over its loopback HTTP surface.
type Client struct {
	BaseURL string
	http    *http.Client
}

func NewClient(port int) *Client {
	if port <= 0 {
		port = DefaultPort
	}
	return NewClientWithURL(fmt.Sprintf("http://127.0.0.1:%d", port), nil)
}

// NewClientWithURL targets baseURL; a nil hc uses a client sized for a
// synchronous refresh.
func NewClientWithURL(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{
			Transport: &http.Transport{DisableCompression: true, DisableKeepAlives: true},
			Timeout:   refreshWait + 5*time.Second,
		}
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// APIError is a non-2xx daemon response.
type APIError struct {
	StatusCode int
	Message    string
	Fields     []core.FieldError
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.StatusCode, e.Message)
}

func (c *Client) HealthInfo(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return HealthResponse{}, err
	}
	if strings.TrimSpace(out.Status) == "" {
		out.Status = "ok"
	}
	return out, nil
}

func (c *Client) Usage(ctx context.Context) ([]UsageItem, error) {
	var out UsageResponse
	if err := c.do(ctx, http.MethodGet, "/usage", nil, &out); err != nil {
		return nil, err
	}
	return out.Services, nil
}

func (c *Client) UsageFor(ctx context.Context, kind core.ServiceKind) (UsageItem, error) {
	var out UsageItem
	err := c.do(ctx, http.MethodGet, "/usage/"+url.PathEscape(string(kind)), nil, &out)
	return out, err
}

func (c *Client) History(ctx context.Context, kind core.ServiceKind, period core.TimeWindow) (HistoryResponse, error) {
	path := "/history/" + url.PathEscape(string(kind)) + "?period=" + url.QueryEscape(string(period))
	var out HistoryResponse
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) Velocity(ctx context.Context, kind core.ServiceKind, model string) (VelocityResponse, error) {
	path := "/velocity/" + url.PathEscape(string(kind))
	if model != "" {
		path += "?model=" + url.QueryEscape(model)
	}
	var out VelocityResponse
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) Refresh(ctx context.Context) (RefreshResponse, error) {
	var out RefreshResponse
	err := c.do(ctx, http.MethodPost, "/refresh", nil, &out)
	return out, err
}

// PushConfig replaces the daemon's configuration and returns what it
// accepted, without credentials.
func (c *Client) PushConfig(ctx context.Context, cfg config.Config) (config.Config, error) {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return config.Config{}, fmt.Errorf("marshal config: %w", err)
	}
	var out config.Config
	err = c.do(ctx, http.MethodPost, "/config", payload, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errDaemonUnavailable, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var er errorResponse
		if json.Unmarshal(data, &er) == nil && er.Error != "" {
			apiErr.Message = er.Error
			apiErr.Fields = er.Fields
		}
		return apiErr
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode daemon response %s: %w", path, err)
	}
	return nil
}
