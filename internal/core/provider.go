package core

import (
	"context"
	"time"
)

// AdapterInfo describes an adapter for diagnostics.
type AdapterInfo struct {
	Name   string
	Auth   AuthKind
	DocURL string
}

// ServiceSettings is the adapter-facing subset of a service's configuration.
type ServiceSettings struct {
	Label        string
	Organization string
	ResetDay     int
	BaseURL      string
}

// FetchRequest carries everything an adapter needs for one upstream read.
type FetchRequest struct {
	Kind       ServiceKind
	Credential Credential
	Settings   ServiceSettings
	Prior      *UsageSnapshot
	Now        time.Time
}

// Adapter translates one upstream API into a UsageSnapshot. Returned errors
// are *UpstreamError or *ParseError; callers fold them into the snapshot.
type Adapter interface {
	Kinds() []ServiceKind

	Describe() AdapterInfo

	Fetch(ctx context.Context, req FetchRequest) (UsageSnapshot, error)
}
