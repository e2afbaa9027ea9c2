package daemon

import (
	"errors"
	"time"

	"github.com/janekbaraniewski/apiusage/internal/core"
)

const (
	APIVersion  = "v1"
	DefaultPort = 19853

	// maxConfigBytes caps POST /config bodies.
	maxConfigBytes = 64 * 1024
)

var errDaemonUnavailable = errors.New("usage daemon unavailable")

// Config holds the daemon's startup options. Everything else is read from
// the config file.
type Config struct {
	Port              int
	ConfigPath        string
	HistoryPath       string
	LegacyHistoryPath string
	Verbose           bool
}

type HealthResponse struct {
	Status        string `json:"status"`
	DaemonVersion string `json:"daemon_version,omitempty"`
	APIVersion    string `json:"api_version,omitempty"`
	State         string `json:"state,omitempty"`
}

// UsageItem is a cached snapshot plus how fresh it is.
type UsageItem struct {
	core.UsageSnapshot
	AgeSeconds     float64    `json:"age_seconds"`
	Stale          bool       `json:"stale"`
	LastPollFailed bool       `json:"last_poll_failed,omitempty"`
	Level          core.Level `json:"level"`
}

type UsageResponse struct {
	Services []UsageItem `json:"services"`
}

type HistoryResponse struct {
	ServiceID core.ServiceKind    `json:"service_id"`
	Period    core.TimeWindow     `json:"period"`
	Data      []core.HistoryPoint `json:"data"`
}

type VelocityResponse struct {
	ServiceID core.ServiceKind        `json:"service_id"`
	Model     string                  `json:"model"`
	Primary   core.VelocityEstimate   `json:"primary"`
	Windows   []core.VelocityEstimate `json:"windows"`
}

type RefreshResponse struct {
	CycleID  string    `json:"cycle_id"`
	Trigger  string    `json:"trigger"`
	Finished time.Time `json:"finished"`
	// Throttled is set when the request was over the refresh rate and was
	// answered from an in-flight or the last completed cycle.
	Throttled bool        `json:"throttled,omitempty"`
	Services  []UsageItem `json:"services"`
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields []core.FieldError `json:"fields,omitempty"`
}
