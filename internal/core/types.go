package core

import "time"

// Window lengths of the session-based rolling limits.
const (
	ShortWindowMinutes = 5 * 60
	LongWindowMinutes  = 7 * 24 * 60
)

// UsageWindow is one usage-limit period inside a snapshot's detail block.
type UsageWindow struct {
	Name          string  `json:"name"`
	Percentage    float64 `json:"percentage"`
	ResetMinutes  int     `json:"reset_minutes"`
	WindowMinutes int     `json:"window_minutes"`
}

type UsageDetails struct {
	Organization string             `json:"organization,omitempty"`
	Windows      []UsageWindow      `json:"windows,omitempty"`
	Extra        map[string]float64 `json:"extra,omitempty"`
}

// UsageSnapshot is one normalized reading for a service. Percentage is nil
// when no successful value is known; Error is set when the latest poll
// failed. Both may be set when the cache serves stale data.
type UsageSnapshot struct {
	ID          ServiceKind   `json:"id"`
	Name        string        `json:"name"`
	Icon        string        `json:"icon,omitempty"`
	PlanName    string        `json:"plan_name"`
	Percentage  *float64      `json:"percentage,omitempty"`
	Used        float64       `json:"used"`
	Total       float64       `json:"total"`
	Unit        string        `json:"unit"`
	ResetInfo   string        `json:"reset_info"`
	Details     *UsageDetails `json:"details,omitempty"`
	Error       string        `json:"error,omitempty"`
	LastUpdated time.Time     `json:"last_updated"`
	LastSuccess time.Time     `json:"last_success,omitempty"`
}

func (s UsageSnapshot) Failed() bool { return s.Error != "" }

func (s UsageSnapshot) HasPercentage() bool { return s.Percentage != nil }

// Window returns the named detail window.
func (s UsageSnapshot) Window(name string) (UsageWindow, bool) {
	if s.Details == nil {
		return UsageWindow{}, false
	}
	for _, w := range s.Details.Windows {
		if w.Name == name {
			return w, true
		}
	}
	return UsageWindow{}, false
}

func NewErrorSnapshot(kind ServiceKind, name, message string, now time.Time) UsageSnapshot {
	return UsageSnapshot{
		ID:          kind,
		Name:        name,
		Error:       message,
		LastUpdated: now.UTC(),
	}
}

// HistoryPoint is an immutable percentage observation.
type HistoryPoint struct {
	ServiceID  ServiceKind        `json:"service_id"`
	Timestamp  time.Time          `json:"timestamp"`
	Percentage *float64           `json:"value,omitempty"`
	Windows    map[string]float64 `json:"windows,omitempty"`
	Failed     bool               `json:"failed,omitempty"`
}

// PointFromSnapshot captures the percentages of snap at ts.
func PointFromSnapshot(snap UsageSnapshot, ts time.Time) HistoryPoint {
	p := HistoryPoint{
		ServiceID: snap.ID,
		Timestamp: ts.UTC(),
		Failed:    snap.Failed(),
	}
	if snap.Percentage != nil {
		v := *snap.Percentage
		p.Percentage = &v
	}
	if snap.Details != nil && len(snap.Details.Windows) > 0 {
		p.Windows = make(map[string]float64, len(snap.Details.Windows))
		for _, w := range snap.Details.Windows {
			p.Windows[w.Name] = w.Percentage
		}
	}
	return p
}

// VelocityEstimate is the consumption rate for one usage window.
// Applicable=false is the "not applicable" sentinel.
type VelocityEstimate struct {
	ServiceID        ServiceKind `json:"service_id"`
	Window           string      `json:"window"`
	Model            string      `json:"model"`
	CurrentPercent   float64     `json:"current"`
	RatePerMinute    float64     `json:"rate_per_minute"`
	RemainingMinutes float64     `json:"remaining_minutes"`
	ExhaustsAt       *time.Time  `json:"exhausts_at,omitempty"`
	Applicable       bool        `json:"applicable"`
	Reason           string      `json:"reason,omitempty"`
}
