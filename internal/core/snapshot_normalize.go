package core

import (
	"math"
	"strings"
	"time"

	"github.com/samber/lo"
)

type Level string

const (
	LevelOK       Level = "ok"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
	LevelUnknown  Level = "unknown"
)

// ClampPercent bounds a percentage to [0,100] for rendering decisions.
func ClampPercent(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return lo.Clamp(v, 0, 100)
}

func RoundPercent(v float64) float64 {
	return math.Round(v*10) / 10
}

// LevelFor maps a percentage onto warning/critical thresholds.
func LevelFor(pct *float64, warning, critical float64) Level {
	if pct == nil {
		return LevelUnknown
	}
	v := ClampPercent(*pct)
	switch {
	case v >= critical:
		return LevelCritical
	case v >= warning:
		return LevelWarning
	default:
		return LevelOK
	}
}

// NormalizeSnapshot fills identity defaults and rounds values. Raw
// percentages are left unclamped; clamping happens when rendering.
func NormalizeSnapshot(s UsageSnapshot, kind ServiceKind, name string, now time.Time) UsageSnapshot {
	if s.ID == "" {
		s.ID = kind
	}
	if strings.TrimSpace(s.Name) == "" {
		s.Name = name
	}
	if spec, ok := SpecFor(kind); ok && s.Icon == "" {
		s.Icon = spec.Icon
	}
	if s.Percentage != nil {
		v := RoundPercent(*s.Percentage)
		s.Percentage = &v
	}
	if s.Details != nil {
		for i := range s.Details.Windows {
			s.Details.Windows[i].Percentage = RoundPercent(s.Details.Windows[i].Percentage)
		}
	}
	if s.LastUpdated.IsZero() {
		s.LastUpdated = now.UTC()
	}
	if !s.Failed() && s.LastSuccess.IsZero() {
		s.LastSuccess = s.LastUpdated
	}
	return s
}

func Float64Ptr(v float64) *float64 { return &v }
