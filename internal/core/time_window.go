package core

import (
	"fmt"
	"strings"
	"time"
)

// RetentionWindow bounds how long history points are kept.
const RetentionWindow = 28 * 24 * time.Hour

// TimeWindow is a history query window.
type TimeWindow string

const (
	TimeWindow24h TimeWindow = "24h"
	TimeWindow7d  TimeWindow = "7d"
	TimeWindow28d TimeWindow = "28d"
)

var ValidTimeWindows = []TimeWindow{
	TimeWindow24h,
	TimeWindow7d,
	TimeWindow28d,
}

// ParseTimeWindow accepts the recognized windows; empty defaults to 24h.
func ParseTimeWindow(raw string) (TimeWindow, error) {
	v := TimeWindow(strings.ToLower(strings.TrimSpace(raw)))
	if v == "" {
		return TimeWindow24h, nil
	}
	for _, tw := range ValidTimeWindows {
		if v == tw {
			return tw, nil
		}
	}
	return "", fmt.Errorf("unsupported period %q (want 24h, 7d or 28d)", raw)
}

// Hours returns the window size in hours.
func (tw TimeWindow) Hours() int {
	switch tw {
	case TimeWindow24h:
		return 24
	case TimeWindow7d:
		return 7 * 24
	case TimeWindow28d:
		return 28 * 24
	default:
		return 24
	}
}

func (tw TimeWindow) Duration() time.Duration {
	return time.Duration(tw.Hours()) * time.Hour
}

// Since returns the inclusive lower bound of the window ending at now.
func (tw TimeWindow) Since(now time.Time) time.Time {
	return now.Add(-tw.Duration())
}
