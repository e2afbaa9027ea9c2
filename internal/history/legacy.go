package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/janekbaraniewski/apiusage/internal/core"
)

// legacyWindowKeys maps detail keys of the old JSON history onto window names.
var legacyWindowKeys = map[string]string{
	"five_hour_usage": "five_hour",
	"seven_day_usage": "seven_day",
	"sonnet_usage":    "seven_day_sonnet",
}

// ImportLegacyJSON loads a history.json file written by the earlier
// single-file daemon. It only runs against an empty store and skips points
// outside the retention window or for unknown services.
func (s *Store) ImportLegacyJSON(ctx context.Context, path string) (int, error) {
	n, err := s.Count(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading legacy history: %w", err)
	}
	var raw map[string][]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return 0, fmt.Errorf("parsing legacy history: %w", err)
	}

	cutoff := s.now().Add(-core.RetentionWindow)
	var points []core.HistoryPoint
	for id, entries := range raw {
		kind, err := core.ParseServiceKind(id)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			p, ok := legacyPoint(kind, entry)
			if !ok || p.Timestamp.Before(cutoff) {
				continue
			}
			points = append(points, p)
		}
	}
	if err := s.Append(ctx, points...); err != nil {
		return 0, err
	}
	return len(points), nil
}

func legacyPoint(kind core.ServiceKind, entry map[string]any) (core.HistoryPoint, bool) {
	tsRaw, _ := entry["timestamp"].(string)
	ts, ok := parseLegacyTimestamp(tsRaw)
	if !ok {
		return core.HistoryPoint{}, false
	}
	p := core.HistoryPoint{ServiceID: kind, Timestamp: ts}
	if v, ok := entry["value"].(float64); ok {
		p.Percentage = &v
	}
	for key, window := range legacyWindowKeys {
		if v, ok := entry[key].(float64); ok {
			if p.Windows == nil {
				p.Windows = make(map[string]float64)
			}
			p.Windows[window] = v
		}
	}
	return p, true
}

// parseLegacyTimestamp accepts the "+00:00Z" suffix the old daemon produced.
func parseLegacyTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	trimmed := strings.TrimSuffix(raw, "Z")
	for _, candidate := range []string{trimmed, trimmed + "Z"} {
		if t, err := time.Parse(time.RFC3339Nano, candidate); err == nil {
			return t.UTC(), true
		}
	}
	if t, err := time.Parse("2006-01-02T15:04:05.999999999", trimmed); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}
