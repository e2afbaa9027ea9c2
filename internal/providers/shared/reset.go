package shared

import (
	"fmt"
	"math"
	"time"

	"github.com/janekbaraniewski/apiusage/internal/core"
)

// BillingReset returns the next occurrence of resetDay after now. The day is
// clamped to the month's last day, so 31 means "end of month" in short months.
func BillingReset(resetDay int, now time.Time) time.Time {
	now = now.UTC()
	if resetDay < 1 {
		resetDay = 1
	}
	candidate := resetInMonth(now.Year(), now.Month(), resetDay)
	if !candidate.After(now) {
		candidate = resetInMonth(now.Year(), now.Month()+1, resetDay)
	}
	return candidate
}

func resetInMonth(year int, month time.Month, day int) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	return first.AddDate(0, 0, min(day, last)-1)
}

// BillingCycleStart returns the start of the cycle that ends at the next reset.
func BillingCycleStart(resetDay int, now time.Time) time.Time {
	next := BillingReset(resetDay, now)
	return resetInMonth(next.Year(), next.Month()-1, max(resetDay, 1))
}

// ResetCountdown renders the time until the next billing reset as "Nd Nh".
func ResetCountdown(resetDay int, now time.Time) string {
	d := BillingReset(resetDay, now).Sub(now.UTC())
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

// FormatMinutes renders a countdown as "Nd Nh", "Nh Nm" or "Nm". Zero or
// negative values render as "".
func FormatMinutes(minutes int) string {
	switch {
	case minutes <= 0:
		return ""
	case minutes >= 1440:
		return fmt.Sprintf("%dd %dh", minutes/1440, (minutes%1440)/60)
	case minutes >= 60:
		return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}

// MinutesUntil parses an RFC 3339 timestamp and returns whole minutes from now,
// floored at zero. Unparseable input yields 0.
func MinutesUntil(raw string, now time.Time) int {
	if raw == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return 0
	}
	return max(0, int(t.Sub(now).Minutes()))
}

// NormalizeUtilization accepts either a 0..1 fraction or a percentage.
// Values above 1 are taken as already being a percentage.
func NormalizeUtilization(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return v
	}
	return v * 100
}

// CreditPercent is used/total*100. A plan with no credits reads as 0% so
// a successful fetch always carries a percentage.
func CreditPercent(used, total float64) *float64 {
	var v float64
	if total > 0 {
		v = used / total * 100
	}
	return &v
}

// BillingWindowName is the detail window credit services report.
const BillingWindowName = "billing_cycle"

// BillingWindow describes the current monthly credit cycle as a usage window.
func BillingWindow(resetDay int, used, total float64, now time.Time) core.UsageWindow {
	next := BillingReset(resetDay, now)
	start := BillingCycleStart(resetDay, now)
	return core.UsageWindow{
		Name:          BillingWindowName,
		Percentage:    *CreditPercent(used, total),
		ResetMinutes:  int(next.Sub(now.UTC()).Minutes()),
		WindowMinutes: int(next.Sub(start).Minutes()),
	}
}
