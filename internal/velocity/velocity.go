// Package velocity turns a window's current percentage into a consumption
// rate and a projected exhaustion time.
package velocity

import (
	"math"
	"time"

	"github.com/janekbaraniewski/apiusage/internal/core"
)

const (
	ModelLinear  = "linear"
	ModelHistory = "history"

	// HistoryLookback is how much history the regression model fits.
	HistoryLookback = 24 * time.Hour
)

// Reasons reported with a not-applicable estimate.
const (
	ReasonWindowNotStarted = "window has not started"
	ReasonNoUsage          = "no usage in window"
	ReasonExhausted        = "limit reached"
	ReasonNotRising        = "usage is not increasing"
	ReasonInsufficientData = "insufficient data"
)

// Estimate applies the linear same-window model: usage is assumed uniform
// since the window opened.
func Estimate(kind core.ServiceKind, window string, pct float64, minutesUntilReset, windowMinutes int, now time.Time) core.VelocityEstimate {
	return FromElapsed(kind, window, pct, float64(windowMinutes-minutesUntilReset), now)
}

func FromElapsed(kind core.ServiceKind, window string, pct, elapsedMinutes float64, now time.Time) core.VelocityEstimate {
	est := core.VelocityEstimate{
		ServiceID:      kind,
		Window:         window,
		Model:          ModelLinear,
		CurrentPercent: pct,
	}
	switch {
	case elapsedMinutes <= 0:
		est.Reason = ReasonWindowNotStarted
		return est
	case pct <= 0:
		est.Reason = ReasonNoUsage
		return est
	case pct >= 100:
		est.Reason = ReasonExhausted
		return est
	}
	rate := pct / elapsedMinutes
	return project(est, rate, now)
}

func project(est core.VelocityEstimate, rate float64, now time.Time) core.VelocityEstimate {
	remaining := (100 - est.CurrentPercent) / rate
	if math.IsInf(remaining, 0) || math.IsNaN(remaining) {
		est.Reason = ReasonInsufficientData
		return est
	}
	at := now.UTC().Add(time.Duration(remaining * float64(time.Minute)))
	est.RatePerMinute = rate
	est.RemainingMinutes = remaining
	est.ExhaustsAt = &at
	est.Applicable = true
	return est
}

// ForSnapshot estimates every window of snap. The primary estimate is the
// window with the highest current percentage, which is the one the
// snapshot's overall percentage reflects.
func ForSnapshot(snap core.UsageSnapshot, now time.Time) (core.VelocityEstimate, []core.VelocityEstimate) {
	if snap.Details == nil || len(snap.Details.Windows) == 0 {
		est := core.VelocityEstimate{ServiceID: snap.ID, Model: ModelLinear, Reason: ReasonInsufficientData}
		if snap.Percentage != nil {
			est.CurrentPercent = *snap.Percentage
		}
		return est, nil
	}

	estimates := make([]core.VelocityEstimate, 0, len(snap.Details.Windows))
	primaryIdx := 0
	for i, w := range snap.Details.Windows {
		estimates = append(estimates, Estimate(snap.ID, w.Name, w.Percentage, w.ResetMinutes, w.WindowMinutes, now))
		if w.Percentage > snap.Details.Windows[primaryIdx].Percentage {
			primaryIdx = i
		}
	}
	return estimates[primaryIdx], estimates
}

// Aged returns snap as it reads age after the fetch: every window's reset
// countdown is shortened by age, floored at zero. snap is not modified.
func Aged(snap core.UsageSnapshot, age time.Duration) core.UsageSnapshot {
	minutes := int(age / time.Minute)
	if minutes <= 0 || snap.Details == nil || len(snap.Details.Windows) == 0 {
		return snap
	}
	details := *snap.Details
	details.Windows = make([]core.UsageWindow, len(snap.Details.Windows))
	for i, w := range snap.Details.Windows {
		w.ResetMinutes = max(0, w.ResetMinutes-minutes)
		details.Windows[i] = w
	}
	snap.Details = &details
	return snap
}

// FromHistory fits a least-squares line through the points of the last
// HistoryLookback. Points that failed or lack a percentage are skipped. When
// window is non-empty the per-window value is used instead of the overall one.
func FromHistory(kind core.ServiceKind, window string, points []core.HistoryPoint, now time.Time) core.VelocityEstimate {
	est := core.VelocityEstimate{ServiceID: kind, Window: window, Model: ModelHistory}

	cutoff := now.Add(-HistoryLookback)
	var xs, ys []float64
	for _, p := range points {
		if p.Failed || p.Timestamp.Before(cutoff) {
			continue
		}
		v, ok := pointValue(p, window)
		if !ok {
			continue
		}
		xs = append(xs, p.Timestamp.Sub(cutoff).Minutes())
		ys = append(ys, v)
	}
	if len(xs) < 2 {
		est.Reason = ReasonInsufficientData
		return est
	}
	est.CurrentPercent = ys[len(ys)-1]

	slope, ok := leastSquaresSlope(xs, ys)
	switch {
	case !ok:
		est.Reason = ReasonInsufficientData
		return est
	case est.CurrentPercent >= 100:
		est.Reason = ReasonExhausted
		return est
	case slope <= 0:
		est.Reason = ReasonNotRising
		return est
	}
	return project(est, slope, now)
}

func pointValue(p core.HistoryPoint, window string) (float64, bool) {
	if window != "" {
		v, ok := p.Windows[window]
		return v, ok
	}
	if p.Percentage == nil {
		return 0, false
	}
	return *p.Percentage, true
}

func leastSquaresSlope(xs, ys []float64) (float64, bool) {
	n := float64(len(xs))
	var sumX, sumY, sumXY, sumXX float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, false
	}
	return (n*sumXY - sumX*sumY) / denom, true
}
