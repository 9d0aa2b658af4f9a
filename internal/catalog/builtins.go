package catalog

import (
	"errors"
	"fmt"
)

// ErrInsufficientData marks a compute that had no (or too little) tick data
// for its window. Callers treat it as DataUnavailable — the metric is simply
// absent for the bucket, which the condition evaluator turns into
// Indeterminate rather than an error.
var ErrInsufficientData = errors.New("insufficient tick data")

// Builtin indicator kinds.
const (
	KindTWPA          = "twpa"
	KindPumpMagnitude = "pump_magnitude_pct"
	KindVolumeSurge   = "volume_surge_ratio"
	KindPriceVelocity = "price_velocity"
	KindDrawdown      = "drawdown_pct"
)

// RegisterBuiltins registers the stock pump/dump indicator kinds.
// Dependency order matters: dependents register after their dependencies.
func RegisterBuiltins(reg *Registry) error {
	defs := []Definition{
		{Kind: KindTWPA, Compute: computeTWPA},
		{Kind: KindPumpMagnitude, Compute: computePumpMagnitude, DependsOn: []string{KindTWPA}},
		{Kind: KindVolumeSurge, Compute: computeVolumeSurge},
		{Kind: KindPriceVelocity, Compute: computePriceVelocity},
		{Kind: KindDrawdown, Compute: computeDrawdown},
	}
	for _, d := range defs {
		if err := reg.Register(d); err != nil {
			return fmt.Errorf("register builtins: %w", err)
		}
	}
	return nil
}

// computeTWPA is the time-weighted price average over the trailing window
// of `period` seconds ending at the bucket close. Each price is weighted by
// how long it was the last traded price.
func computeTWPA(in ComputeInput) (float64, error) {
	period := int64(in.Param("period", 300))
	end := in.Bucket + in.BucketWidth
	start := end - period

	var weighted, total float64
	n := len(in.Ticks)
	for i, tk := range in.Ticks {
		ts := tk.TS.Unix()
		if ts >= end {
			break
		}
		segStart := ts
		if segStart < start {
			segStart = start
		}
		segEnd := end
		if i+1 < n {
			if next := in.Ticks[i+1].TS.Unix(); next < segEnd {
				segEnd = next
			}
		}
		if segEnd <= segStart {
			continue
		}
		w := float64(segEnd - segStart)
		weighted += tk.Price * w
		total += w
	}
	if total == 0 {
		return 0, ErrInsufficientData
	}
	return weighted / total, nil
}

// computePumpMagnitude is the percent move of the last traded price against
// the time-weighted baseline. Positive = pump, negative = dump.
func computePumpMagnitude(in ComputeInput) (float64, error) {
	baseline, ok := in.Deps[KindTWPA]
	if !ok || baseline == 0 {
		return 0, ErrInsufficientData
	}
	last, ok := lastPriceBefore(in, in.Bucket+in.BucketWidth)
	if !ok {
		return 0, ErrInsufficientData
	}
	return (last - baseline) / baseline * 100, nil
}

// computeVolumeSurge compares traded volume in the recent window against
// the per-window average of a trailing baseline. A quiet baseline with a
// burst of prints produces a large ratio.
func computeVolumeSurge(in ComputeInput) (float64, error) {
	window := int64(in.Param("window", 60))
	baseline := int64(in.Param("baseline", 600))
	end := in.Bucket + in.BucketWidth

	var recent, trailing float64
	for _, tk := range in.Ticks {
		ts := tk.TS.Unix()
		if ts >= end {
			break
		}
		switch {
		case ts >= end-window:
			recent += tk.Volume
		case ts >= end-window-baseline:
			trailing += tk.Volume
		}
	}
	if trailing == 0 {
		return 0, ErrInsufficientData
	}
	windows := float64(baseline) / float64(window)
	avg := trailing / windows
	if avg == 0 {
		return 0, ErrInsufficientData
	}
	return recent / avg, nil
}

// computePriceVelocity fits a least-squares line to (time, price) over the
// trailing window and reports the slope as percent of the mean price per
// minute. A vertical pump shows up as a large positive velocity.
func computePriceVelocity(in ComputeInput) (float64, error) {
	period := int64(in.Param("period", 120))
	end := in.Bucket + in.BucketWidth
	start := end - period

	var n, sumX, sumY, sumXY, sumXX float64
	for _, tk := range in.Ticks {
		ts := tk.TS.Unix()
		if ts < start || ts >= end {
			continue
		}
		x := float64(ts - start)
		n++
		sumX += x
		sumY += tk.Price
		sumXY += x * tk.Price
		sumXX += x * x
	}
	if n < 2 {
		return 0, ErrInsufficientData
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, ErrInsufficientData
	}
	slope := (n*sumXY - sumX*sumY) / denom // price units per second
	mean := sumY / n
	if mean == 0 {
		return 0, ErrInsufficientData
	}
	return slope * 60 / mean * 100, nil
}

// computeDrawdown is the percent drop of the last traded price from the
// in-window high. Used by emergency-exit trees to catch the dump leg.
func computeDrawdown(in ComputeInput) (float64, error) {
	period := int64(in.Param("period", 300))
	end := in.Bucket + in.BucketWidth
	start := end - period

	var high, last float64
	seen := false
	for _, tk := range in.Ticks {
		ts := tk.TS.Unix()
		if ts < start || ts >= end {
			continue
		}
		if tk.Price > high {
			high = tk.Price
		}
		last = tk.Price
		seen = true
	}
	if !seen || high == 0 {
		return 0, ErrInsufficientData
	}
	return (high - last) / high * 100, nil
}

// lastPriceBefore returns the last traded price strictly before the cutoff.
func lastPriceBefore(in ComputeInput, cutoff int64) (float64, bool) {
	for i := len(in.Ticks) - 1; i >= 0; i-- {
		if in.Ticks[i].TS.Unix() < cutoff {
			return in.Ticks[i].Price, true
		}
	}
	return 0, false
}
