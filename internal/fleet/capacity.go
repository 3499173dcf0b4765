package fleet

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/elpiji-erp/elpiji/internal/catalog"
)

var hundred = decimal.NewFromInt(100)

// DefaultWarnThreshold is the utilization percentage above which a load is
// flagged without being blocked.
var DefaultWarnThreshold = decimal.NewFromInt(90)

// BuildCapacityReport sums item weight and volume for a prospective load
// against the vehicle's limits. It never blocks; callers decide based on
// the percentages.
func BuildCapacityReport(ctx context.Context, lookup catalog.Lookup, vehicle Vehicle, items []LoadItem, warnThreshold decimal.Decimal) (CapacityReport, error) {
	report := CapacityReport{
		WeightCapacity: vehicle.CapacityWeight,
		VolumeCapacity: vehicle.CapacityVolume,
	}
	for _, li := range items {
		item, err := lookup.ItemByID(ctx, li.ItemID)
		if err != nil {
			return CapacityReport{}, err
		}
		report.WeightUsed = report.WeightUsed.Add(li.Qty.Mul(item.UnitWeight))
		report.VolumeUsed = report.VolumeUsed.Add(li.Qty.Mul(item.UnitVolume))
	}
	if vehicle.CapacityWeight.IsPositive() {
		report.WeightPct = report.WeightUsed.Mul(hundred).DivRound(vehicle.CapacityWeight, 2)
	}
	if vehicle.CapacityVolume.IsPositive() {
		report.VolumePct = report.VolumeUsed.Mul(hundred).DivRound(vehicle.CapacityVolume, 2)
	}
	if warnThreshold.IsZero() {
		warnThreshold = DefaultWarnThreshold
	}
	if report.WeightPct.GreaterThanOrEqual(warnThreshold) && !report.overWeight() {
		report.Warnings = append(report.Warnings, fmt.Sprintf("weight utilization %s%% above %s%% threshold", report.WeightPct, warnThreshold))
	}
	if vehicle.CapacityVolume.IsPositive() && report.VolumePct.GreaterThanOrEqual(warnThreshold) && !report.overVolume() {
		report.Warnings = append(report.Warnings, fmt.Sprintf("volume utilization %s%% above %s%% threshold", report.VolumePct, warnThreshold))
	}
	return report, nil
}

func (r CapacityReport) overWeight() bool {
	return r.WeightCapacity.IsPositive() && r.WeightUsed.GreaterThan(r.WeightCapacity)
}

func (r CapacityReport) overVolume() bool {
	return r.VolumeCapacity.IsPositive() && r.VolumeUsed.GreaterThan(r.VolumeCapacity)
}

// Exceeded reports whether either tracked dimension is over capacity.
// Untracked dimensions (zero capacity) never exceed.
func (r CapacityReport) Exceeded() bool {
	return r.overWeight() || r.overVolume()
}
