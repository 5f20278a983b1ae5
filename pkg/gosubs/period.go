package gosubs

import (
	"fmt"
	"time"
)

// ComputePeriodEnd adds the plan's billing interval to periodStart.
//
// Calendar plans use calendar-correct month/year addition with a clamp
// policy: when the anchor day does not exist in the target month, the end
// lands on the last valid day of that month. Jan 31 + 1 month is Feb 28
// (Feb 29 in leap years), never Mar 3. The trial plan adds a literal
// 30-day duration instead.
func ComputePeriodEnd(periodStart time.Time, plan PlanKind) (time.Time, error) {
	interval, err := IntervalFor(plan)
	if err != nil {
		return time.Time{}, err
	}

	if interval.Days > 0 {
		return periodStart.Add(time.Duration(interval.Days) * 24 * time.Hour), nil
	}

	months := interval.Years*12 + interval.Months
	return addMonthsClamped(periodStart, months), nil
}

// FormatPeriodLabel renders a human-readable period summary of the form
// "01/31/2025 – 02/28/2025 (1 month)".
func FormatPeriodLabel(start, end time.Time, plan PlanKind) (string, error) {
	spec, ok := planSpecs[plan]
	if !ok {
		return "", ErrInvalidPlanKind
	}
	return fmt.Sprintf("%s – %s (%s)",
		start.Format("01/02/2006"),
		end.Format("01/02/2006"),
		spec.phrase,
	), nil
}

// addMonthsClamped adds months to a time, clamping the day when the source
// day does not exist in the target month. Standard Go pattern: build the
// target with day=1 to avoid overflow, then clip to the month's last day.
func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	target := time.Date(year, month+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())

	// day=0 of month+1 is the last day of month
	lastDay := time.Date(target.Year(), target.Month()+1, 0, 0, 0, 0, 0, target.Location()).Day()

	actualDay := day
	if actualDay > lastDay {
		actualDay = lastDay
	}

	return time.Date(target.Year(), target.Month(), actualDay, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
