// Package gap computes missing sub-ranges of a cached bar series.
package gap

import (
	"marketsync/internal/domain/models"
)

// FindGaps walks cached bars in timestamp order and returns the [from, to)
// sub-ranges with no coverage. The end of the window is clipped to
// now−intervalMs so the still-forming bar is never fetched; it would be
// stale the moment it arrived. Bars are assumed sorted ascending with
// unique timestamps.
func FindGaps(bars []models.Bar, from, to, intervalMs, now int64) []models.Gap {
	adjustedTo := to
	if limit := now - intervalMs; limit < adjustedTo {
		adjustedTo = limit
	}
	if adjustedTo <= from || intervalMs <= 0 {
		return nil
	}

	var gaps []models.Gap
	cursor := from
	for _, b := range bars {
		if b.Timestamp < cursor {
			continue
		}
		if b.Timestamp >= adjustedTo {
			break
		}
		if b.Timestamp > cursor {
			gaps = append(gaps, models.Gap{Start: cursor, End: b.Timestamp})
		}
		cursor = b.Timestamp + intervalMs
	}
	if cursor < adjustedTo {
		gaps = append(gaps, models.Gap{Start: cursor, End: adjustedTo})
	}
	return gaps
}

// Coverage returns how many cached bars fall inside [from, to).
func Coverage(bars []models.Bar, from, to int64) int {
	n := 0
	for _, b := range bars {
		if b.Timestamp >= from && b.Timestamp < to {
			n++
		}
	}
	return n
}
