package gap

import (
	"testing"

	"marketsync/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hour = int64(3_600_000)

func bars(ts ...int64) []models.Bar {
	out := make([]models.Bar, len(ts))
	for i, t := range ts {
		out[i] = models.Bar{Timestamp: t, Close: 1}
	}
	return out
}

func TestFindGapsEmptyCache(t *testing.T) {
	from := int64(0)
	to := 10 * hour
	now := 100 * hour

	gaps := FindGaps(nil, from, to, hour, now)
	require.Len(t, gaps, 1)
	assert.Equal(t, models.Gap{Start: from, End: to}, gaps[0])
}

func TestFindGapsFullCoverage(t *testing.T) {
	series := bars(0, hour, 2*hour, 3*hour)
	gaps := FindGaps(series, 0, 4*hour, hour, 100*hour)
	assert.Empty(t, gaps)
}

func TestFindGapsMiddleAndTrailing(t *testing.T) {
	// bars at 0h, 1h, 4h; window [0h, 8h)
	series := bars(0, hour, 4*hour)
	gaps := FindGaps(series, 0, 8*hour, hour, 100*hour)
	require.Len(t, gaps, 2)
	assert.Equal(t, models.Gap{Start: 2 * hour, End: 4 * hour}, gaps[0])
	assert.Equal(t, models.Gap{Start: 5 * hour, End: 8 * hour}, gaps[1])
}

func TestFindGapsClipsFormingBar(t *testing.T) {
	// now is 30 minutes into the 10th hour; the forming 9h bar must not be
	// requested, so the window ends at now-1h.
	now := 9*hour + hour/2
	gaps := FindGaps(nil, 0, 10*hour, hour, now)
	require.Len(t, gaps, 1)
	assert.Equal(t, int64(0), gaps[0].Start)
	assert.Equal(t, now-hour, gaps[0].End)
}

func TestFindGapsWindowEntirelyInsideFormingBar(t *testing.T) {
	now := 10 * hour
	gaps := FindGaps(nil, 9*hour+1, 10*hour, hour, now)
	assert.Empty(t, gaps)
}

func TestFindGapsUnionMatchesWindow(t *testing.T) {
	// Non-overlapping gaps whose union with covered bars equals exactly
	// [from, min(to, now-interval)).
	series := bars(2*hour, 3*hour, 7*hour)
	from, to := int64(0), 12*hour
	now := 100 * hour

	gaps := FindGaps(series, from, to, hour, now)
	covered := make(map[int64]bool)
	for _, g := range gaps {
		require.Less(t, g.Start, g.End)
		for ts := g.Start; ts < g.End; ts += hour {
			require.False(t, covered[ts], "gap overlap at %d", ts)
			covered[ts] = true
		}
	}
	for _, b := range series {
		require.False(t, covered[b.Timestamp], "gap covers cached bar %d", b.Timestamp)
		covered[b.Timestamp] = true
	}
	for ts := from; ts < to; ts += hour {
		assert.True(t, covered[ts], "window slot %d uncovered", ts)
	}
}

func TestFindGapsIgnoresBarsOutsideWindow(t *testing.T) {
	series := bars(-2*hour, -hour, 20*hour)
	gaps := FindGaps(series, 0, 4*hour, hour, 100*hour)
	require.Len(t, gaps, 1)
	assert.Equal(t, models.Gap{Start: 0, End: 4 * hour}, gaps[0])
}

func TestCoverage(t *testing.T) {
	series := bars(0, hour, 2*hour, 5*hour)
	assert.Equal(t, 3, Coverage(series, 0, 3*hour))
	assert.Equal(t, 4, Coverage(series, 0, 6*hour))
	assert.Equal(t, 0, Coverage(series, 10*hour, 20*hour))
}
