package candle

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Period selects the bucket width, the calendar window and the label format
// of a chart series.
type Period string

const (
	Intraday Period = "1D"
	Weekly   Period = "1W"
	Monthly  Period = "1M"
	Yearly   Period = "1Y"
)

const day = 24 * time.Hour

// ParsePeriod accepts the period codes used by the API ("1D", "1w", ...).
// An empty string selects Intraday.
func ParsePeriod(s string) (Period, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Intraday, nil
	}
	switch p := Period(s); p {
	case Intraday, Weekly, Monthly, Yearly:
		return p, nil
	default:
		return "", fmt.Errorf("unknown period %q", s)
	}
}

// BucketWidth returns the fixed candle width for the period.
func (p Period) BucketWidth() time.Duration {
	switch p {
	case Weekly:
		return time.Hour
	case Monthly:
		return day
	case Yearly:
		return 7 * day
	default:
		return 5 * time.Minute
	}
}

// lookback is the calendar window kept before the latest tick. Intraday is
// handled separately: it keeps the latest tick's calendar date.
func (p Period) lookback() time.Duration {
	switch p {
	case Weekly:
		return 7 * day
	case Monthly:
		return 30 * day
	case Yearly:
		return 365 * day
	default:
		return 0
	}
}

// Label formats a bucket start for display.
func (p Period) Label(t time.Time) string {
	switch p {
	case Weekly, Monthly:
		return strconv.Itoa(t.Day())
	case Yearly:
		return strconv.Itoa(t.Year())
	default:
		return t.Format("15:04")
	}
}

// bucketStart aligns t to the period grid in loc. Sub-day widths are counted
// from local midnight; multi-day widths are counted in whole local days from
// a Monday epoch so weekly buckets start on Mondays.
func bucketStart(t time.Time, width time.Duration, loc *time.Location) time.Time {
	t = t.In(loc)
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	if width < day {
		offset := t.Sub(midnight)
		return midnight.Add(offset - offset%width)
	}

	widthDays := int64(width / day)
	// 1970-01-05 was a Monday.
	days := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Unix()/86400 - 4
	rem := days % widthDays
	if rem < 0 {
		rem += widthDays
	}
	return midnight.AddDate(0, 0, -int(rem))
}

// stepBack returns the bucket start k widths before start.
func stepBack(start time.Time, width time.Duration, k int) time.Time {
	if width >= day {
		return start.AddDate(0, 0, -k*int(width/day))
	}
	return start.Add(-time.Duration(k) * width)
}
