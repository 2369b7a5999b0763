package candle

import (
	"encoding/binary"
	"hash/fnv"
	"math/rand"
	"sort"
	"time"

	"github.com/guttosm/candledesk/internal/domain/models"
	"github.com/shopspring/decimal"
)

const (
	DefaultMinimumCandles = 40
	DefaultVolatility     = 0.015
)

// Config controls how series are built.
//
// Fields:
//   - MinimumCandles: floor below which synthetic history is prepended (0 → 40).
//   - Volatility: fractional random-walk step for synthetic candles (0 → 0.015).
//   - Precision: decimal places kept on synthetic prices (keypad prices are whole numbers).
//   - Location: time zone used for bucket alignment and labels (nil → UTC).
//   - Seed: mixed into the per-series seed of synthetic history.
type Config struct {
	MinimumCandles int
	Volatility     float64
	Precision      int32
	Location       *time.Location
	Seed           int64
}

// Aggregator turns tick streams into renderable candle series.
// It is safe for concurrent use. Synthetic history is a pure function of the
// series it pads, so repeated refreshes render the same candles.
type Aggregator struct {
	minCandles int
	volatility float64
	precision  int32
	loc        *time.Location
	seed       int64
}

// NewAggregator builds an Aggregator, filling zero config values with defaults.
func NewAggregator(cfg Config) *Aggregator {
	if cfg.MinimumCandles <= 0 {
		cfg.MinimumCandles = DefaultMinimumCandles
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = DefaultVolatility
	}
	if cfg.Precision < 0 {
		cfg.Precision = 0
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Aggregator{
		minCandles: cfg.MinimumCandles,
		volatility: cfg.Volatility,
		precision:  cfg.Precision,
		loc:        cfg.Location,
		seed:       cfg.Seed,
	}
}

// Location returns the time zone used for alignment.
func (a *Aggregator) Location() *time.Location { return a.loc }

// Aggregate builds the candle series for period from ticks.
//
// Behavior:
//   - Sorts a copy of ticks by time (input order is not trusted).
//   - Keeps only ticks inside the period window anchored at the latest tick.
//   - Emits one candle per non-empty aligned bucket.
//   - Prepends synthetic candles when fewer than MinimumCandles real ones exist.
//
// Empty input yields an empty, non-nil series.
func (a *Aggregator) Aggregate(ticks []models.Tick, period Period) []models.Candle {
	if len(ticks) == 0 {
		return []models.Candle{}
	}

	sorted := make([]models.Tick, len(ticks))
	copy(sorted, ticks)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	width := period.BucketWidth()
	candles := a.bucketize(a.window(sorted, period), period, width)
	if len(candles) < a.minCandles {
		candles = a.backfill(candles, period, width)
	}
	return candles
}

// window drops ticks outside the period's calendar window. The cutoff is
// aligned to the bucket grid so a bucket is either kept whole or dropped.
func (a *Aggregator) window(sorted []models.Tick, period Period) []models.Tick {
	latest := sorted[len(sorted)-1].Time.In(a.loc)

	var cutoff time.Time
	if period == Intraday {
		cutoff = time.Date(latest.Year(), latest.Month(), latest.Day(), 0, 0, 0, 0, a.loc)
	} else {
		cutoff = bucketStart(latest.Add(-period.lookback()), period.BucketWidth(), a.loc)
	}

	idx := sort.Search(len(sorted), func(i int) bool { return !sorted[i].Time.Before(cutoff) })
	return sorted[idx:]
}

func (a *Aggregator) bucketize(ticks []models.Tick, period Period, width time.Duration) []models.Candle {
	out := make([]models.Candle, 0, a.minCandles)
	for _, t := range ticks {
		start := bucketStart(t.Time, width, a.loc)
		n := len(out)
		if n == 0 || !out[n-1].BucketStart.Equal(start) {
			out = append(out, models.Candle{
				BucketStart: start,
				Open:        t.Price,
				High:        t.Price,
				Low:         t.Price,
				Close:       t.Price,
				Label:       period.Label(start),
			})
			continue
		}
		c := &out[n-1]
		if t.Price.GreaterThan(c.High) {
			c.High = t.Price
		}
		if t.Price.LessThan(c.Low) {
			c.Low = t.Price
		}
		c.Close = t.Price
	}
	return out
}

// backfill prepends synthetic candles by walking backwards from the open of
// the earliest real candle. Each synthetic close equals the open of the
// candle after it.
func (a *Aggregator) backfill(real []models.Candle, period Period, width time.Duration) []models.Candle {
	missing := a.minCandles - len(real)
	if missing <= 0 || len(real) == 0 {
		return real
	}

	first := real[0].BucketStart
	ref := real[0].Open
	rng := rand.New(rand.NewSource(a.seriesSeed(period, first, ref)))

	out := make([]models.Candle, missing, a.minCandles)
	for k := 1; k <= missing; k++ {
		c := a.syntheticCandle(rng, ref)
		c.BucketStart = stepBack(first, width, k)
		c.Label = period.Label(c.BucketStart.In(a.loc))
		out[missing-k] = c
		ref = c.Open
	}
	return append(out, real...)
}

// seriesSeed keys the random walk on the earliest real candle.
func (a *Aggregator) seriesSeed(period Period, first time.Time, open decimal.Decimal) int64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(a.seed))
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte(period))
	binary.BigEndian.PutUint64(buf[:], uint64(first.UnixNano()))
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte(open.String()))
	return int64(h.Sum64())
}

// syntheticCandle derives one candle closing at ref.
func (a *Aggregator) syntheticCandle(rng *rand.Rand, ref decimal.Decimal) models.Candle {
	one := decimal.NewFromInt(1)
	vol := a.volatility

	drift := decimal.NewFromFloat((rng.Float64()*2 - 1) * vol)
	open := ref.Mul(one.Add(drift)).Round(a.precision)
	if open.IsNegative() {
		open = decimal.Zero
	}

	hi, lo := decimal.Max(open, ref), decimal.Min(open, ref)
	wickUp := decimal.NewFromFloat(rng.Float64() * vol / 2)
	wickDown := decimal.NewFromFloat(rng.Float64() * vol / 2)
	high := hi.Mul(one.Add(wickUp)).RoundCeil(a.precision)
	low := lo.Mul(one.Sub(wickDown)).RoundFloor(a.precision)
	if low.IsNegative() {
		low = decimal.Zero
	}

	return models.Candle{
		Open:      open,
		High:      high,
		Low:       low,
		Close:     ref,
		Synthetic: true,
	}
}

// Directions classifies every candle against the previous candle's close.
// The first candle has no predecessor and is compared with its own open.
func Directions(candles []models.Candle) []models.Direction {
	out := make([]models.Direction, len(candles))
	for i, c := range candles {
		ref := c.Open
		if i > 0 {
			ref = candles[i-1].Close
		}
		switch c.Close.Cmp(ref) {
		case 1:
			out[i] = models.DirectionUp
		case -1:
			out[i] = models.DirectionDown
		default:
			out[i] = models.DirectionFlat
		}
	}
	return out
}

// LatestReal returns the most recent non-synthetic candle.
func LatestReal(candles []models.Candle) (models.Candle, bool) {
	for i := len(candles) - 1; i >= 0; i-- {
		if !candles[i].Synthetic {
			return candles[i], true
		}
	}
	return models.Candle{}, false
}

// RealCount returns how many candles were built from ticks.
func RealCount(candles []models.Candle) int {
	n := 0
	for _, c := range candles {
		if !c.Synthetic {
			n++
		}
	}
	return n
}
