package candle

import (
	"math/rand"
	"testing"
	"time"

	"github.com/guttosm/candledesk/internal/domain/models"
	"github.com/shopspring/decimal"
)

func at(h, m int) time.Time {
	return time.Date(2025, 9, 18, h, m, 0, 0, time.UTC)
}

func tick(t time.Time, p int64) models.Tick {
	return models.Tick{Time: t, Price: decimal.NewFromInt(p)}
}

func newTestAggregator(minCandles int) *Aggregator {
	return NewAggregator(Config{MinimumCandles: minCandles, Location: time.UTC, Seed: 42})
}

func assertOHLC(t *testing.T, c models.Candle, o, h, l, cl int64) {
	t.Helper()
	if !c.Open.Equal(decimal.NewFromInt(o)) || !c.High.Equal(decimal.NewFromInt(h)) ||
		!c.Low.Equal(decimal.NewFromInt(l)) || !c.Close.Equal(decimal.NewFromInt(cl)) {
		t.Fatalf("got O=%s H=%s L=%s C=%s, want %d/%d/%d/%d", c.Open, c.High, c.Low, c.Close, o, h, l, cl)
	}
}

func assertInvariants(t *testing.T, candles []models.Candle) {
	t.Helper()
	for i, c := range candles {
		if c.Low.GreaterThan(decimal.Min(c.Open, c.Close)) {
			t.Fatalf("candle %d: low %s above min(open, close)", i, c.Low)
		}
		if c.High.LessThan(decimal.Max(c.Open, c.Close)) {
			t.Fatalf("candle %d: high %s below max(open, close)", i, c.High)
		}
		if i > 0 && !c.BucketStart.After(candles[i-1].BucketStart) {
			t.Fatalf("candle %d: bucket %v not after %v", i, c.BucketStart, candles[i-1].BucketStart)
		}
	}
}

func TestAggregate_EmptyInput(t *testing.T) {
	out := newTestAggregator(40).Aggregate(nil, Intraday)
	if out == nil || len(out) != 0 {
		t.Fatalf("expected empty non-nil series, got %v", out)
	}
}

func TestAggregate_SingleTick(t *testing.T) {
	out := newTestAggregator(1).Aggregate([]models.Tick{tick(at(9, 3), 777)}, Intraday)
	if len(out) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(out))
	}
	assertOHLC(t, out[0], 777, 777, 777, 777)
	if out[0].Synthetic {
		t.Fatalf("real candle flagged synthetic")
	}
}

func TestAggregate_OneBucketScenario(t *testing.T) {
	prices := []int64{100, 105, 98, 110, 102}
	var ticks []models.Tick
	for i, p := range prices {
		ticks = append(ticks, tick(at(9, i), p))
	}
	out := newTestAggregator(1).Aggregate(ticks, Intraday)
	if len(out) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(out))
	}
	assertOHLC(t, out[0], 100, 110, 98, 102)
	if out[0].Label != "09:00" {
		t.Fatalf("label=%q", out[0].Label)
	}
}

func TestAggregate_SortsOutOfOrderTicks(t *testing.T) {
	ticks := []models.Tick{
		tick(at(9, 4), 102),
		tick(at(9, 0), 100),
		tick(at(9, 2), 98),
	}
	out := newTestAggregator(1).Aggregate(ticks, Intraday)
	if len(out) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(out))
	}
	assertOHLC(t, out[0], 100, 102, 98, 102)
	// input slice must not be reordered
	if !ticks[0].Time.Equal(at(9, 4)) {
		t.Fatalf("input mutated")
	}
}

func TestAggregate_IntradayKeepsLatestDate(t *testing.T) {
	prev := time.Date(2025, 9, 17, 10, 0, 0, 0, time.UTC)
	ticks := []models.Tick{
		tick(prev, 50),
		tick(at(9, 0), 100),
		tick(at(9, 7), 101),
	}
	out := newTestAggregator(1).Aggregate(ticks, Intraday)
	if len(out) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(out))
	}
	if out[0].Label != "09:00" || out[1].Label != "09:05" {
		t.Fatalf("labels %q %q", out[0].Label, out[1].Label)
	}
}

func TestAggregate_EmptyBucketsNotEmitted(t *testing.T) {
	ticks := []models.Tick{tick(at(9, 0), 100), tick(at(9, 31), 101)}
	out := newTestAggregator(1).Aggregate(ticks, Intraday)
	if len(out) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(out))
	}
}

func TestAggregate_PeriodLabelsAndAlignment(t *testing.T) {
	ts := time.Date(2025, 9, 18, 13, 47, 0, 0, time.UTC) // Thursday
	cases := []struct {
		period Period
		start  time.Time
		label  string
	}{
		{Intraday, time.Date(2025, 9, 18, 13, 45, 0, 0, time.UTC), "13:45"},
		{Weekly, time.Date(2025, 9, 18, 13, 0, 0, 0, time.UTC), "18"},
		{Monthly, time.Date(2025, 9, 18, 0, 0, 0, 0, time.UTC), "18"},
		{Yearly, time.Date(2025, 9, 15, 0, 0, 0, 0, time.UTC), "2025"},
	}
	for _, tc := range cases {
		t.Run(string(tc.period), func(t *testing.T) {
			out := newTestAggregator(1).Aggregate([]models.Tick{tick(ts, 10)}, tc.period)
			if len(out) != 1 {
				t.Fatalf("expected 1 candle, got %d", len(out))
			}
			if !out[0].BucketStart.Equal(tc.start) {
				t.Fatalf("bucket start %v, want %v", out[0].BucketStart, tc.start)
			}
			if out[0].Label != tc.label {
				t.Fatalf("label %q, want %q", out[0].Label, tc.label)
			}
		})
	}
}

func TestAggregate_LocationAwareBuckets(t *testing.T) {
	seoul := time.FixedZone("KST", 9*3600)
	a := NewAggregator(Config{MinimumCandles: 1, Location: seoul, Seed: 1})
	// 2025-09-17 23:30 UTC is 2025-09-18 08:30 in Seoul
	ts := time.Date(2025, 9, 17, 23, 30, 0, 0, time.UTC)
	out := a.Aggregate([]models.Tick{tick(ts, 10)}, Monthly)
	want := time.Date(2025, 9, 18, 0, 0, 0, 0, seoul)
	if !out[0].BucketStart.Equal(want) || out[0].Label != "18" {
		t.Fatalf("got %v %q", out[0].BucketStart, out[0].Label)
	}
}

func TestAggregate_WindowDropsOldTicks(t *testing.T) {
	latest := time.Date(2025, 9, 18, 12, 0, 0, 0, time.UTC)
	ticks := []models.Tick{
		tick(latest.AddDate(0, 0, -40), 1),
		tick(latest.AddDate(0, 0, -2), 2),
		tick(latest, 3),
	}
	out := newTestAggregator(1).Aggregate(ticks, Monthly)
	if len(out) != 2 {
		t.Fatalf("expected 2 candles inside 30 days, got %d", len(out))
	}
}

func TestAggregate_InvariantsOnRandomTicks(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, p := range []Period{Intraday, Weekly, Monthly, Yearly} {
		t.Run(string(p), func(t *testing.T) {
			base := time.Date(2025, 9, 18, 0, 0, 0, 0, time.UTC)
			var ticks []models.Tick
			price := int64(10000)
			for i := 0; i < 300; i++ {
				price += int64(rng.Intn(201) - 100)
				offset := time.Duration(rng.Int63n(int64(20 * time.Hour)))
				if p != Intraday {
					offset = time.Duration(rng.Int63n(int64(400 * day)))
				}
				ticks = append(ticks, tick(base.Add(-offset).Add(20*time.Hour), price))
			}
			out := newTestAggregator(DefaultMinimumCandles).Aggregate(ticks, p)
			if len(out) < DefaultMinimumCandles {
				t.Fatalf("series shorter than floor: %d", len(out))
			}
			assertInvariants(t, out)
		})
	}
}

func TestAggregate_WideningIsMonotonic(t *testing.T) {
	a := newTestAggregator(1)
	first := []models.Tick{tick(at(9, 0), 100), tick(at(9, 1), 105), tick(at(9, 2), 99)}
	cases := []struct {
		name  string
		extra int64
	}{
		{"new high", 120},
		{"new low", 80},
		{"inside range", 101},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := a.Aggregate(first, Intraday)
			after := a.Aggregate(append(append([]models.Tick{}, first...), tick(at(9, 3), tc.extra)), Intraday)
			if len(before) != 1 || len(after) != 1 {
				t.Fatalf("unexpected lengths %d %d", len(before), len(after))
			}
			b, n := before[0], after[0]
			if !n.Open.Equal(b.Open) {
				t.Fatalf("open changed %s -> %s", b.Open, n.Open)
			}
			if n.High.LessThan(b.High) || n.Low.GreaterThan(b.Low) {
				t.Fatalf("range narrowed: [%s,%s] -> [%s,%s]", b.Low, b.High, n.Low, n.High)
			}
		})
	}
}

func TestAggregate_SyntheticFloor(t *testing.T) {
	ticks := []models.Tick{
		tick(at(9, 0), 10000),
		tick(at(9, 6), 10100),
		tick(at(9, 12), 9900),
	}
	out := newTestAggregator(40).Aggregate(ticks, Intraday)
	if len(out) != 40 {
		t.Fatalf("expected exactly 40 candles, got %d", len(out))
	}
	for i := 0; i < 37; i++ {
		if !out[i].Synthetic {
			t.Fatalf("candle %d should be synthetic", i)
		}
	}
	for i := 37; i < 40; i++ {
		if out[i].Synthetic {
			t.Fatalf("candle %d should be real", i)
		}
	}
	for i := 0; i < 37; i++ {
		if !out[i].Close.Equal(out[i+1].Open) {
			t.Fatalf("chain broken at %d: close %s, next open %s", i, out[i].Close, out[i+1].Open)
		}
	}
	if want := at(9, 0).Add(-37 * 5 * time.Minute); !out[0].BucketStart.Equal(want) {
		t.Fatalf("first synthetic bucket %v, want %v", out[0].BucketStart, want)
	}
	assertInvariants(t, out)
	if RealCount(out) != 3 {
		t.Fatalf("real count %d", RealCount(out))
	}
}

func TestAggregate_SyntheticHistoryStableAcrossRefreshes(t *testing.T) {
	agg := NewAggregator(Config{MinimumCandles: 20, Location: time.UTC})
	ticks := []models.Tick{tick(at(9, 0), 10000), tick(at(9, 6), 10100)}

	first := agg.Aggregate(ticks, Intraday)
	again := agg.Aggregate(ticks, Intraday)
	for i := range first {
		if !first[i].Open.Equal(again[i].Open) || !first[i].High.Equal(again[i].High) || !first[i].Low.Equal(again[i].Low) {
			t.Fatalf("candle %d redrawn: %+v vs %+v", i, first[i], again[i])
		}
	}

	// A new trade adds a real candle; the synthetic walk behind the first
	// real candle is unchanged.
	grown := agg.Aggregate(append(ticks, tick(at(9, 12), 9900)), Intraday)
	if len(grown) != 20 || RealCount(grown) != 3 {
		t.Fatalf("len=%d real=%d", len(grown), RealCount(grown))
	}
	for k := 1; k <= 17; k++ {
		a, b := first[18-k], grown[17-k]
		if !a.BucketStart.Equal(b.BucketStart) || !a.Open.Equal(b.Open) {
			t.Fatalf("synthetic candle %d back changed: %+v vs %+v", k, a, b)
		}
	}
}

func TestAggregate_NoBackfillAboveFloor(t *testing.T) {
	var ticks []models.Tick
	for i := 0; i < 12; i++ {
		ticks = append(ticks, tick(at(9, i*5), int64(100+i)))
	}
	out := newTestAggregator(10).Aggregate(ticks, Intraday)
	if len(out) != 12 || RealCount(out) != 12 {
		t.Fatalf("unexpected series len=%d real=%d", len(out), RealCount(out))
	}
}

func TestDirections(t *testing.T) {
	mk := func(o, c int64) models.Candle {
		return models.Candle{Open: decimal.NewFromInt(o), Close: decimal.NewFromInt(c)}
	}
	// Third candle closes below its own open but above the previous close.
	candles := []models.Candle{mk(100, 105), mk(105, 95), mk(110, 100), mk(100, 100)}
	want := []models.Direction{models.DirectionUp, models.DirectionDown, models.DirectionUp, models.DirectionFlat}
	got := Directions(candles)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("direction %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestLatestReal(t *testing.T) {
	candles := []models.Candle{
		{Close: decimal.NewFromInt(1), Synthetic: true},
		{Close: decimal.NewFromInt(2)},
	}
	c, ok := LatestReal(candles)
	if !ok || !c.Close.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("got %v %v", c, ok)
	}
	if _, ok := LatestReal(candles[:1]); ok {
		t.Fatalf("synthetic-only series must not yield a real candle")
	}
}

func TestParsePeriod(t *testing.T) {
	cases := []struct {
		in      string
		want    Period
		wantErr bool
	}{
		{"", Intraday, false},
		{"1d", Intraday, false},
		{"1W", Weekly, false},
		{" 1m ", Monthly, false},
		{"1Y", Yearly, false},
		{"5Y", "", true},
	}
	for _, c := range cases {
		got, err := ParsePeriod(c.in)
		if (err != nil) != c.wantErr || got != c.want {
			t.Fatalf("ParsePeriod(%q)=%q,%v", c.in, got, err)
		}
	}
}
