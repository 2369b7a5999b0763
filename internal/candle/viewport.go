package candle

import (
	"math"

	"github.com/guttosm/candledesk/internal/domain/models"
	"github.com/shopspring/decimal"
)

// MinimumSlots keeps sparse series from rendering a few very wide candles.
const MinimumSlots = 30

var (
	rangePadding = decimal.NewFromFloat(0.1)
	flatPadding  = decimal.NewFromFloat(0.005)
	hundred      = decimal.NewFromInt(100)
)

// Viewport maps a candle series onto a width x height drawing area.
type Viewport struct {
	Width  float64         `json:"width"`
	Height float64         `json:"height"`
	Slots  int             `json:"slots"`
	Min    decimal.Decimal `json:"min" swaggertype:"string"`
	Max    decimal.Decimal `json:"max" swaggertype:"string"`

	candles []models.Candle
}

// Readout describes the candle under the pointer.
type Readout struct {
	Index     int             `json:"index"`
	Label     string          `json:"label"`
	Close     decimal.Decimal `json:"close" swaggertype:"string"`
	Change    decimal.Decimal `json:"change" swaggertype:"string"`
	ChangePct decimal.Decimal `json:"change_pct" swaggertype:"string"`
	Synthetic bool            `json:"synthetic"`
	CenterX   float64         `json:"center_x"`
	CloseY    float64         `json:"close_y"`
}

// NewViewport computes the price axis and slot layout for candles.
//
// The price axis spans the lowest low to the highest high padded by 10% of
// the range. A flat (or empty) series uses ±0.5% around fallback instead.
func NewViewport(candles []models.Candle, width, height float64, fallback decimal.Decimal) Viewport {
	v := Viewport{
		Width:   width,
		Height:  height,
		Slots:   MinimumSlots,
		candles: candles,
	}
	if len(candles) > v.Slots {
		v.Slots = len(candles)
	}

	if len(candles) == 0 {
		v.Min, v.Max = flatRange(fallback)
		return v
	}

	lo, hi := candles[0].Low, candles[0].High
	for _, c := range candles[1:] {
		lo = decimal.Min(lo, c.Low)
		hi = decimal.Max(hi, c.High)
	}
	if hi.Equal(lo) {
		v.Min, v.Max = flatRange(hi)
		return v
	}
	pad := hi.Sub(lo).Mul(rangePadding)
	v.Min = decimal.Max(lo.Sub(pad), decimal.Zero)
	v.Max = hi.Add(pad)
	return v
}

func flatRange(price decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	pad := price.Abs().Mul(flatPadding)
	if pad.IsZero() {
		pad = decimal.NewFromInt(1)
	}
	return decimal.Max(price.Sub(pad), decimal.Zero), price.Add(pad)
}

// SlotWidth is the horizontal space of one candle.
func (v Viewport) SlotWidth() float64 {
	if v.Slots == 0 {
		return 0
	}
	return v.Width / float64(v.Slots)
}

// Y converts a price into a vertical pixel coordinate (0 at the top).
func (v Viewport) Y(price decimal.Decimal) float64 {
	span := v.Max.Sub(v.Min)
	if span.IsZero() || v.Height == 0 {
		return v.Height / 2
	}
	frac, _ := price.Sub(v.Min).Div(span).Float64()
	return v.Height - frac*v.Height
}

// HoverAt returns the read-out for pointer position x. It reports false when
// x is outside the area or points at an empty slot.
func (v Viewport) HoverAt(x float64) (Readout, bool) {
	if v.Width <= 0 || x < 0 || x >= v.Width {
		return Readout{}, false
	}
	idx := int(math.Floor(x / v.Width * float64(v.Slots)))
	if idx >= len(v.candles) {
		return Readout{}, false
	}

	c := v.candles[idx]
	change := c.Close.Sub(c.Open)
	pct := decimal.Zero
	if !c.Open.IsZero() {
		pct = change.Div(c.Open).Mul(hundred).Round(2)
	}
	return Readout{
		Index:     idx,
		Label:     c.Label,
		Close:     c.Close,
		Change:    change,
		ChangePct: pct,
		Synthetic: c.Synthetic,
		CenterX:   (float64(idx) + 0.5) * v.SlotWidth(),
		CloseY:    v.Y(c.Close),
	}, true
}
