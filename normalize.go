package chipper

import (
	"math"
	"slices"
)

// A Normalizer turns a window into the byte pixels of an image tile:
//
//  1. keep the first N channels
//  2. flip rows, so that row 0 is the southernmost row
//  3. per-channel percentile contrast stretch
//  4. per-tile min/max rescaling to [0,1]
//  5. scaling to [0,255]
//
// Statistics are computed on the valid (non padded) part of the window only.
type Normalizer struct {
	channels  int
	low, high float64
}

type NormalizerOption func(n *Normalizer) error

// Channels keeps only the first count channels. 0 keeps all channels
func Channels(count int) NormalizerOption {
	return func(n *Normalizer) error {
		if count < 0 {
			return ErrInvalidOption{"channel count must be >=0"}
		}
		n.channels = count
		return nil
	}
}

// ContrastPercentiles sets the low and high percentiles used for the contrast
// stretch. Defaults to 2 and 98. 0 and 100 result in a plain min/max stretch.
func ContrastPercentiles(low, high float64) NormalizerOption {
	return func(n *Normalizer) error {
		if low < 0 || high > 100 || low >= high {
			return ErrInvalidOption{"contrast percentiles must satisfy 0<=low<high<=100"}
		}
		n.low, n.high = low, high
		return nil
	}
}

func NewNormalizer(options ...NormalizerOption) (Normalizer, error) {
	n := Normalizer{low: 2, high: 98}
	for _, o := range options {
		if err := o(&n); err != nil {
			return n, err
		}
	}
	return n, nil
}

// region is the valid part of a padded pixel block
type region struct {
	x0, y0, x1, y1 int
}

// Chip applies the whole chain to w and returns pixel interleaved bytes
func (n Normalizer) Chip(w Window) ([]byte, int) {
	px := LimitChannels(w.Pixels, n.channels)
	px = FlipVertical(px)
	valid := region{0, px.Height - w.ValidHeight, w.ValidWidth, px.Height}
	n.stretch(px, valid)
	normalize(px, valid)
	clearPadding(px, valid)
	return ToBytes(px), px.Channels
}

// clearPadding zeroes the pixels of p outside of valid
func clearPadding(p Pixels, valid region) {
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			if x >= valid.x0 && x < valid.x1 && y >= valid.y0 && y < valid.y1 {
				continue
			}
			for c := 0; c < p.Channels; c++ {
				p.Set(x, y, c, 0)
			}
		}
	}
}

// LimitChannels returns a copy of p restricted to its first count channels.
// p is returned as is if count is 0 or not smaller than p.Channels
func LimitChannels(p Pixels, count int) Pixels {
	if count <= 0 || count >= p.Channels {
		return p
	}
	ret := NewPixels(p.Width, p.Height, count)
	for i := 0; i < p.Width*p.Height; i++ {
		copy(ret.Data[i*count:(i+1)*count], p.Data[i*p.Channels:i*p.Channels+count])
	}
	return ret
}

// FlipVertical returns a copy of p with its row order reversed
func FlipVertical(p Pixels) Pixels {
	ret := NewPixels(p.Width, p.Height, p.Channels)
	stride := p.Width * p.Channels
	for r := 0; r < p.Height; r++ {
		dr := p.Height - 1 - r
		copy(ret.Data[dr*stride:(dr+1)*stride], p.Data[r*stride:(r+1)*stride])
	}
	return ret
}

// StretchContrast linearly maps, channel by channel, the [low,high] percentile
// range of p onto [0,1], clipping values outside of it
func StretchContrast(p Pixels, low, high float64) {
	n := Normalizer{low: low, high: high}
	n.stretch(p, region{0, 0, p.Width, p.Height})
}

func (n Normalizer) stretch(p Pixels, valid region) {
	values := make([]float64, 0, (valid.x1-valid.x0)*(valid.y1-valid.y0))
	for c := 0; c < p.Channels; c++ {
		values = values[:0]
		for y := valid.y0; y < valid.y1; y++ {
			for x := valid.x0; x < valid.x1; x++ {
				values = append(values, float64(p.At(x, y, c)))
			}
		}
		if len(values) == 0 {
			continue
		}
		slices.Sort(values)
		lo := percentile(values, n.low)
		hi := percentile(values, n.high)
		for i := c; i < len(p.Data); i += p.Channels {
			v := float64(p.Data[i])
			switch {
			case hi <= lo:
				v = 0
			case v <= lo:
				v = 0
			case v >= hi:
				v = 1
			default:
				v = (v - lo) / (hi - lo)
			}
			p.Data[i] = float32(v)
		}
	}
}

// percentile interpolates linearly between the closest ranks of the sorted
// values
func percentile(sorted []float64, pct float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := pct / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// Normalize rescales p to [0,1] using the min and max of all its values
func Normalize(p Pixels) {
	normalize(p, region{0, 0, p.Width, p.Height})
}

func normalize(p Pixels, valid region) {
	mn, mx := math.Inf(1), math.Inf(-1)
	for y := valid.y0; y < valid.y1; y++ {
		for x := valid.x0; x < valid.x1; x++ {
			for c := 0; c < p.Channels; c++ {
				v := float64(p.At(x, y, c))
				mn = math.Min(mn, v)
				mx = math.Max(mx, v)
			}
		}
	}
	span := mx - mn
	for i, v := range p.Data {
		if span <= 0 || math.IsInf(span, 0) || math.IsNaN(span) {
			p.Data[i] = 0
			continue
		}
		p.Data[i] = float32(math.Min(1, math.Max(0, (float64(v)-mn)/span)))
	}
}

// ToBytes multiplies by 255, rounds and clamps to [0,255]
func ToBytes(p Pixels) []byte {
	ret := make([]byte, len(p.Data))
	for i, v := range p.Data {
		f := float64(v) * 255
		switch {
		case math.IsNaN(f) || f <= 0:
			ret[i] = 0
		case f >= 255:
			ret[i] = 255
		default:
			ret[i] = byte(math.Round(f))
		}
	}
	return ret
}
