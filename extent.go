package chipper

import (
	"errors"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
)

var (
	ErrRotatedRaster = errors.New("raster geotransform has rotation terms")
	ErrNotNorthUp    = errors.New("raster is not north-up")
)

// An Extent is a rectangle in the source CRS units
type Extent struct {
	Left, Right, Bottom, Top float64
}

func (e Extent) Width() float64 {
	return e.Right - e.Left
}

func (e Extent) Height() float64 {
	return e.Top - e.Bottom
}

// Bound returns the extent as an orb bound
func (e Extent) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{e.Left, e.Bottom},
		Max: orb.Point{e.Right, e.Top},
	}
}

// Polygon returns the closed ring
// (left,bottom)->(left,top)->(right,top)->(right,bottom)->(left,bottom)
func (e Extent) Polygon() orb.Polygon {
	return orb.Polygon{orb.Ring{
		{e.Left, e.Bottom},
		{e.Left, e.Top},
		{e.Right, e.Top},
		{e.Right, e.Bottom},
		{e.Left, e.Bottom},
	}}
}

// PolygonWKT returns the extent as a closed 5 point WKT polygon, suitable as a
// spatial filter
func (e Extent) PolygonWKT() string {
	return wkt.MarshalString(e.Polygon())
}

// Overlaps returns true if the interiors of e and b intersect. Rectangles that
// only share an edge or a corner do not overlap.
func (e Extent) Overlaps(b orb.Bound) bool {
	return e.Left < b.Max[0] && b.Min[0] < e.Right &&
		e.Bottom < b.Max[1] && b.Min[1] < e.Top
}

// GlobalExtent returns the bounding box of a width*height raster with the given
// geotransform. The four corners are transformed, so both signs of the pixel
// sizes are handled.
func GlobalExtent(gt [6]float64, width, height int) Extent {
	w, h := float64(width), float64(height)
	xs := [4]float64{
		gt[0],
		gt[0] + w*gt[1],
		gt[0] + h*gt[2],
		gt[0] + w*gt[1] + h*gt[2],
	}
	ys := [4]float64{
		gt[3],
		gt[3] + w*gt[4],
		gt[3] + h*gt[5],
		gt[3] + w*gt[4] + h*gt[5],
	}
	e := Extent{Left: xs[0], Right: xs[0], Bottom: ys[0], Top: ys[0]}
	for i := 1; i < 4; i++ {
		e.Left = math.Min(e.Left, xs[i])
		e.Right = math.Max(e.Right, xs[i])
		e.Bottom = math.Min(e.Bottom, ys[i])
		e.Top = math.Max(e.Top, ys[i])
	}
	return e
}

// TileExtent returns the extent of the tileSize*tileSize window whose top-left
// pixel is (pixelX,pixelY). The raster must be north-up, i.e. row indexes
// increase southwards.
func TileExtent(globalLeft, globalTop float64, pixelX, pixelY, tileSize int, resX, resY float64) Extent {
	left := globalLeft + float64(pixelX)*resX
	top := globalTop - float64(pixelY)*resY
	return Extent{
		Left:   left,
		Right:  left + float64(tileSize)*resX,
		Top:    top,
		Bottom: top - float64(tileSize)*resY,
	}
}

// Resolution returns the absolute pixel sizes of gt
func Resolution(gt [6]float64) (resX, resY float64) {
	return math.Abs(gt[1]), math.Abs(gt[5])
}

// CheckNorthUp returns an error if gt cannot be tiled with TileExtent
func CheckNorthUp(gt [6]float64) error {
	if gt[2] != 0 || gt[4] != 0 {
		return ErrRotatedRaster
	}
	if gt[1] <= 0 || gt[5] >= 0 {
		return ErrNotNorthUp
	}
	return nil
}
