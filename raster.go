package chipper

import (
	"fmt"

	"github.com/airbusgeo/godal"
)

// A Raster is a source image fully loaded in memory
type Raster struct {
	Name         string
	GeoTransform [6]float64
	Projection   string
	Pixels       Pixels
}

// OpenRaster reads the first bands bands of the named dataset. bands<=0 reads
// all of them.
func OpenRaster(name string, bands int, opts ...godal.OpenOption) (*Raster, error) {
	if bands < 0 {
		return nil, ErrInvalidOption{"band count must be >=0"}
	}
	ds, err := godal.Open(name, append([]godal.OpenOption{godal.RasterOnly()}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer ds.Close()
	st := ds.Structure()
	if bands > st.NBands {
		return nil, fmt.Errorf("%s has %d bands, cannot read %d", name, st.NBands, bands)
	}
	if bands == 0 {
		bands = st.NBands
	}
	gt, err := ds.GeoTransform()
	if err != nil {
		return nil, fmt.Errorf("geotransform of %s: %w", name, err)
	}
	r := &Raster{
		Name:         name,
		GeoTransform: gt,
		Projection:   ds.Projection(),
		Pixels:       NewPixels(st.SizeX, st.SizeY, bands),
	}
	bidx := make([]int, bands)
	for i := range bidx {
		bidx[i] = i
	}
	if err := ds.Read(0, 0, r.Pixels.Data, st.SizeX, st.SizeY, godal.Bands(bidx...)); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return r, nil
}

// Extent returns the raster's bounding box
func (r *Raster) Extent() Extent {
	return GlobalExtent(r.GeoTransform, r.Pixels.Width, r.Pixels.Height)
}

// SpatialRef returns the raster's spatial reference, or nil if it has none.
// The returned SpatialRef must be closed by the caller.
func (r *Raster) SpatialRef() (*godal.SpatialRef, error) {
	if r.Projection == "" {
		return nil, nil
	}
	sr, err := godal.NewSpatialRefFromWKT(r.Projection)
	if err != nil {
		return nil, fmt.Errorf("parse projection of %s: %w", r.Name, err)
	}
	return sr, nil
}
