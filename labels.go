package chipper

import (
	"errors"
	"fmt"

	"github.com/airbusgeo/godal"
	"github.com/paulmach/orb"
)

var (
	ErrMissingField = errors.New("feature has no value for label field")
	ErrLabelRange   = errors.New("label value does not fit in a byte")
	ErrNoLayer      = errors.New("vector dataset has no layer")
)

type label struct {
	geom  *godal.Geometry
	bound orb.Bound
	value float64
}

// Labels holds the features of a vector layer along with the value of their
// label attribute. Geometries are kept in the CRS of the raster they will be
// burnt into.
type Labels struct {
	Name     string
	Field    string
	features []label
}

// OpenLabels loads all the features of the first layer of the named vector
// dataset. If target is not nil and the layer has a different spatial
// reference, geometries are reprojected to target.
func OpenLabels(name, field string, target *godal.SpatialRef, opts ...godal.OpenOption) (*Labels, error) {
	ds, err := godal.Open(name, append([]godal.OpenOption{godal.VectorOnly()}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer ds.Close()
	layers := ds.Layers()
	if len(layers) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrNoLayer)
	}
	layer := layers[0]
	srcSR := layer.SpatialRef()
	reproject := target != nil && hasSRS(srcSR) && hasSRS(target) && !srcSR.IsSame(target)
	if !hasSRS(srcSR) {
		srcSR = nil
	}

	lbls := &Labels{Name: name, Field: field}
	layer.ResetReading()
	for i := 0; ; i++ {
		feat := layer.NextFeature()
		if feat == nil {
			break
		}
		lbl, ok, err := loadFeature(feat, field, srcSR)
		feat.Close()
		if err != nil {
			lbls.Close()
			return nil, fmt.Errorf("%s feature %d: %w", name, i, err)
		}
		if !ok {
			continue
		}
		if reproject {
			if err := lbl.geom.Reproject(target); err != nil {
				lbl.geom.Close()
				lbls.Close()
				return nil, fmt.Errorf("%s feature %d: reproject: %w", name, i, err)
			}
			if lbl.bound, err = geometryBound(lbl.geom); err != nil {
				lbl.geom.Close()
				lbls.Close()
				return nil, fmt.Errorf("%s feature %d: %w", name, i, err)
			}
		}
		lbls.features = append(lbls.features, lbl)
	}
	return lbls, nil
}

// loadFeature copies feat's geometry, as the one returned by
// Feature.Geometry() is only valid until the feature is closed. Features with
// no geometry are skipped whatever their fields. The others must carry field,
// set to a value in [0,255].
func loadFeature(feat *godal.Feature, field string, sr *godal.SpatialRef) (label, bool, error) {
	g := feat.Geometry()
	if g.Empty() {
		return label{}, false, nil
	}
	fld, ok := feat.Fields()[field]
	if !ok || !fld.IsSet() {
		return label{}, false, fmt.Errorf("%q: %w", field, ErrMissingField)
	}
	value := fld.Float()
	if value < 0 || value > 255 {
		return label{}, false, fmt.Errorf("%q=%g: %w", field, value, ErrLabelRange)
	}
	wkb, err := g.WKB()
	if err != nil {
		return label{}, false, fmt.Errorf("export geometry: %w", err)
	}
	geom, err := godal.NewGeometryFromWKB(wkb, sr)
	if err != nil {
		return label{}, false, fmt.Errorf("copy geometry: %w", err)
	}
	bnd, err := geometryBound(geom)
	if err != nil {
		geom.Close()
		return label{}, false, err
	}
	return label{geom: geom, bound: bnd, value: value}, true, nil
}

func geometryBound(g *godal.Geometry) (orb.Bound, error) {
	b, err := g.Bounds()
	if err != nil {
		return orb.Bound{}, fmt.Errorf("geometry bounds: %w", err)
	}
	return orb.Bound{Min: orb.Point{b[0], b[1]}, Max: orb.Point{b[2], b[3]}}, nil
}

func hasSRS(sr *godal.SpatialRef) bool {
	if sr == nil {
		return false
	}
	wkt, err := sr.WKT()
	return err == nil && wkt != ""
}

// Len returns the number of loaded features
func (l *Labels) Len() int {
	return len(l.features)
}

// Close releases the loaded geometries
func (l *Labels) Close() {
	for i := range l.features {
		l.features[i].geom.Close()
	}
	l.features = nil
}

// Matches are the features selected by Labels.Match for a given extent
type Matches struct {
	Extent   Extent
	WKT      string
	features []*label
}

// Count returns the number of matched features
func (m Matches) Count() int {
	return len(m.features)
}

// Match selects the features whose geometry intersects the polygon of e.
// Features whose bounding box only touches e along an edge are not selected.
// Each call is independent of the previous ones.
func (l *Labels) Match(e Extent) (Matches, error) {
	m := Matches{Extent: e, WKT: e.PolygonWKT()}
	var filter *godal.Geometry
	for i := range l.features {
		f := &l.features[i]
		if !e.Overlaps(f.bound) {
			continue
		}
		if filter == nil {
			var err error
			if filter, err = godal.NewGeometryFromWKT(m.WKT, nil); err != nil {
				return m, fmt.Errorf("filter geometry %s: %w", m.WKT, err)
			}
			defer filter.Close()
		}
		ok, err := f.geom.Intersects(filter)
		if err != nil {
			return m, fmt.Errorf("intersects %s: %w", m.WKT, err)
		}
		if ok {
			m.features = append(m.features, f)
		}
	}
	return m, nil
}

// Burn rasterizes the matched features into the first band of ds, with their
// label value. All pixels touched by a geometry are burnt.
func (m Matches) Burn(ds *godal.Dataset) error {
	for _, f := range m.features {
		if err := ds.RasterizeGeometry(f.geom,
			godal.Bands(0),
			godal.Values(f.value),
			godal.AllTouched()); err != nil {
			return fmt.Errorf("rasterize: %w", err)
		}
	}
	return nil
}
