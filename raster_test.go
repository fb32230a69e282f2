package chipper

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/airbusgeo/godal"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	godal.RegisterAll()
	os.Exit(m.Run())
}

// createRaster writes a byte GTiff whose pixel values are given by value
func createRaster(t *testing.T, path string, w, h, bands int, gt [6]float64, projection string,
	value func(x, y, b int) byte) {
	t.Helper()
	ds, err := godal.Create(godal.GTiff, path, bands, godal.Byte, w, h)
	require.NoError(t, err)
	require.NoError(t, ds.SetGeoTransform(gt))
	if projection != "" {
		require.NoError(t, ds.SetProjection(projection))
	}
	buf := make([]byte, w*h*bands)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for b := 0; b < bands; b++ {
				buf[(y*w+x)*bands+b] = value(x, y, b)
			}
		}
	}
	require.NoError(t, ds.Write(0, 0, buf, w, h))
	require.NoError(t, ds.Close())
}

func epsgWKT(t *testing.T, code int) string {
	t.Helper()
	sr, err := godal.NewSpatialRefFromEPSG(code)
	require.NoError(t, err)
	defer sr.Close()
	wkt, err := sr.WKT()
	require.NoError(t, err)
	return wkt
}

// labelFeature is a polygon and the properties of its geojson feature
type labelFeature struct {
	poly  orb.Polygon
	props geojson.Properties
}

// writeLabels writes a geojson feature collection. A non zero epsg code is
// written as the collection's crs member.
func writeLabels(t *testing.T, path string, epsg int, features ...labelFeature) {
	t.Helper()
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		gf := geojson.NewFeature(f.poly)
		gf.Properties = f.props
		fc.Append(gf)
	}
	if epsg != 0 {
		fc.ExtraMembers = geojson.Properties{
			"crs": map[string]interface{}{
				"type":       "name",
				"properties": map[string]interface{}{"name": "urn:ogc:def:crs:EPSG::" + strconv.Itoa(epsg)},
			},
		}
	}
	buf, err := fc.MarshalJSON()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, buf, 0o644))
}

func box(left, bottom, right, top float64) orb.Polygon {
	return Extent{Left: left, Right: right, Bottom: bottom, Top: top}.Polygon()
}

func TestOpenRaster(t *testing.T) {
	path := filepath.Join(t.TempDir(), "src.tif")
	gt := [6]float64{100, 2, 0, 500, 0, -2}
	createRaster(t, path, 30, 20, 3, gt, epsgWKT(t, 32631), func(x, y, b int) byte {
		return byte(x + y + 100*b)
	})

	r, err := OpenRaster(path, 0)
	require.NoError(t, err)
	assert.Equal(t, gt, r.GeoTransform)
	assert.NotEmpty(t, r.Projection)
	assert.Equal(t, 30, r.Pixels.Width)
	assert.Equal(t, 20, r.Pixels.Height)
	assert.Equal(t, 3, r.Pixels.Channels)
	assert.Equal(t, float32(5+7), r.Pixels.At(5, 7, 0))
	assert.Equal(t, float32(5+7+200), r.Pixels.At(5, 7, 2))
	assert.Equal(t, Extent{Left: 100, Right: 160, Bottom: 460, Top: 500}, r.Extent())

	sr, err := r.SpatialRef()
	require.NoError(t, err)
	require.NotNil(t, sr)
	sr.Close()

	r, err = OpenRaster(path, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Pixels.Channels)
	assert.Equal(t, float32(5+7+100), r.Pixels.At(5, 7, 1))

	_, err = OpenRaster(path, 4)
	assert.Error(t, err)
	_, err = OpenRaster(path, -1)
	assert.ErrorAs(t, err, &ErrInvalidOption{})
	_, err = OpenRaster(filepath.Join(t.TempDir(), "missing.tif"), 0)
	assert.Error(t, err)
}

func TestOpenRasterNoProjection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "src.tif")
	createRaster(t, path, 4, 4, 1, [6]float64{0, 1, 0, 4, 0, -1}, "", func(x, y, b int) byte { return 1 })
	r, err := OpenRaster(path, 0)
	require.NoError(t, err)
	sr, err := r.SpatialRef()
	require.NoError(t, err)
	assert.Nil(t, sr)
}
