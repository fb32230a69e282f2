package chipper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/airbusgeo/godal"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabelsMatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.geojson")
	writeLabels(t, path, 0,
		labelFeature{box(0, 512, 512, 1024), map[string]interface{}{"class_id": 1}},
		labelFeature{box(600, 600, 700, 700), map[string]interface{}{"class_id": 2}},
		labelFeature{box(650, 650, 1000, 1000), map[string]interface{}{"class_id": 3}},
	)
	labels, err := OpenLabels(path, "class_id", nil)
	require.NoError(t, err)
	defer labels.Close()
	assert.Equal(t, 3, labels.Len())

	testfunc := func(e Extent, expected int) {
		t.Helper()
		m, err := labels.Match(e)
		require.NoError(t, err)
		assert.Equal(t, expected, m.Count(), "%v", e)
		assert.Equal(t, e.PolygonWKT(), m.WKT)
	}
	type tc struct {
		e        Extent
		expected int
	}
	cases := []tc{
		{TileExtent(0, 1024, 0, 0, 512, 1, 1), 1},
		// shares an edge with the first feature
		{TileExtent(0, 1024, 512, 0, 512, 1, 1), 2},
		{TileExtent(0, 1024, 0, 512, 512, 1, 1), 0},
		{TileExtent(0, 1024, 512, 512, 512, 1, 1), 0},
		{Extent{Left: 0, Right: 2000, Bottom: 0, Top: 2000}, 3},
		{Extent{Left: 660, Right: 690, Bottom: 660, Top: 690}, 2},
		{Extent{Left: 5000, Right: 6000, Bottom: 0, Top: 10}, 0},
	}
	// matches are independent of the previous calls
	for _, c := range cases {
		testfunc(c.e, c.expected)
	}
	for i := len(cases) - 1; i >= 0; i-- {
		testfunc(cases[i].e, cases[i].expected)
	}
}

func TestLabelsGeometryFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.geojson")
	writeLabels(t, path, 0, labelFeature{
		poly:  orb.Polygon{orb.Ring{{0, 0}, {0, 100}, {100, 0}, {0, 0}}},
		props: map[string]interface{}{"class_id": 1},
	})
	labels, err := OpenLabels(path, "class_id", nil)
	require.NoError(t, err)
	defer labels.Close()

	// the extent overlaps the triangle's bounding box, not the triangle
	m, err := labels.Match(Extent{Left: 80, Right: 100, Bottom: 80, Top: 100})
	require.NoError(t, err)
	assert.Equal(t, 0, m.Count())
	m, err = labels.Match(Extent{Left: 0, Right: 20, Bottom: 0, Top: 20})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Count())
}

func TestLabelsField(t *testing.T) {
	testfunc := func(props map[string]interface{}, expected error) {
		t.Helper()
		path := filepath.Join(t.TempDir(), "labels.geojson")
		writeLabels(t, path, 0,
			labelFeature{box(0, 0, 1, 1), map[string]interface{}{"class_id": 1}},
			labelFeature{box(0, 0, 1, 1), props})
		labels, err := OpenLabels(path, "class_id", nil)
		if expected == nil {
			require.NoError(t, err)
			labels.Close()
			return
		}
		assert.ErrorIs(t, err, expected)
		assert.Nil(t, labels)
	}
	type tc struct {
		props    map[string]interface{}
		expected error
	}
	cases := []tc{
		{map[string]interface{}{"class_id": 0}, nil},
		{map[string]interface{}{"class_id": 255}, nil},
		{map[string]interface{}{"class": 2}, ErrMissingField},
		{map[string]interface{}{"class_id": 256}, ErrLabelRange},
		{map[string]interface{}{"class_id": -1}, ErrLabelRange},
	}
	for _, c := range cases {
		testfunc(c.props, c.expected)
	}
}

func TestLabelsReproject(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.geojson")
	// geojson without a crs member is read as wgs84
	writeLabels(t, path, 0, labelFeature{
		box(1, 1, 1.01, 1.01), map[string]interface{}{"class_id": 7},
	})
	target, err := godal.NewSpatialRefFromEPSG(3857)
	require.NoError(t, err)
	defer target.Close()

	labels, err := OpenLabels(path, "class_id", target)
	require.NoError(t, err)
	defer labels.Close()
	require.Equal(t, 1, labels.Len())
	assert.InDelta(t, 111319.49, labels.features[0].bound.Min[0], 1)
	assert.InDelta(t, 111325.14, labels.features[0].bound.Min[1], 1)
	assert.Equal(t, 7.0, labels.features[0].value)

	m, err := labels.Match(Extent{Left: 0, Right: 1.5, Bottom: 0, Top: 1.5})
	require.NoError(t, err)
	assert.Equal(t, 0, m.Count())
	m, err = labels.Match(Extent{Left: 100000, Right: 200000, Bottom: 100000, Top: 200000})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Count())
}

func TestLabelsSameCRS(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.geojson")
	writeLabels(t, path, 32631, labelFeature{
		box(500000, 4000000, 500100, 4000100), map[string]interface{}{"class_id": 1},
	})
	target, err := godal.NewSpatialRefFromEPSG(32631)
	require.NoError(t, err)
	defer target.Close()
	labels, err := OpenLabels(path, "class_id", target)
	require.NoError(t, err)
	defer labels.Close()
	assert.InDelta(t, 500000, labels.features[0].bound.Min[0], 1e-6)
	assert.InDelta(t, 4000100, labels.features[0].bound.Max[1], 1e-6)
}

func TestLabelsNullGeometry(t *testing.T) {
	testfunc := func(props string) {
		t.Helper()
		path := filepath.Join(t.TempDir(), "labels.geojson")
		doc := `{"type":"FeatureCollection","features":[
{"type":"Feature","properties":` + props + `,"geometry":null},
{"type":"Feature","properties":{"class_id":3},
 "geometry":{"type":"Polygon","coordinates":[[[0,0],[0,1],[1,1],[1,0],[0,0]]]}}
]}`
		require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
		labels, err := OpenLabels(path, "class_id", nil)
		require.NoError(t, err, props)
		defer labels.Close()
		assert.Equal(t, 1, labels.Len())
	}
	for _, props := range []string{
		`{"class_id":1}`,
		`{"name":"unlabelled"}`,
		`{"class_id":1000}`,
	} {
		testfunc(props)
	}
}

func TestOpenLabelsErrors(t *testing.T) {
	_, err := OpenLabels(filepath.Join(t.TempDir(), "missing.geojson"), "class_id", nil)
	assert.Error(t, err)
}
