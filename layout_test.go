package chipper

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayout(t *testing.T) {
	l, err := NewLayout("data", "train")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("data", "train_images"), l.ImagesDir())
	assert.Equal(t, filepath.Join("data", "train_label"), l.LabelsDir())
	assert.Equal(t, filepath.Join("data", "train.csv"), l.ManifestPath())
	assert.Equal(t, filepath.Join("data", "train_images", "12.tif"), l.ImagePath(TileName(12)))
	assert.Equal(t, filepath.Join("data", "train_label", "12.tif"), l.LabelPath(TileName(12)))

	l, err = NewLayout("", "val")
	require.NoError(t, err)
	assert.Equal(t, "val.csv", l.ManifestPath())

	_, err = NewLayout("data", "")
	assert.ErrorAs(t, err, &ErrInvalidOption{})
	_, err = NewLayout("data", "a/b")
	assert.ErrorAs(t, err, &ErrInvalidOption{})
}

func TestTileID(t *testing.T) {
	testfunc := func(name string, id int, ok bool) {
		t.Helper()
		gid, gok := TileID(name)
		assert.Equal(t, ok, gok, name)
		assert.Equal(t, id, gid, name)
	}
	type tc struct {
		name string
		id   int
		ok   bool
	}
	cases := []tc{
		{"1.tif", 1, true},
		{"1234.tif", 1234, true},
		{TileName(42), 42, true},
		{"0.tif", 0, false},
		{"01.tif", 0, false},
		{"-1.tif", 0, false},
		{"a.tif", 0, false},
		{"1.tiff", 0, false},
		{"1.tif.aux.xml", 0, false},
		{".tif", 0, false},
	}
	for _, c := range cases {
		testfunc(c.name, c.id, c.ok)
	}
}

func TestLayoutPrepare(t *testing.T) {
	l, err := NewLayout(filepath.Join(t.TempDir(), "data"), "train")
	require.NoError(t, err)
	require.NoError(t, l.Prepare())
	assert.DirExists(t, l.ImagesDir())
	assert.DirExists(t, l.LabelsDir())
	require.NoError(t, l.Prepare())
}
