package chipper

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
)

var ErrNotGeoreferenced = errors.New("tiff has no georeferencing tags")

// tileIFD is the subset of tiff tags needed to describe a written tile
type tileIFD struct {
	ImageWidth          uint64   `tiff:"field,tag=256"`
	ImageLength         uint64   `tiff:"field,tag=257"`
	BitsPerSample       []uint16 `tiff:"field,tag=258"`
	Compression         uint16   `tiff:"field,tag=259"`
	SamplesPerPixel     uint16   `tiff:"field,tag=277"`
	PlanarConfiguration uint16   `tiff:"field,tag=284"`
	Predictor           uint16   `tiff:"field,tag=317"`
	TileWidth           uint16   `tiff:"field,tag=322"`
	TileLength          uint16   `tiff:"field,tag=323"`

	ModelPixelScaleTag     []float64 `tiff:"field,tag=33550"`
	ModelTiePointTag       []float64 `tiff:"field,tag=33922"`
	ModelTransformationTag []float64 `tiff:"field,tag=34264"`
	GeoKeyDirectoryTag     []uint16  `tiff:"field,tag=34735"`
}

// TileInfo describes the first image of a tiff file
type TileInfo struct {
	Width, Height int
	Bands         int
	BitsPerSample int
	// Compression is the raw tiff compression code, 1 for none, 8 for deflate
	Compression uint16
	Predictor   uint16
	Tiled       bool
	// GeoTransform is only valid if Georeferenced is set
	GeoTransform  [6]float64
	Georeferenced bool
	HasGeoKeys    bool
}

// Deflate reports whether the tile is deflate compressed
func (ti TileInfo) Deflate() bool {
	return ti.Compression == 8 || ti.Compression == 32946
}

// InspectTile parses the tiff headers of the file at path, without decoding
// any pixel data
func InspectTile(path string) (TileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return TileInfo{}, err
	}
	defer f.Close()
	tif, err := tiff.Parse(f, nil, nil)
	if err != nil {
		return TileInfo{}, fmt.Errorf("parse %s: %w", path, err)
	}
	ifds := tif.IFDs()
	if len(ifds) == 0 {
		return TileInfo{}, fmt.Errorf("%s: no ifd", path)
	}
	if err := sanityCheckIFD(ifds[0]); err != nil {
		return TileInfo{}, fmt.Errorf("%s: %w", path, err)
	}
	tifd := tileIFD{}
	if err := tiff.UnmarshalIFD(ifds[0], &tifd); err != nil {
		return TileInfo{}, fmt.Errorf("%s: %w", path, err)
	}
	return tifd.info(), nil
}

func sanityCheckIFD(ifd tiff.IFD) error {
	to := ifd.GetField(324)
	tl := ifd.GetField(325)
	so := ifd.GetField(273)
	sl := ifd.GetField(279)
	switch {
	case to != nil && tl != nil:
		if to.Count() != tl.Count() {
			return fmt.Errorf("inconsistent tile off/len count")
		}
	case so != nil && sl != nil:
		if so.Count() != sl.Count() {
			return fmt.Errorf("inconsistent strip off/len count")
		}
	default:
		return fmt.Errorf("no tiles or strips")
	}
	return nil
}

func (tifd tileIFD) info() TileInfo {
	ti := TileInfo{
		Width:       int(tifd.ImageWidth),
		Height:      int(tifd.ImageLength),
		Bands:       int(tifd.SamplesPerPixel),
		Compression: tifd.Compression,
		Predictor:   tifd.Predictor,
		Tiled:       tifd.TileWidth > 0 && tifd.TileLength > 0,
		HasGeoKeys:  len(tifd.GeoKeyDirectoryTag) > 0,
	}
	if ti.Bands == 0 {
		ti.Bands = 1
	}
	if ti.Compression == 0 {
		ti.Compression = 1
	}
	if ti.Predictor == 0 {
		ti.Predictor = 1
	}
	if len(tifd.BitsPerSample) > 0 {
		ti.BitsPerSample = int(tifd.BitsPerSample[0])
	}
	ti.GeoTransform, ti.Georeferenced = tifd.geoTransform()
	return ti
}

func (tifd tileIFD) geoTransform() ([6]float64, bool) {
	if m := tifd.ModelTransformationTag; len(m) == 16 {
		return [6]float64{m[3], m[0], m[1], m[7], m[4], m[5]}, true
	}
	tp, sc := tifd.ModelTiePointTag, tifd.ModelPixelScaleTag
	if len(tp) >= 6 && len(sc) >= 2 {
		return [6]float64{
			tp[3] - tp[0]*sc[0], sc[0], 0,
			tp[4] + tp[1]*sc[1], 0, -sc[1],
		}, true
	}
	return [6]float64{}, false
}
