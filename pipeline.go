package chipper

import (
	"context"
	"fmt"

	"github.com/airbusgeo/chipper/internal/log"
	"github.com/airbusgeo/godal"
	"go.uber.org/zap"
)

// DefaultImageCreationOptions are the GTiff creation options of image tiles
var DefaultImageCreationOptions = []string{"COMPRESS=DEFLATE"}

// DefaultLabelCreationOptions are the GTiff creation options of label tiles
var DefaultLabelCreationOptions = []string{"TILED=YES", "COMPRESS=DEFLATE", "PREDICTOR=2"}

// A Pipeline cuts a raster into tiles, and writes the image and label tiles
// of the windows that intersect at least one label feature
type Pipeline struct {
	tileSize      int
	bands         int
	low, high     float64
	imageCreation []string
	labelCreation []string
	config        []string
	observer      func(Event)
	normalizer    Normalizer
}

type PipelineOption func(p *Pipeline) error

// ChipSize sets the tile size in pixels. Defaults to 512
func ChipSize(size int) PipelineOption {
	return func(p *Pipeline) error {
		if size <= 0 {
			return ErrInvalidOption{"tile size must be >=1"}
		}
		p.tileSize = size
		return nil
	}
}

// ChipBands limits the image tiles to the first count bands of the source.
// 0 keeps all bands
func ChipBands(count int) PipelineOption {
	return func(p *Pipeline) error {
		if count < 0 {
			return ErrInvalidOption{"band count must be >=0"}
		}
		p.bands = count
		return nil
	}
}

// Contrast sets the percentiles of the per-channel contrast stretch
func Contrast(low, high float64) PipelineOption {
	return func(p *Pipeline) error {
		p.low, p.high = low, high
		return nil
	}
}

// ImageCreationOptions replaces DefaultImageCreationOptions
func ImageCreationOptions(opts ...string) PipelineOption {
	return func(p *Pipeline) error {
		p.imageCreation = opts
		return nil
	}
}

// LabelCreationOptions replaces DefaultLabelCreationOptions
func LabelCreationOptions(opts ...string) PipelineOption {
	return func(p *Pipeline) error {
		p.labelCreation = opts
		return nil
	}
}

// GDALConfig sets gdal configuration options used when writing tiles
func GDALConfig(opts ...string) PipelineOption {
	return func(p *Pipeline) error {
		p.config = opts
		return nil
	}
}

// OnWindow registers a function called after each window has been processed
func OnWindow(fn func(Event)) PipelineOption {
	return func(p *Pipeline) error {
		p.observer = fn
		return nil
	}
}

func NewPipeline(options ...PipelineOption) (*Pipeline, error) {
	p := &Pipeline{
		tileSize:      512,
		low:           2,
		high:          98,
		imageCreation: DefaultImageCreationOptions,
		labelCreation: DefaultLabelCreationOptions,
	}
	for _, o := range options {
		if err := o(p); err != nil {
			return nil, err
		}
	}
	var err error
	if p.normalizer, err = NewNormalizer(Channels(p.bands), ContrastPercentiles(p.low, p.high)); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) TileSize() int {
	return p.tileSize
}

// An Event describes the outcome of a single window
type Event struct {
	X, Y    int
	Extent  Extent
	WKT     string
	Count   int
	Emitted bool
	// ID and Image are only set for emitted windows
	ID    int
	Image string
}

// Stats summarizes a run
type Stats struct {
	Windows, Skipped, Emitted int
	// FirstID and LastID are the ids of the first and last emitted tiles, 0 if
	// none were emitted
	FirstID, LastID int
}

// Run processes all the windows of src. Windows that match no label feature
// are skipped. For the others, the next id is allocated, the image and label
// tiles are written to layout, and the manifest is flushed before moving on to
// the next window. Any error aborts the run; tiles written before the failure
// stay listed in the manifest.
//
// ctx is checked between windows.
func (p *Pipeline) Run(ctx context.Context, src *Raster, labels *Labels, layout Layout) (Stats, error) {
	var stats Stats
	gt := src.GeoTransform
	if err := CheckNorthUp(gt); err != nil {
		return stats, fmt.Errorf("%s: %w", src.Name, err)
	}
	if err := layout.Prepare(); err != nil {
		return stats, err
	}
	manifest, err := LoadManifest(layout.ManifestPath())
	if err != nil {
		return stats, err
	}
	windower, err := NewWindower(src.Pixels, TileSize(p.tileSize))
	if err != nil {
		return stats, err
	}
	l := log.Logger(ctx)
	resX, resY := Resolution(gt)
	global := src.Extent()
	id := manifest.MaxID()
	l.Info("start tiling",
		zap.String("image", src.Name),
		zap.String("labels", labels.Name),
		zap.Float64("resX", resX), zap.Float64("resY", resY),
		zap.Int("channels", src.Pixels.Channels),
		zap.Int("windows", windower.Count()),
		zap.Int("nextID", id+1))

	for win := range windower.Windows() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Windows++
		ext := TileExtent(global.Left, global.Top, win.X, win.Y, p.tileSize, resX, resY)
		matches, err := labels.Match(ext)
		if err != nil {
			return stats, err
		}
		ev := Event{X: win.X, Y: win.Y, Extent: ext, WKT: matches.WKT, Count: matches.Count()}
		wl := l.With(zap.Int("x", win.X), zap.Int("y", win.Y),
			zap.String("wkt", matches.WKT), zap.Int("count", matches.Count()))
		if matches.Count() == 0 {
			stats.Skipped++
			wl.Info("skip window")
			p.notify(ev)
			continue
		}

		id++
		image := TileName(id)
		tileGT := [6]float64{ext.Left, resX, 0, ext.Bottom, 0, resY}
		chip, channels := p.normalizer.Chip(win)
		if err := p.writeImage(layout.ImagePath(image), chip, channels, tileGT, src.Projection); err != nil {
			return stats, err
		}
		if err := p.writeLabel(layout.LabelPath(image), matches, tileGT, src.Projection); err != nil {
			return stats, err
		}
		if err := manifest.Append(Record{ID: id, Image: image}); err != nil {
			return stats, err
		}
		stats.Emitted++
		if stats.FirstID == 0 {
			stats.FirstID = id
		}
		stats.LastID = id
		ev.Emitted, ev.ID, ev.Image = true, id, image
		wl.Info("emit tile", zap.Int("id", id), zap.String("image", image))
		p.notify(ev)
	}
	l.Info("done tiling",
		zap.Int("windows", stats.Windows),
		zap.Int("skipped", stats.Skipped),
		zap.Int("emitted", stats.Emitted))
	return stats, nil
}

func (p *Pipeline) notify(ev Event) {
	if p.observer != nil {
		p.observer(ev)
	}
}

func (p *Pipeline) create(path string, bands int, creation []string, gt [6]float64, projection string) (*godal.Dataset, error) {
	ds, err := godal.Create(godal.GTiff, path, bands, godal.Byte, p.tileSize, p.tileSize,
		godal.CreationOption(creation...),
		godal.ConfigOption(p.config...))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	if projection != "" {
		if err := ds.SetProjection(projection); err != nil {
			ds.Close()
			return nil, fmt.Errorf("set projection of %s: %w", path, err)
		}
	}
	if err := ds.SetGeoTransform(gt); err != nil {
		ds.Close()
		return nil, fmt.Errorf("set geotransform of %s: %w", path, err)
	}
	return ds, nil
}

func (p *Pipeline) writeImage(path string, chip []byte, channels int, gt [6]float64, projection string) error {
	ds, err := p.create(path, channels, p.imageCreation, gt, projection)
	if err != nil {
		return err
	}
	if err := ds.Write(0, 0, chip, p.tileSize, p.tileSize); err != nil {
		ds.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := ds.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func (p *Pipeline) writeLabel(path string, matches Matches, gt [6]float64, projection string) error {
	ds, err := p.create(path, 1, p.labelCreation, gt, projection)
	if err != nil {
		return err
	}
	if err := matches.Burn(ds); err != nil {
		ds.Close()
		return fmt.Errorf("burn %s: %w", path, err)
	}
	if err := ds.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}
