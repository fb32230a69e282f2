package chipper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/airbusgeo/chipper/internal/log"
	"github.com/tbonfort/gobs"
	"go.uber.org/zap"
)

var ErrTileMismatch = errors.New("tile does not match dataset")

// A Problem is an inconsistency found by Verify for a single tile file
type Problem struct {
	ID   int
	Path string
	Err  error
}

func (p Problem) String() string {
	return fmt.Sprintf("%d %s: %v", p.ID, p.Path, p.Err)
}

// A Report is the outcome of Verify
type Report struct {
	Records int
	// Problems are sorted by id then path
	Problems []Problem
	// Orphans are tile files that are not listed in the manifest
	Orphans []string
	// Pruned is set if Orphans have been removed
	Pruned bool
}

func (r Report) OK() bool {
	return len(r.Problems) == 0 && (len(r.Orphans) == 0 || r.Pruned)
}

// A Verifier checks the tiles of a dataset against its manifest
type Verifier struct {
	tileSize    int
	prune       bool
	parallelism int
}

type VerifierOption func(v *Verifier) error

// VerifyTileSize sets the expected tile size. Defaults to 512
func VerifyTileSize(size int) VerifierOption {
	return func(v *Verifier) error {
		if size <= 0 {
			return ErrInvalidOption{"tile size must be >=1"}
		}
		v.tileSize = size
		return nil
	}
}

// Prune removes the orphan tile files
func Prune(prune bool) VerifierOption {
	return func(v *Verifier) error {
		v.prune = prune
		return nil
	}
}

// Parallelism sets the number of tiles inspected concurrently. Defaults to 4
func Parallelism(n int) VerifierOption {
	return func(v *Verifier) error {
		if n <= 0 {
			return ErrInvalidOption{"parallelism must be >=1"}
		}
		v.parallelism = n
		return nil
	}
}

func NewVerifier(options ...VerifierOption) (*Verifier, error) {
	v := &Verifier{tileSize: 512, parallelism: 4}
	for _, o := range options {
		if err := o(v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Verify checks that each manifest record has an image and a label tile of
// the expected size, with matching georeferencing. Tile files whose id is not
// in the manifest are reported as orphans. Those are left over by an
// interrupted run, and are overwritten by the next one.
//
// The returned error is only set if the manifest or tile directories could not
// be read.
func (v *Verifier) Verify(ctx context.Context, layout Layout) (Report, error) {
	var report Report
	manifest, err := LoadManifest(layout.ManifestPath())
	if err != nil {
		return report, err
	}
	records := manifest.Records()
	report.Records = len(records)
	l := log.Logger(ctx)

	var mu sync.Mutex
	addProblem := func(p Problem) {
		mu.Lock()
		report.Problems = append(report.Problems, p)
		mu.Unlock()
	}

	pool := gobs.NewPool(v.parallelism)
	batch := pool.Batch()
	for _, rec := range records {
		batch.Submit(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for _, p := range v.checkRecord(layout, rec) {
				addProblem(p)
			}
			return nil
		})
	}
	if err := batch.Wait(); err != nil {
		return report, err
	}
	slices.SortFunc(report.Problems, func(a, b Problem) int {
		if a.ID != b.ID {
			return a.ID - b.ID
		}
		if a.Path < b.Path {
			return -1
		}
		if a.Path > b.Path {
			return 1
		}
		return 0
	})

	known := make(map[string]bool, len(records))
	for _, rec := range records {
		known[rec.Image] = true
	}
	for _, dir := range []string{layout.ImagesDir(), layout.LabelsDir()} {
		orphans, err := orphanTiles(dir, known)
		if err != nil {
			return report, err
		}
		report.Orphans = append(report.Orphans, orphans...)
	}
	if v.prune && len(report.Orphans) > 0 {
		for _, o := range report.Orphans {
			if err := os.Remove(o); err != nil {
				return report, fmt.Errorf("prune: %w", err)
			}
			l.Info("pruned orphan", zap.String("path", o))
		}
		report.Pruned = true
	}
	l.Info("verified dataset",
		zap.String("manifest", layout.ManifestPath()),
		zap.Int("records", report.Records),
		zap.Int("problems", len(report.Problems)),
		zap.Int("orphans", len(report.Orphans)))
	return report, nil
}

func (v *Verifier) checkRecord(layout Layout, rec Record) []Problem {
	var problems []Problem
	if _, ok := TileID(rec.Image); !ok {
		problems = append(problems, Problem{rec.ID, rec.Image,
			fmt.Errorf("%w: %q is not a tile filename", ErrTileMismatch, rec.Image)})
	}
	imgPath, lblPath := layout.ImagePath(rec.Image), layout.LabelPath(rec.Image)
	img, imgErr := v.checkTile(imgPath, 0)
	if imgErr != nil {
		problems = append(problems, Problem{rec.ID, imgPath, imgErr})
	}
	lbl, lblErr := v.checkTile(lblPath, 1)
	if lblErr != nil {
		problems = append(problems, Problem{rec.ID, lblPath, lblErr})
	}
	if imgErr == nil && lblErr == nil && !sameGeoTransform(img.GeoTransform, lbl.GeoTransform) {
		problems = append(problems, Problem{rec.ID, lblPath,
			fmt.Errorf("%w: geotransform %v differs from image %v", ErrTileMismatch, lbl.GeoTransform, img.GeoTransform)})
	}
	return problems
}

// checkTile inspects the tile at path. bands==0 accepts any band count
func (v *Verifier) checkTile(path string, bands int) (TileInfo, error) {
	ti, err := InspectTile(path)
	if err != nil {
		return ti, err
	}
	if ti.Width != v.tileSize || ti.Height != v.tileSize {
		return ti, fmt.Errorf("%w: size %dx%d, expected %dx%d", ErrTileMismatch,
			ti.Width, ti.Height, v.tileSize, v.tileSize)
	}
	if bands > 0 && ti.Bands != bands {
		return ti, fmt.Errorf("%w: %d bands, expected %d", ErrTileMismatch, ti.Bands, bands)
	}
	if ti.BitsPerSample != 8 {
		return ti, fmt.Errorf("%w: %d bits per sample, expected 8", ErrTileMismatch, ti.BitsPerSample)
	}
	if !ti.Georeferenced {
		return ti, ErrNotGeoreferenced
	}
	return ti, nil
}

func sameGeoTransform(a, b [6]float64) bool {
	for i := range a {
		tol := 1e-9 * max(1, math.Abs(a[i]))
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}

func orphanTiles(dir string, known map[string]bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var orphans []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := TileID(e.Name()); !ok {
			continue
		}
		if !known[e.Name()] {
			orphans = append(orphans, filepath.Join(dir, e.Name()))
		}
	}
	return orphans, nil
}
