package chipper

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// A Layout locates the files of a named dataset under a root directory:
//
//	{root}/{name}_images/{id}.tif
//	{root}/{name}_label/{id}.tif
//	{root}/{name}.csv
type Layout struct {
	Root string
	Name string
}

func NewLayout(root, name string) (Layout, error) {
	if name == "" {
		return Layout{}, ErrInvalidOption{"dataset name must not be empty"}
	}
	if strings.ContainsAny(name, `/\`) {
		return Layout{}, ErrInvalidOption{fmt.Sprintf("dataset name %q must not contain path separators", name)}
	}
	if root == "" {
		root = "."
	}
	return Layout{Root: root, Name: name}, nil
}

func (l Layout) ImagesDir() string {
	return filepath.Join(l.Root, l.Name+"_images")
}

func (l Layout) LabelsDir() string {
	return filepath.Join(l.Root, l.Name+"_label")
}

func (l Layout) ManifestPath() string {
	return filepath.Join(l.Root, l.Name+".csv")
}

// TileName returns the filename shared by the image and label tiles of id
func TileName(id int) string {
	return strconv.Itoa(id) + ".tif"
}

// TileID parses a filename created by TileName
func TileID(name string) (int, bool) {
	base, ok := strings.CutSuffix(name, ".tif")
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(base)
	if err != nil || id < 1 || strconv.Itoa(id) != base {
		return 0, false
	}
	return id, true
}

func (l Layout) ImagePath(image string) string {
	return filepath.Join(l.ImagesDir(), image)
}

func (l Layout) LabelPath(image string) string {
	return filepath.Join(l.LabelsDir(), image)
}

// Prepare creates the tile directories
func (l Layout) Prepare() error {
	for _, d := range []string{l.ImagesDir(), l.LabelsDir()} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}
