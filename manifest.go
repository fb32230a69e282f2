package chipper

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

var ErrManifest = errors.New("invalid manifest")

// A Record maps a dataset id to the filename of its tiles
type Record struct {
	ID    int
	Image string
}

// A Manifest is the append-only list of tiles of a dataset, persisted as a
// csv file with an "id,image" header
type Manifest struct {
	path    string
	records []Record
	maxID   int
}

// LoadManifest reads the manifest at path. A missing file results in an empty
// manifest, that will only be created on the first Append.
func LoadManifest(path string) (*Manifest, error) {
	m := &Manifest{path: path}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	if err := m.decode(f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func (m *Manifest) decode(r io.Reader) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrManifest, err)
	}
	idCol, imgCol := -1, -1
	for i, h := range header {
		switch h {
		case "id":
			idCol = i
		case "image":
			imgCol = i
		}
	}
	if idCol < 0 || imgCol < 0 {
		return fmt.Errorf("%w: header %v must contain id and image columns", ErrManifest, header)
	}
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrManifest, err)
		}
		if len(row) <= idCol || len(row) <= imgCol {
			return fmt.Errorf("%w: line %d has %d columns", ErrManifest, line, len(row))
		}
		id, err := strconv.Atoi(row[idCol])
		if err != nil || id < 1 {
			return fmt.Errorf("%w: line %d: invalid id %q", ErrManifest, line, row[idCol])
		}
		m.records = append(m.records, Record{ID: id, Image: row[imgCol]})
		m.maxID = max(m.maxID, id)
	}
}

func (m *Manifest) Path() string {
	return m.path
}

// Records returns a copy of the manifest's records, in file order
func (m *Manifest) Records() []Record {
	return append([]Record(nil), m.records...)
}

func (m *Manifest) Len() int {
	return len(m.records)
}

// MaxID returns the highest id of the manifest, or 0 if it is empty
func (m *Manifest) MaxID() int {
	return m.maxID
}

// NextID returns the id to use for the next record: max(ids)+1, or 1 for an
// empty manifest
func (m *Manifest) NextID() int {
	return m.maxID + 1
}

// Append adds rec and synchronously rewrites the whole manifest. The new file
// is written next to the old one and renamed over it, so that the manifest on
// disk is always complete. rec.ID must be greater than all existing ids.
func (m *Manifest) Append(rec Record) error {
	if rec.ID <= m.maxID {
		return fmt.Errorf("%w: id %d is not greater than %d", ErrManifest, rec.ID, m.maxID)
	}
	records := append(m.records, rec)
	if err := m.flush(records); err != nil {
		return err
	}
	m.records = records
	m.maxID = rec.ID
	return nil
}

func (m *Manifest) flush(records []Record) error {
	dir := filepath.Dir(m.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(m.path)+"-*")
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod manifest: %w", err)
	}
	w := csv.NewWriter(tmp)
	_ = w.Write([]string{"id", "image"})
	for _, r := range records {
		_ = w.Write([]string{strconv.Itoa(r.ID), r.Image})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.path); err != nil {
		return fmt.Errorf("rename manifest: %w", err)
	}
	return nil
}
