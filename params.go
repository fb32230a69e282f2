package chipper

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"sigs.k8s.io/yaml"
)

// Params are the build settings that can be read from a yaml file. Zero
// values mean "not set".
//
//	tile_size: 256
//	image_bands: 3
//	contrast: {low: 1, high: 99}
//	image_creation_options: {COMPRESS: ZSTD}
//	label_creation_options: {PREDICTOR: ""}
//	gdal_config: {GDAL_NUM_THREADS: "2"}
type Params struct {
	Root                 string            `json:"root,omitempty"`
	Dataset              string            `json:"dataset,omitempty"`
	TileSize             int               `json:"tile_size,omitempty"`
	Bands                int               `json:"image_bands,omitempty"`
	Contrast             *Percentiles      `json:"contrast,omitempty"`
	ImageCreationOptions map[string]string `json:"image_creation_options,omitempty"`
	LabelCreationOptions map[string]string `json:"label_creation_options,omitempty"`
	GDALConfig           map[string]string `json:"gdal_config,omitempty"`
}

type Percentiles struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// LoadParams reads the yaml file at path. Unknown keys are an error
func LoadParams(path string) (Params, error) {
	var p Params
	buf, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read params: %w", err)
	}
	if err := yaml.UnmarshalStrict(buf, &p); err != nil {
		return p, fmt.Errorf("parse params %s: %w", path, err)
	}
	if p.TileSize < 0 {
		return p, ErrInvalidOption{"params: tile_size must be >=1"}
	}
	if p.Bands < 0 {
		return p, ErrInvalidOption{"params: image_bands must be >=0"}
	}
	return p, nil
}

// PipelineOptions returns the options matching the fields set in p. Creation
// options are merged into the pipeline defaults.
func (p Params) PipelineOptions() []PipelineOption {
	var opts []PipelineOption
	if p.TileSize > 0 {
		opts = append(opts, ChipSize(p.TileSize))
	}
	if p.Bands > 0 {
		opts = append(opts, ChipBands(p.Bands))
	}
	if p.Contrast != nil {
		opts = append(opts, Contrast(p.Contrast.Low, p.Contrast.High))
	}
	if len(p.ImageCreationOptions) > 0 {
		opts = append(opts, ImageCreationOptions(p.ImageOptions()...))
	}
	if len(p.LabelCreationOptions) > 0 {
		opts = append(opts, LabelCreationOptions(p.LabelOptions()...))
	}
	if len(p.GDALConfig) > 0 {
		opts = append(opts, GDALConfig(p.ConfigOptions()...))
	}
	return opts
}

// ImageOptions returns DefaultImageCreationOptions overridden by
// p.ImageCreationOptions
func (p Params) ImageOptions() []string {
	return MergeOptions(DefaultImageCreationOptions, pairs(p.ImageCreationOptions)...)
}

func (p Params) LabelOptions() []string {
	return MergeOptions(DefaultLabelCreationOptions, pairs(p.LabelCreationOptions)...)
}

func (p Params) ConfigOptions() []string {
	return MergeOptions(nil, pairs(p.GDALConfig)...)
}

func pairs(m map[string]string) []string {
	kv := make([]string, 0, len(m))
	for k, v := range m {
		kv = append(kv, k+"="+v)
	}
	sort.Strings(kv)
	return kv
}

// MergeOptions applies KEY=VALUE overrides to base. An override with an empty
// value (KEY=) removes KEY. Keys are compared case insensitively, and the
// result is sorted by key.
func MergeOptions(base []string, overrides ...string) []string {
	merged := map[string]string{}
	names := map[string]string{}
	set := func(kv string) {
		k, v, _ := strings.Cut(kv, "=")
		uk := strings.ToUpper(k)
		if v == "" {
			delete(merged, uk)
			return
		}
		merged[uk] = v
		names[uk] = k
	}
	for _, kv := range base {
		set(kv)
	}
	for _, kv := range overrides {
		set(kv)
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	opts := make([]string, len(keys))
	for i, k := range keys {
		opts[i] = names[k] + "=" + merged[k]
	}
	return opts
}
