package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/airbusgeo/chipper"
	"github.com/airbusgeo/chipper/internal/log"
	"github.com/airbusgeo/godal"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var verbose bool
var startTime time.Time

func main() {
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()
	godal.RegisterAll()
	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chipper",
		Short: "cut a raster and its vector labels into training tiles",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			startTime = time.Now()
			if verbose {
				log.Development()
			} else {
				log.Structured()
			}
			cmd.SetContext(log.With(cmd.Context(), zap.String("run", uuid.NewString())))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			log.Logger(cmd.Context()).Sugar().Debugf("command %s took %.1fs",
				cmd.Name(), time.Since(startTime).Seconds())
			log.Sync()
		},
	}
	pflags := cmd.PersistentFlags()
	pflags.BoolVar(&verbose, "verbose", false, "verbose output")
	pflags.StringVar(&blocksize, "blocksize", "512k", "gs cache blocksize")
	pflags.IntVar(&numCachedBlocks, "numblocks", 1000, "number of gs cached blocks")
	cmd.AddCommand(newBuildCommand(), newVerifyCommand())
	return cmd
}

func newBuildCommand() *cobra.Command {
	var imageFile, labelsFile, labelsField string
	var dataset, root, paramsFile string
	var bands, tileSize int
	var copts, labelCopts, configOpts []string
	var progress bool

	cmd := &cobra.Command{
		Use:   "build",
		Short: "append the labelled tiles of an image to a dataset",
		Args:  cobra.NoArgs,
	}
	flags := cmd.Flags()
	flags.StringVar(&imageFile, "image_file", "", "source raster")
	flags.IntVar(&bands, "image_bands", 0, "number of bands to keep, 0 for all")
	flags.StringVar(&labelsFile, "labels_file", "", "vector label dataset")
	flags.StringVar(&labelsField, "labels_field", "", "attribute holding the class value")
	flags.StringVar(&dataset, "dataset", "train", "dataset name")
	flags.StringVar(&root, "root", "data", "output directory")
	flags.IntVar(&tileSize, "tile_size", 512, "tile size in pixels")
	flags.StringArrayVar(&copts, "co", nil, "image tif creation options, eg \"COMPRESS=ZSTD\". \"KEY=\" removes a default")
	flags.StringArrayVar(&labelCopts, "label_co", nil, "label tif creation options")
	flags.StringArrayVar(&configOpts, "config", nil, "gdal configuration options")
	flags.StringVar(&paramsFile, "params", "", "yaml parameter file")
	flags.BoolVar(&progress, "progress", false, "display a progress bar")

	cmd.MarkFlagRequired("image_file")
	cmd.MarkFlagRequired("labels_file")
	cmd.MarkFlagRequired("labels_field")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		var params chipper.Params
		if paramsFile != "" {
			var err error
			if params, err = chipper.LoadParams(paramsFile); err != nil {
				return err
			}
		}
		if !flags.Changed("dataset") && params.Dataset != "" {
			dataset = params.Dataset
		}
		if !flags.Changed("root") && params.Root != "" {
			root = params.Root
		}
		if !flags.Changed("image_bands") {
			bands = params.Bands
		}
		layout, err := chipper.NewLayout(root, dataset)
		if err != nil {
			return err
		}

		opts := params.PipelineOptions()
		if flags.Changed("tile_size") || params.TileSize == 0 {
			opts = append(opts, chipper.ChipSize(tileSize))
		}
		opts = append(opts, chipper.ChipBands(bands))
		if len(copts) > 0 {
			opts = append(opts, chipper.ImageCreationOptions(chipper.MergeOptions(params.ImageOptions(), copts...)...))
		}
		if len(labelCopts) > 0 {
			opts = append(opts, chipper.LabelCreationOptions(chipper.MergeOptions(params.LabelOptions(), labelCopts...)...))
		}
		if len(configOpts) > 0 {
			opts = append(opts, chipper.GDALConfig(chipper.MergeOptions(params.ConfigOptions(), configOpts...)...))
		}

		if needsGCS(imageFile, labelsFile) {
			stcl, err := registerGCS(ctx)
			if err != nil {
				return err
			}
			defer stcl.Close()
		}
		src, err := chipper.OpenRaster(imageFile, bands)
		if err != nil {
			return err
		}
		sr, err := src.SpatialRef()
		if err != nil {
			return err
		}
		if sr != nil {
			defer sr.Close()
		}
		labels, err := chipper.OpenLabels(labelsFile, labelsField, sr)
		if err != nil {
			return err
		}
		defer labels.Close()

		var bar *progressbar.ProgressBar
		if progress {
			opts = append(opts, chipper.OnWindow(func(chipper.Event) {
				_ = bar.Add(1)
			}))
		}
		pipeline, err := chipper.NewPipeline(opts...)
		if err != nil {
			return err
		}
		if progress {
			bar = progressbar.Default(int64(windowCount(src, pipeline.TileSize())), "tiling")
			defer bar.Close()
		}
		stats, err := pipeline.Run(ctx, src, labels, layout)
		if err != nil {
			return err
		}
		if stats.Emitted > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%d/%d windows emitted, ids %d-%d in %s\n",
				stats.Emitted, stats.Windows, stats.FirstID, stats.LastID, layout.ManifestPath())
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "0/%d windows emitted\n", stats.Windows)
		}
		return nil
	}
	return cmd
}

func windowCount(src *chipper.Raster, tileSize int) int {
	nx := (src.Pixels.Width + tileSize - 1) / tileSize
	ny := (src.Pixels.Height + tileSize - 1) / tileSize
	return nx * ny
}

func newVerifyCommand() *cobra.Command {
	var dataset, root string
	var tileSize, parallelism int
	var prune bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "check the tiles of a dataset against its manifest",
		Args:  cobra.NoArgs,
	}
	flags := cmd.Flags()
	flags.StringVar(&dataset, "dataset", "train", "dataset name")
	flags.StringVar(&root, "root", "data", "dataset directory")
	flags.IntVar(&tileSize, "tile_size", 512, "expected tile size in pixels")
	flags.BoolVar(&prune, "prune", false, "remove tiles that are not listed in the manifest")
	flags.IntVar(&parallelism, "parallelism", 4, "number of tiles inspected concurrently")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		layout, err := chipper.NewLayout(root, dataset)
		if err != nil {
			return err
		}
		v, err := chipper.NewVerifier(
			chipper.VerifyTileSize(tileSize),
			chipper.Prune(prune),
			chipper.Parallelism(parallelism))
		if err != nil {
			return err
		}
		report, err := v.Verify(cmd.Context(), layout)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, p := range report.Problems {
			fmt.Fprintln(out, p)
		}
		for _, o := range report.Orphans {
			if report.Pruned {
				fmt.Fprintf(out, "removed orphan %s\n", o)
			} else {
				fmt.Fprintf(out, "orphan %s\n", o)
			}
		}
		fmt.Fprintf(out, "%d records, %d problems, %d orphans\n",
			report.Records, len(report.Problems), len(report.Orphans))
		if !report.OK() {
			return fmt.Errorf("dataset %s is inconsistent", layout.ManifestPath())
		}
		return nil
	}
	return cmd
}
