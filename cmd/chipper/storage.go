package main

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/osio"
	"github.com/airbusgeo/osio/gcs"
)

var blocksize string
var numCachedBlocks int

func needsGCS(names ...string) bool {
	for _, n := range names {
		if strings.HasPrefix(n, "gs://") {
			return true
		}
	}
	return false
}

// registerGCS makes gs:// urls readable by gdal. The returned client must be
// closed once all datasets have been read.
func registerGCS(ctx context.Context) (*storage.Client, error) {
	stcl, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage.newclient: %w", err)
	}
	gcsh, err := gcs.Handle(ctx, gcs.GCSClient(stcl))
	if err != nil {
		stcl.Close()
		return nil, fmt.Errorf("gcs.handle: %w", err)
	}
	gcsa, err := osio.NewAdapter(gcsh, osio.BlockSize(blocksize), osio.NumCachedBlocks(numCachedBlocks))
	if err != nil {
		stcl.Close()
		return nil, fmt.Errorf("osio.new: %w", err)
	}
	if err := godal.RegisterVSIHandler("gs://", gcsa); err != nil {
		stcl.Close()
		return nil, fmt.Errorf("register osio: %w", err)
	}
	return stcl, nil
}
