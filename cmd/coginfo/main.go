package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/geoplex/cogrange/cog"
)

func main() {
	chunkSize := flag.Uint64("chunk-size", cog.DefaultChunkSize, "fetch granularity in bytes")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: coginfo [-chunk-size n] [-v] <file.tif | url>\n")
		os.Exit(1)
	}
	target := flag.Arg(0)

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx := context.Background()

	var store cog.Store
	var err error
	if strings.HasPrefix(target, "http") {
		store, err = cog.NewHTTPStore(ctx, target, nil)
	} else {
		store, err = cog.NewFileStore(target)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	source, err := cog.NewSource(store, *chunkSize, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	r := cog.New(source)
	if err := r.Init(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	parseChunks := source.NumChunks()

	fmt.Printf("Source: %s (%d bytes, version %d, chunk size %d)\n",
		source.Name(), source.Size(), source.Version(), source.ChunkSize())
	fmt.Printf("IFD count: %d\n", len(r.Images()))

	for _, img := range r.Images() {
		fmt.Printf("\nIFD %d:\n", img.ID())

		if w, h, ok := img.Size(); ok {
			fmt.Printf("  Size: %d x %d\n", w, h)
		}
		if tw, th, ok := img.TileSize(); ok {
			nx, ny, _ := img.TileGrid()
			fmt.Printf("  Tiles: %dx%d pixels, %dx%d grid (%d tiles)\n", tw, th, nx, ny, img.NumTiles())
		} else {
			fmt.Printf("  Not tiled\n")
		}
		if mt, ok := img.MediaType(); ok {
			fmt.Printf("  Compression: %s\n", mt)
		}
		if x, y, z, err := img.Origin(ctx); err == nil {
			fmt.Printf("  Origin: X=%f, Y=%f, Z=%f\n", x, y, z)
		}
		if rx, ry, _, err := img.Resolution(ctx); err == nil {
			fmt.Printf("  Resolution: %f x %f\n", rx, ry)
		}
		if bounds, err := img.Bounds(ctx); err == nil {
			fmt.Printf("  Bounds: X=[%f, %f], Y=[%f, %f]\n",
				bounds.Min[0], bounds.Max[0], bounds.Min[1], bounds.Max[1])
		}
		fmt.Printf("  Tags: %s\n", strings.Join(img.TagNames(), ", "))
	}

	fmt.Printf("\nChunks fetched during parse: %d\n", parseChunks)
}
