package cog

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"
)

// Image is one overview of the chain together with the Cog it belongs
// to. Index 0 is the full-resolution image; subsequent indexes are
// overviews of decreasing resolution. Callers thinking in map zoom must
// invert: ifd index = number of images - 1 - zoom.
//
// Every derived attribute is a pure projection of the directory's tags.
// Accessors that may touch out-of-line tag payloads take a context
// because resolving them can fetch chunks.
type Image struct {
	ifd *IFD
	cog *Cog

	mu             sync.Mutex
	tileOffsets    []uint64
	tileByteCounts []uint64
}

// ID is the zero-based position of the image in the IFD chain.
func (img *Image) ID() int { return img.ifd.ID }

// Tag looks up a directory entry by code.
func (img *Image) Tag(id TagID) (*Tag, bool) { return img.ifd.Tag(id) }

// TagNames lists the names of the kept directory entries.
func (img *Image) TagNames() []string { return img.ifd.TagNames() }

// FetchTag resolves a deferred tag's payload. Resolving an already
// resolved tag is a no-op.
func (img *Image) FetchTag(ctx context.Context, id TagID) error {
	t, ok := img.ifd.Tag(id)
	if !ok {
		return &MissingTagError{Tag: id}
	}
	_, err := img.ifd.resolve(ctx, t)
	return err
}

// Size returns the image dimensions in pixels. ok is false when either
// dimension tag is absent.
func (img *Image) Size() (width, height uint32, ok bool) {
	w, wok := img.uintTag(ImageWidth)
	h, hok := img.uintTag(ImageLength)
	if !wok || !hok {
		return 0, 0, false
	}
	return uint32(w), uint32(h), true
}

// TileSize returns the tile dimensions in pixels; ok is false for
// striped (non-tiled) images.
func (img *Image) TileSize() (width, height uint32, ok bool) {
	tw, wok := img.uintTag(TileWidth)
	th, hok := img.uintTag(TileLength)
	if !wok || !hok {
		return 0, 0, false
	}
	return uint32(tw), uint32(th), true
}

// IsTiled reports whether the image stores its pixels in tiles.
func (img *Image) IsTiled() bool {
	_, ok := img.ifd.Tag(TileWidth)
	return ok
}

// TileGrid returns the tile grid dimensions, rounding partial edge tiles
// up. ok is false when the image is not tiled or has no size.
func (img *Image) TileGrid() (nx, ny int, ok bool) {
	w, h, sok := img.Size()
	tw, th, tok := img.TileSize()
	if !sok || !tok || tw == 0 || th == 0 {
		return 0, 0, false
	}
	nx = int((w + tw - 1) / tw)
	ny = int((h + th - 1) / th)
	return nx, ny, true
}

// NumTiles is the total tile count of the grid, 0 for untiled images.
func (img *Image) NumTiles() int {
	nx, ny, ok := img.TileGrid()
	if !ok {
		return 0
	}
	return nx * ny
}

// Compression returns the raw Compression tag value.
func (img *Image) Compression() (uint16, bool) {
	v, ok := img.uintTag(Compression)
	if !ok {
		return 0, false
	}
	return uint16(v), true
}

// MediaType maps the Compression tag to the media type of raw tile
// payloads. ok is false when the tag is absent or the code unknown.
func (img *Image) MediaType() (string, bool) {
	c, ok := img.Compression()
	if !ok {
		return "", false
	}
	mt, ok := compressionMediaType[c]
	return mt, ok
}

// Origin returns the model-space coordinates of pixel (0, 0), read from
// ModelTiepoint. The tag must carry exactly one tiepoint (6 doubles).
func (img *Image) Origin(ctx context.Context) (x, y, z float64, err error) {
	tie, err := img.floatTag(ctx, ModelTiepoint)
	if err != nil {
		return 0, 0, 0, err
	}
	if len(tie) != 6 {
		return 0, 0, 0, &MissingTagError{Tag: ModelTiepoint}
	}
	return tie[3], tie[4], tie[5], nil
}

// Resolution returns the model-space size of one pixel. The Y component
// is negated: pixel rows grow southward while model Y grows northward.
func (img *Image) Resolution(ctx context.Context) (x, y, z float64, err error) {
	scale, err := img.floatTag(ctx, ModelPixelScale)
	if err != nil {
		return 0, 0, 0, err
	}
	if len(scale) < 2 {
		return 0, 0, 0, &MissingTagError{Tag: ModelPixelScale}
	}
	z = 0
	if len(scale) > 2 {
		z = scale[2]
	}
	return scale[0], -scale[1], z, nil
}

// Bounds returns the model-space bounding box of the image.
func (img *Image) Bounds(ctx context.Context) (orb.Bound, error) {
	ox, oy, _, err := img.Origin(ctx)
	if err != nil {
		return orb.Bound{}, err
	}
	rx, ry, _, err := img.Resolution(ctx)
	if err != nil {
		return orb.Bound{}, err
	}
	w, h, ok := img.Size()
	if !ok {
		return orb.Bound{}, &MissingTagError{Tag: ImageWidth}
	}

	x2 := ox + rx*float64(w)
	y2 := oy + ry*float64(h)
	return orb.Bound{
		Min: orb.Point{math.Min(ox, x2), math.Min(oy, y2)},
		Max: orb.Point{math.Max(ox, x2), math.Max(oy, y2)},
	}, nil
}

// PixelToModel maps a pixel coordinate to model space through the
// origin/resolution affine.
func (img *Image) PixelToModel(ctx context.Context, px, py float64) (orb.Point, error) {
	ox, oy, _, err := img.Origin(ctx)
	if err != nil {
		return orb.Point{}, err
	}
	rx, ry, _, err := img.Resolution(ctx)
	if err != nil {
		return orb.Point{}, err
	}
	return orb.Point{ox + px*rx, oy + py*ry}, nil
}

// ModelToPixel maps a model-space point to pixel indices. Points outside
// the image bounds are rejected.
func (img *Image) ModelToPixel(ctx context.Context, pt orb.Point) (x, y int, err error) {
	bounds, err := img.Bounds(ctx)
	if err != nil {
		return 0, 0, err
	}
	if !bounds.Contains(pt) {
		return 0, 0, fmt.Errorf("cog: point (%f, %f) does not fall inside the image bounds", pt[0], pt[1])
	}
	ox, oy, _, err := img.Origin(ctx)
	if err != nil {
		return 0, 0, err
	}
	rx, ry, _, err := img.Resolution(ctx)
	if err != nil {
		return 0, 0, err
	}
	return int(math.Round((pt[0] - ox) / rx)), int(math.Round((pt[1] - oy) / ry)), nil
}

// uintTag reads an eager unsigned integer tag. Inline values are always
// eager, which covers every SHORT/LONG count-1 tag.
func (img *Image) uintTag(id TagID) (uint64, bool) {
	data, ok := img.ifd.resolvedData(id)
	if !ok {
		return 0, false
	}
	return data.uintValue()
}

// floatTag resolves a DOUBLE/FLOAT tag, fetching its payload if needed.
func (img *Image) floatTag(ctx context.Context, id TagID) ([]float64, error) {
	t, ok := img.ifd.Tag(id)
	if !ok {
		return nil, &MissingTagError{Tag: id}
	}
	data, err := img.ifd.resolve(ctx, t)
	if err != nil {
		return nil, err
	}
	v, ok := data.floatSlice()
	if !ok {
		return nil, &MissingTagError{Tag: id}
	}
	return v, nil
}

// uintSliceTag resolves an unsigned integer array tag.
func (img *Image) uintSliceTag(ctx context.Context, id TagID) ([]uint64, error) {
	t, ok := img.ifd.Tag(id)
	if !ok {
		return nil, &MissingTagError{Tag: id}
	}
	data, err := img.ifd.resolve(ctx, t)
	if err != nil {
		return nil, err
	}
	v, ok := data.uintSlice()
	if !ok {
		return nil, &MissingTagError{Tag: id}
	}
	return v, nil
}

// tileIndex resolves and caches the TileOffsets and TileByteCounts
// arrays. The two resolutions run concurrently: they usually live in
// different chunks.
func (img *Image) tileIndex(ctx context.Context) (offsets, counts []uint64, err error) {
	img.mu.Lock()
	offsets, counts = img.tileOffsets, img.tileByteCounts
	img.mu.Unlock()
	if offsets != nil && counts != nil {
		return offsets, counts, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		offsets, err = img.uintSliceTag(gctx, TileOffsets)
		return err
	})
	g.Go(func() error {
		var err error
		counts, err = img.uintSliceTag(gctx, TileByteCounts)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	img.mu.Lock()
	img.tileOffsets, img.tileByteCounts = offsets, counts
	img.mu.Unlock()
	return offsets, counts, nil
}

// tileLocation returns the on-disk extent of tile (x, y).
func (img *Image) tileLocation(ctx context.Context, x, y int) (offset, length uint64, err error) {
	if !img.IsTiled() {
		return 0, 0, ErrNotTiled
	}
	nx, ny, ok := img.TileGrid()
	if !ok {
		return 0, 0, ErrNotTiled
	}
	if x < 0 || x >= nx || y < 0 || y >= ny {
		return 0, 0, &TileOutOfRangeError{X: x, Y: y, NX: nx, NY: ny}
	}

	offsets, counts, err := img.tileIndex(ctx)
	if err != nil {
		return 0, 0, err
	}

	// Row-major with stride nx: rows grow downward in pixel space.
	idx := y*nx + x
	if idx >= len(offsets) || idx >= len(counts) {
		return 0, 0, &TileOutOfRangeError{X: x, Y: y, NX: nx, NY: ny}
	}
	return offsets[idx], counts[idx], nil
}
