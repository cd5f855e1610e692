// Package cog reads Cloud-Optimized GeoTIFFs from remote or local byte
// sources using only range fetches. The source is consumed through a
// fixed-size chunk cache, the IFD chain decodes lazily (tag payloads in
// chunks not yet resident stay deferred), and individual tiles come back
// as opaque compressed byte blobs.
//
// The initial profile reads classic little-endian TIFF (version 42)
// only; big-endian and BigTIFF files are rejected at Init.
package cog

import (
	"context"
	"log/slog"
)

// Tile is one compressed tile payload. The reader does not inspect or
// cache it; MediaType is empty when the Compression tag is absent or
// unknown.
type Tile struct {
	MediaType string
	Bytes     []byte
}

// Cog is the reader facade over one TIFF source. Init parses the header
// and walks the IFD chain; afterwards the image list is fixed and only
// the chunk table keeps growing on demand.
type Cog struct {
	source *Source
	logger *slog.Logger
	images []*Image
	inited bool
}

// New wraps source. Call Init before anything else.
func New(source *Source) *Cog {
	return &Cog{source: source, logger: source.logger}
}

// Source exposes the underlying chunked source for introspection.
func (c *Cog) Source() *Source { return c.source }

// Init fetches the header, validates the byte-order mark and version,
// and walks the IFD chain. An IFD offset pointing past the end of a
// truncated source ends the chain instead of failing: headers-only
// files parse to an empty image list.
func (c *Cog) Init(ctx context.Context) error {
	hdr, err := c.source.Bytes(ctx, 0, 8)
	if err != nil {
		return err
	}

	switch uint16(hdr[0])<<8 | uint16(hdr[1]) {
	case orderLittleEndian:
		// The one supported profile. A big-endian decoder would flip
		// the source byte order right here.
	case orderBigEndian:
		return ErrUnsupportedByteOrder
	default:
		return ErrBadMagic
	}

	bo := c.source.ByteOrder()
	version := bo.Uint16(hdr[2:4])
	if version != tiffVersion {
		return &UnsupportedVersionError{Version: version}
	}
	c.source.version = version

	offset := uint64(bo.Uint32(hdr[4:8]))
	for id := 0; offset != 0; id++ {
		if offset+minIFDSize > uint64(c.source.Size()) {
			c.logger.Debug("IFD offset past end of source, ending chain", "offset", offset, "size", c.source.Size())
			break
		}
		ifd, next, err := parseIFD(ctx, c.source, id, offset)
		if err != nil {
			return err
		}
		c.images = append(c.images, &Image{ifd: ifd, cog: c})
		offset = next
	}

	c.inited = true
	return nil
}

// Images is the parsed overview chain, index 0 the full resolution.
func (c *Cog) Images() []*Image {
	c.checkInited()
	return c.images
}

// Image returns the overview at index z.
func (c *Cog) Image(z int) (*Image, error) {
	c.checkInited()
	if z < 0 || z >= len(c.images) {
		return nil, &NoSuchOverviewError{Index: z, Count: len(c.images)}
	}
	return c.images[z], nil
}

// TileRaw returns the compressed payload of tile (x, y) of overview z.
// The tile index arrays resolve on first use; after that a tile costs
// the chunk fetches covering its payload and nothing else.
func (c *Cog) TileRaw(ctx context.Context, x, y, z int) (*Tile, error) {
	c.checkInited()

	img, err := c.Image(z)
	if err != nil {
		return nil, err
	}

	offset, length, err := img.tileLocation(ctx, x, y)
	if err != nil {
		return nil, err
	}

	b, err := c.source.Bytes(ctx, offset, length)
	if err != nil {
		return nil, err
	}

	mt, _ := img.MediaType()
	return &Tile{MediaType: mt, Bytes: b}, nil
}

func (c *Cog) checkInited() {
	if !c.inited {
		panic("cog: used before Init")
	}
}
