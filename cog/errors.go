package cog

import (
	"errors"
	"fmt"
)

var (
	// ErrBadMagic is returned by Init when the stream does not start with
	// a TIFF byte-order mark.
	ErrBadMagic = errors.New("cog: not a TIFF stream")

	// ErrUnsupportedByteOrder is returned by Init for big-endian ("MM")
	// files, which this profile does not read.
	ErrUnsupportedByteOrder = errors.New("cog: big-endian TIFF not supported")

	// ErrNotTiled is returned when a tile is requested from an image that
	// carries no TileWidth tag.
	ErrNotTiled = errors.New("cog: image is not tiled")
)

// UnsupportedVersionError is returned by Init when the header version is
// not 42. BigTIFF (43) files land here.
type UnsupportedVersionError struct {
	Version uint16
}

func (e *UnsupportedVersionError) Error() string {
	if e.Version == bigTiffVersion {
		return "cog: BigTIFF not supported"
	}
	return fmt.Sprintf("cog: unsupported TIFF version %d", e.Version)
}

// OffsetOutOfRangeError reports a read past the end of the source.
type OffsetOutOfRangeError struct {
	Offset uint64
	Length uint64
	Size   int64
}

func (e *OffsetOutOfRangeError) Error() string {
	return fmt.Sprintf("cog: read [%d, %d) outside source of %d bytes", e.Offset, e.Offset+e.Length, e.Size)
}

// ShortReadError reports a backing store returning fewer bytes than the
// requested range.
type ShortReadError struct {
	Offset int64
	Want   int
	Got    int
}

func (e *ShortReadError) Error() string {
	return fmt.Sprintf("cog: short read at %d: want %d bytes, got %d", e.Offset, e.Want, e.Got)
}

// TransportError wraps a backing store failure. Retrying is the caller's
// choice.
type TransportError struct {
	Store string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("cog: %s: %v", e.Store, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MissingTagError is returned by image accessors whose backing tag is
// absent or malformed.
type MissingTagError struct {
	Tag TagID
}

func (e *MissingTagError) Error() string {
	return fmt.Sprintf("cog: missing or invalid tag %s", e.Tag)
}

// NoSuchOverviewError is returned for an overview index outside the
// parsed IFD chain.
type NoSuchOverviewError struct {
	Index int
	Count int
}

func (e *NoSuchOverviewError) Error() string {
	return fmt.Sprintf("cog: no overview %d, chain holds %d images", e.Index, e.Count)
}

// TileOutOfRangeError is returned for tile coordinates outside the
// image's tile grid.
type TileOutOfRangeError struct {
	X, Y   int
	NX, NY int
}

func (e *TileOutOfRangeError) Error() string {
	return fmt.Sprintf("cog: tile (%d, %d) outside grid %dx%d", e.X, e.Y, e.NX, e.NY)
}
