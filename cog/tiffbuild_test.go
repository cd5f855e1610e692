package cog

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
)

// memStore is an in-memory backing store that records every range read,
// so tests can assert how often and where the source actually fetched.
type memStore struct {
	name string
	data []byte

	mu     sync.Mutex
	reads  int
	ranges [][2]int64
}

func newMemStore(name string, data []byte) *memStore {
	return &memStore{name: name, data: data}
}

func (m *memStore) Size() int64  { return int64(len(m.data)) }
func (m *memStore) Name() string { return m.name }

func (m *memStore) ReadRange(_ context.Context, offset, length int64) ([]byte, error) {
	m.mu.Lock()
	m.reads++
	m.ranges = append(m.ranges, [2]int64{offset, length})
	m.mu.Unlock()

	if offset < 0 || offset+length > int64(len(m.data)) {
		return nil, &OffsetOutOfRangeError{Offset: uint64(offset), Length: uint64(length), Size: m.Size()}
	}
	out := make([]byte, length)
	copy(out, m.data[offset:offset+length])
	return out, nil
}

func (m *memStore) readCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

func (m *memStore) readRanges() [][2]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][2]int64, len(m.ranges))
	copy(out, m.ranges)
	return out
}

// Little-endian byte helpers for building fixtures by hand.

func le16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func lef64(v float64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	return b
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// tiffHeader is a classic little-endian header pointing at firstIFD.
func tiffHeader(firstIFD uint32) []byte {
	return cat([]byte{0x49, 0x49, 0x2A, 0x00}, le32(firstIFD))
}

// ifdEntry encodes one 12-byte directory entry. value is the inline
// payload or the 4-byte offset; shorter values are zero-padded.
func ifdEntry(code TagID, ft fieldType, count uint32, value []byte) []byte {
	v := make([]byte, 4)
	copy(v, value)
	return cat(le16(uint16(code)), le16(uint16(ft)), le32(count), v)
}

// ifdBlock encodes a directory: count, entries, next-IFD offset.
func ifdBlock(next uint32, entries ...[]byte) []byte {
	out := le16(uint16(len(entries)))
	for _, e := range entries {
		out = append(out, e...)
	}
	return append(out, le32(next)...)
}

// fixture is a byte image under construction.
type fixture struct {
	data []byte
}

func newFixture(size int) *fixture {
	return &fixture{data: make([]byte, size)}
}

func (f *fixture) place(offset int, b []byte) {
	copy(f.data[offset:], b)
}

// tiledFixture describes the layout of buildTiledFixture.
type tiledFixture struct {
	data        []byte
	tileOffsets [6]uint32
	tiles       [6][]byte
}

// buildTiledFixture builds a complete single-IFD COG: a 600x400 image in
// 256-pixel tiles (3x2 grid), JPEG compression, geo tags, and six
// distinct 16-byte tile payloads.
//
// Layout: header at 0, IFD at 8 (9 entries, ends at 122), TileOffsets at
// 384, TileByteCounts at 416, ModelPixelScale at 448, ModelTiepoint at
// 472, tiles every 32 bytes from 544.
func buildTiledFixture() *tiledFixture {
	f := newFixture(768)
	tf := &tiledFixture{}

	f.place(0, tiffHeader(8))
	f.place(8, ifdBlock(0,
		ifdEntry(ImageWidth, typeShort, 1, le16(600)),
		ifdEntry(ImageLength, typeShort, 1, le16(400)),
		ifdEntry(Compression, typeShort, 1, le16(7)),
		ifdEntry(TileWidth, typeShort, 1, le16(256)),
		ifdEntry(TileLength, typeShort, 1, le16(256)),
		ifdEntry(TileOffsets, typeLong, 6, le32(384)),
		ifdEntry(TileByteCounts, typeLong, 6, le32(416)),
		ifdEntry(ModelPixelScale, typeDouble, 3, le32(448)),
		ifdEntry(ModelTiepoint, typeDouble, 6, le32(472)),
	))

	for i := 0; i < 6; i++ {
		off := uint32(544 + 32*i)
		tf.tileOffsets[i] = off
		f.place(384+4*i, le32(off))
		f.place(416+4*i, le32(16))

		tile := make([]byte, 16)
		for j := range tile {
			tile[j] = byte(0x10*i + j)
		}
		f.place(int(off), tile)
		tf.tiles[i] = tile
	}

	f.place(448, cat(lef64(0.1), lef64(0.1), lef64(0)))
	f.place(472, cat(lef64(0), lef64(0), lef64(0), lef64(10.0), lef64(50.0), lef64(0)))

	tf.data = f.data
	return tf
}

// openFixture parses data through a memStore and returns the reader plus
// the store for fetch accounting.
func openFixture(data []byte, chunkSize uint64) (*Cog, *memStore, error) {
	store := newMemStore("mem://fixture", data)
	source, err := NewSource(store, chunkSize, nil)
	if err != nil {
		return nil, nil, err
	}
	c := New(source)
	if err := c.Init(context.Background()); err != nil {
		return nil, nil, err
	}
	return c, store, nil
}
