package cog

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// DefaultChunkSize is the fetch and cache granularity used when no
// explicit chunk size is configured.
const DefaultChunkSize = 64 * 1024

// minChunkSize guarantees the TIFF header fits inside chunk 0.
const minChunkSize = 8

// ChunkState describes the lifecycle of one chunk in the table. A chunk
// only moves forward: empty, fetching, ready.
type ChunkState uint8

const (
	ChunkEmpty ChunkState = iota
	ChunkFetching
	ChunkReady
)

func (s ChunkState) String() string {
	switch s {
	case ChunkFetching:
		return "fetching"
	case ChunkReady:
		return "ready"
	default:
		return "empty"
	}
}

// Source maps arbitrary (offset, length) reads onto fixed-size cacheable
// chunks served by a backing Store. Concurrent requests for the same
// chunk share one underlying range read; the store never sees more than
// one outstanding fetch per chunk.
type Source struct {
	store     Store
	chunkSize uint64
	logger    *slog.Logger

	mu       sync.Mutex
	chunks   map[uint64]*chunk
	fetching map[uint64]struct{}
	inflight singleflight.Group

	byteOrder binary.ByteOrder
	version   uint16
}

// chunk bytes are assigned exactly once, when the chunk enters the table.
type chunk struct {
	id   uint64
	data []byte
}

// NewSource wraps store in a chunk table. A chunkSize of 0 selects
// DefaultChunkSize; sizes below 8 bytes are rejected. A nil logger
// falls back to slog.Default.
func NewSource(store Store, chunkSize uint64, logger *slog.Logger) (*Source, error) {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkSize < minChunkSize {
		return nil, fmt.Errorf("cog: chunk size %d below minimum %d", chunkSize, minChunkSize)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		store:     store,
		chunkSize: chunkSize,
		logger:    logger,
		chunks:    make(map[uint64]*chunk),
		fetching:  make(map[uint64]struct{}),
		byteOrder: binary.LittleEndian,
	}, nil
}

func (s *Source) Name() string      { return s.store.Name() }
func (s *Source) Size() int64       { return s.store.Size() }
func (s *Source) ChunkSize() uint64 { return s.chunkSize }

// Version is the header version captured by Init, 0 before it ran.
func (s *Source) Version() uint16 { return s.version }

// ByteOrder is the byte order captured from the header mark. It defaults
// to little endian until Init validates the stream.
func (s *Source) ByteOrder() binary.ByteOrder { return s.byteOrder }

// NumChunks reports how many chunks are resident.
func (s *Source) NumChunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

// ChunkState reports the lifecycle state of one chunk.
func (s *Source) ChunkState(id uint64) ChunkState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chunks[id]; ok {
		return ChunkReady
	}
	if _, ok := s.fetching[id]; ok {
		return ChunkFetching
	}
	return ChunkEmpty
}

// chunkLength is the byte length chunk id must carry once ready.
func (s *Source) chunkLength(id uint64) uint64 {
	off := id * s.chunkSize
	size := uint64(s.Size())
	if off+s.chunkSize > size {
		return size - off
	}
	return s.chunkSize
}

// getChunk returns the resident bytes of chunk id, fetching it from the
// store if needed. Concurrent callers for the same id share one fetch.
// A cancelled caller detaches; the fetch itself completes and fills the
// chunk so the table is never poisoned.
func (s *Source) getChunk(ctx context.Context, id uint64) ([]byte, error) {
	s.mu.Lock()
	if c, ok := s.chunks[id]; ok {
		s.mu.Unlock()
		return c.data, nil
	}
	s.fetching[id] = struct{}{}
	s.mu.Unlock()

	ch := s.inflight.DoChan(strconv.FormatUint(id, 10), func() (any, error) {
		// Re-check under the lock: a fetch that completed between the
		// caller's table lookup and this call may have filled the chunk.
		s.mu.Lock()
		if c, ok := s.chunks[id]; ok {
			delete(s.fetching, id)
			s.mu.Unlock()
			return c.data, nil
		}
		s.mu.Unlock()

		// The fetch outlives any single waiter on purpose: other callers
		// may be sharing it, and a filled chunk is useful either way.
		data, err := s.store.ReadRange(context.WithoutCancel(ctx), int64(id*s.chunkSize), int64(s.chunkLength(id)))

		s.mu.Lock()
		delete(s.fetching, id)
		if err == nil {
			s.chunks[id] = &chunk{id: id, data: data}
		}
		s.mu.Unlock()

		if err != nil {
			return nil, err
		}
		return data, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

// Bytes reads length bytes at offset, stitching across as many chunks as
// the range covers. The returned slice is the caller's to keep.
func (s *Source) Bytes(ctx context.Context, offset, length uint64) ([]byte, error) {
	if length == 0 {
		return []byte{}, nil
	}
	if offset+length > uint64(s.Size()) {
		return nil, &OffsetOutOfRangeError{Offset: offset, Length: length, Size: s.Size()}
	}

	first := offset / s.chunkSize
	last := (offset + length - 1) / s.chunkSize

	out := make([]byte, length)
	n := uint64(0)
	for id := first; id <= last; id++ {
		data, err := s.getChunk(ctx, id)
		if err != nil {
			return nil, err
		}
		start := uint64(0)
		if id == first {
			start = offset - id*s.chunkSize
		}
		end := uint64(len(data))
		if n+(end-start) > length {
			end = start + (length - n)
		}
		n += uint64(copy(out[n:], data[start:end]))
	}
	return out, nil
}

// HasBytes reports whether every chunk covering [offset, offset+length)
// is already resident, so a read of that range would not suspend.
func (s *Source) HasBytes(offset, length uint64) bool {
	if length == 0 {
		length = 1
	}
	if offset+length > uint64(s.Size()) {
		return false
	}

	first := offset / s.chunkSize
	last := (offset + length - 1) / s.chunkSize

	s.mu.Lock()
	defer s.mu.Unlock()
	for id := first; id <= last; id++ {
		if _, ok := s.chunks[id]; !ok {
			return false
		}
	}
	return true
}

// Uint16 reads one 16-bit word at offset in the captured byte order.
func (s *Source) Uint16(ctx context.Context, offset uint64) (uint16, error) {
	b, err := s.Bytes(ctx, offset, 2)
	if err != nil {
		return 0, err
	}
	return s.byteOrder.Uint16(b), nil
}

// Uint32 reads one 32-bit word at offset in the captured byte order.
func (s *Source) Uint32(ctx context.Context, offset uint64) (uint32, error) {
	b, err := s.Bytes(ctx, offset, 4)
	if err != nil {
		return 0, err
	}
	return s.byteOrder.Uint32(b), nil
}

// ReadType reads count elements of the given field type at offset and
// decodes them per the captured byte order.
func (s *Source) ReadType(ctx context.Context, offset uint64, ft fieldType, count uint32) (*tagData, error) {
	raw, err := s.Bytes(ctx, offset, uint64(count)*uint64(ft.size()))
	if err != nil {
		return nil, err
	}
	return decodeValue(raw, s.byteOrder, ft, count)
}
