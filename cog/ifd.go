package cog

import (
	"context"
	"sort"
	"sync"
)

// ifdEntrySize is the on-disk size of one classic TIFF directory entry.
const ifdEntrySize = 12

// minIFDSize is the smallest complete directory: a zero tag count plus
// the next-IFD pointer.
const minIFDSize = 2 + 4

// Tag is one parsed directory entry. A tag is either resolved, carrying
// its decoded payload, or deferred: its payload lives out of line in a
// chunk that was not resident at parse time, and resolving it costs a
// later fetch. A tag only moves from deferred to resolved, never back.
type Tag struct {
	ID    TagID
	Type  fieldType
	Count uint32

	data   *tagData // nil while deferred
	offset uint64   // payload offset, meaningful while deferred
}

// Resolved reports whether the payload is in memory.
func (t *Tag) Resolved() bool { return t.data != nil }

// Value returns the decoded payload, nil while the tag is deferred.
func (t *Tag) Value() any {
	if t.data == nil {
		return nil
	}
	return t.data.Value()
}

// IFD is one Image File Directory of the chain: a tag map plus its
// position and on-disk offset.
type IFD struct {
	ID     int
	Offset uint64

	source *Source

	mu   sync.Mutex
	tags map[TagID]*Tag
}

// Tag looks up a directory entry by code.
func (d *IFD) Tag(id TagID) (*Tag, bool) {
	t, ok := d.tags[id]
	return t, ok
}

// NumTags is the number of entries kept from the directory.
func (d *IFD) NumTags() int { return len(d.tags) }

// TagNames returns the names of the kept entries, sorted for stable
// output; callers must not rely on any on-disk order.
func (d *IFD) TagNames() []string {
	names := make([]string, 0, len(d.tags))
	for id := range d.tags {
		names = append(names, id.String())
	}
	sort.Strings(names)
	return names
}

// resolve returns the payload of t, fetching it when deferred. The first
// resolution wins; concurrent callers end up with the same payload. The
// source read happens outside the lock.
func (d *IFD) resolve(ctx context.Context, t *Tag) (*tagData, error) {
	d.mu.Lock()
	data := t.data
	d.mu.Unlock()
	if data != nil {
		return data, nil
	}

	data, err := d.source.ReadType(ctx, t.offset, t.Type, t.Count)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	if t.data == nil {
		t.data = data
	} else {
		data = t.data
	}
	d.mu.Unlock()
	return data, nil
}

// resolvedData is resolve for tags that must already be eager (inline
// integer tags). It returns false when the tag is absent or deferred.
func (d *IFD) resolvedData(id TagID) (*tagData, bool) {
	t, ok := d.tags[id]
	if !ok || t.data == nil {
		return nil, false
	}
	return t.data, true
}

// parseIFD reads the directory at offset and returns it with the offset
// of the next directory, 0 at the end of the chain.
//
// Entry values of at most 4 bytes decode inline from the entry itself.
// Larger values decode eagerly only when every chunk covering them is
// already resident; otherwise the tag stays deferred so parsing a
// directory never drags in value chunks it does not need.
func parseIFD(ctx context.Context, src *Source, id int, offset uint64) (*IFD, uint64, error) {
	tagCount, err := src.Uint16(ctx, offset)
	if err != nil {
		return nil, 0, err
	}

	d := &IFD{
		ID:     id,
		Offset: offset,
		source: src,
		tags:   make(map[TagID]*Tag, tagCount),
	}

	for i := uint32(0); i < uint32(tagCount); i++ {
		p := offset + 2 + uint64(i)*ifdEntrySize
		raw, err := src.Bytes(ctx, p, ifdEntrySize)
		if err != nil {
			return nil, 0, err
		}

		bo := src.ByteOrder()
		code := TagID(bo.Uint16(raw[0:2]))
		ft := fieldType(bo.Uint16(raw[2:4]))
		count := bo.Uint32(raw[4:8])

		if _, known := tagToLabel[code]; !known {
			src.logger.Debug("skipping unknown tag", "code", uint16(code), "type", uint16(ft), "ifd", id)
			continue
		}
		if ft.size() == 0 {
			src.logger.Debug("skipping tag with unknown field type", "tag", code.String(), "type", uint16(ft), "ifd", id)
			continue
		}
		if _, dup := d.tags[code]; dup {
			// First occurrence wins.
			continue
		}

		t := &Tag{ID: code, Type: ft, Count: count}
		valueLen := uint64(count) * uint64(ft.size())

		switch {
		case valueLen <= 4:
			data, err := decodeValue(raw[8:8+valueLen], bo, ft, count)
			if err != nil {
				return nil, 0, err
			}
			t.data = data
		default:
			valueOffset := uint64(bo.Uint32(raw[8:12]))
			t.offset = valueOffset
			if src.HasBytes(valueOffset, valueLen) {
				data, err := src.ReadType(ctx, valueOffset, ft, count)
				if err != nil {
					return nil, 0, err
				}
				t.data = data
			}
		}
		d.tags[code] = t
	}

	next, err := src.Uint32(ctx, offset+2+uint64(tagCount)*ifdEntrySize)
	if err != nil {
		return nil, 0, err
	}
	return d, uint64(next), nil
}
