package cog

import "fmt"

// TagID identifies a TIFF tag.
type TagID uint16

// Tags of the baseline and GeoTIFF profiles this reader understands.
// Entries carrying a code outside this table are skipped during parsing.
const (
	ImageWidth                TagID = 256
	ImageLength               TagID = 257
	BitsPerSample             TagID = 258
	Compression               TagID = 259
	PhotometricInterpretation TagID = 262
	SamplesPerPixel           TagID = 277
	TileWidth                 TagID = 322
	TileLength                TagID = 323
	TileOffsets               TagID = 324
	TileByteCounts            TagID = 325
	SampleFormat              TagID = 339
	ModelPixelScale           TagID = 33550
	ModelTiepoint             TagID = 33922
	GeoKeyDirectory           TagID = 34735
	GeoDoubleParams           TagID = 34736
	GeoAsciiParams            TagID = 34737
)

var tagToLabel = map[TagID]string{
	ImageWidth:                "ImageWidth",
	ImageLength:               "ImageLength",
	BitsPerSample:             "BitsPerSample",
	Compression:               "Compression",
	PhotometricInterpretation: "PhotometricInterpretation",
	SamplesPerPixel:           "SamplesPerPixel",
	TileWidth:                 "TileWidth",
	TileLength:                "TileLength",
	TileOffsets:               "TileOffsets",
	TileByteCounts:            "TileByteCounts",
	SampleFormat:              "SampleFormat",
	ModelPixelScale:           "ModelPixelScale",
	ModelTiepoint:             "ModelTiepoint",
	GeoKeyDirectory:           "GeoKeyDirectory",
	GeoDoubleParams:           "GeoDoubleParams",
	GeoAsciiParams:            "GeoAsciiParams",
}

func (t TagID) String() string {
	v, ok := tagToLabel[t]
	if !ok {
		return fmt.Sprintf("%d", uint16(t))
	}
	return v
}

// fieldType is the on-disk data type of a tag value.
type fieldType uint16

const (
	typeByte      fieldType = 1
	typeASCII     fieldType = 2
	typeShort     fieldType = 3
	typeLong      fieldType = 4
	typeRational  fieldType = 5
	typeSByte     fieldType = 6
	typeUndefined fieldType = 7
	typeSShort    fieldType = 8
	typeSLong     fieldType = 9
	typeSRational fieldType = 10
	typeFloat     fieldType = 11
	typeDouble    fieldType = 12
)

// fieldTypeLen is the size of one element of each field type, indexed by
// the type code. Index 0 and codes past the table decode as 0 (unknown).
var fieldTypeLen = [...]uint32{
	0,
	1, 1, 2, 4, // BYTE ASCII SHORT LONG
	8, 1, 1, 2, // RATIONAL SBYTE UNDEFINED SSHORT
	4, 8, 4, 8, // SLONG SRATIONAL FLOAT DOUBLE
}

// size returns the number of bytes of one element, 0 if unrecognized.
func (f fieldType) size() uint32 {
	if f == 0 || int(f) >= len(fieldTypeLen) {
		return 0
	}
	return fieldTypeLen[f]
}

var fieldTypeToLabel = map[fieldType]string{
	typeByte:      "BYTE",
	typeASCII:     "ASCII",
	typeShort:     "SHORT",
	typeLong:      "LONG",
	typeRational:  "RATIONAL",
	typeSByte:     "SBYTE",
	typeUndefined: "UNDEFINED",
	typeSShort:    "SSHORT",
	typeSLong:     "SLONG",
	typeSRational: "SRATIONAL",
	typeFloat:     "FLOAT",
	typeDouble:    "DOUBLE",
}

func (f fieldType) String() string {
	v, ok := fieldTypeToLabel[f]
	if !ok {
		return fmt.Sprintf("unrecognized field type %d", uint16(f))
	}
	return v
}

// TIFF header constants.
const (
	orderLittleEndian = 0x4949 // "II"
	orderBigEndian    = 0x4D4D // "MM"
	tiffVersion       = 42
	bigTiffVersion    = 43
)

// compressionMediaType maps the Compression tag to the media type of the
// raw tile payload. Codes outside the table have no media type.
var compressionMediaType = map[uint16]string{
	1:     "none",
	5:     "image/x-lzw",
	6:     "image/jpeg",
	7:     "image/jpeg",
	8:     "image/deflate",
	34712: "image/jp2",
	50001: "image/webp",
}
