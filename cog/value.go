package cog

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Rational is an unreduced numerator/denominator pair. The reader never
// divides; consumers can.
type Rational struct {
	Num uint32
	Den uint32
}

// SRational is the signed form of Rational.
type SRational struct {
	Num int32
	Den int32
}

// tagData holds one decoded tag payload in its typed form.
type tagData struct {
	fType fieldType
	count uint32

	byteData      []uint8
	asciiData     string
	shortData     []uint16
	longData      []uint32
	rationalData  []Rational
	sbyteData     []int8
	sshortData    []int16
	slongData     []int32
	srationalData []SRational
	floatData     []float32
	doubleData    []float64
}

// decodeValue interprets raw as count elements of ft in the given byte
// order. raw must hold exactly count * ft.size() bytes.
func decodeValue(raw []byte, bo binary.ByteOrder, ft fieldType, count uint32) (*tagData, error) {
	if want := uint64(count) * uint64(ft.size()); uint64(len(raw)) < want {
		return nil, &ShortReadError{Offset: 0, Want: int(want), Got: len(raw)}
	}

	t := &tagData{fType: ft, count: count}
	n := int(count)

	switch ft {
	case typeByte, typeUndefined:
		t.byteData = make([]uint8, n)
		copy(t.byteData, raw[:n])
	case typeASCII:
		// NUL-terminated; strip everything from the terminator on.
		s := raw[:n]
		if i := bytes.IndexByte(s, 0); i >= 0 {
			s = s[:i]
		}
		t.asciiData = string(s)
	case typeShort:
		t.shortData = make([]uint16, n)
		for i := 0; i < n; i++ {
			t.shortData[i] = bo.Uint16(raw[i*2:])
		}
	case typeLong:
		t.longData = make([]uint32, n)
		for i := 0; i < n; i++ {
			t.longData[i] = bo.Uint32(raw[i*4:])
		}
	case typeRational:
		t.rationalData = make([]Rational, n)
		for i := 0; i < n; i++ {
			t.rationalData[i] = Rational{Num: bo.Uint32(raw[i*8:]), Den: bo.Uint32(raw[i*8+4:])}
		}
	case typeSByte:
		t.sbyteData = make([]int8, n)
		for i := 0; i < n; i++ {
			t.sbyteData[i] = int8(raw[i])
		}
	case typeSShort:
		t.sshortData = make([]int16, n)
		for i := 0; i < n; i++ {
			t.sshortData[i] = int16(bo.Uint16(raw[i*2:]))
		}
	case typeSLong:
		t.slongData = make([]int32, n)
		for i := 0; i < n; i++ {
			t.slongData[i] = int32(bo.Uint32(raw[i*4:]))
		}
	case typeSRational:
		t.srationalData = make([]SRational, n)
		for i := 0; i < n; i++ {
			t.srationalData[i] = SRational{Num: int32(bo.Uint32(raw[i*8:])), Den: int32(bo.Uint32(raw[i*8+4:]))}
		}
	case typeFloat:
		t.floatData = make([]float32, n)
		for i := 0; i < n; i++ {
			t.floatData[i] = math.Float32frombits(bo.Uint32(raw[i*4:]))
		}
	case typeDouble:
		t.doubleData = make([]float64, n)
		for i := 0; i < n; i++ {
			t.doubleData[i] = math.Float64frombits(bo.Uint64(raw[i*8:]))
		}
	default:
		return nil, fmt.Errorf("cog: cannot decode %s", ft)
	}
	return t, nil
}

// Len is the element count of the payload.
func (td *tagData) Len() int { return int(td.count) }

// uintValue widens the first element of an unsigned integer payload.
func (td *tagData) uintValue() (uint64, bool) {
	switch {
	case td.fType == typeShort && len(td.shortData) > 0:
		return uint64(td.shortData[0]), true
	case td.fType == typeLong && len(td.longData) > 0:
		return uint64(td.longData[0]), true
	case td.fType == typeByte && len(td.byteData) > 0:
		return uint64(td.byteData[0]), true
	}
	return 0, false
}

// uintSlice widens any unsigned integer payload to uint64.
func (td *tagData) uintSlice() ([]uint64, bool) {
	switch td.fType {
	case typeLong:
		out := make([]uint64, len(td.longData))
		for i, v := range td.longData {
			out[i] = uint64(v)
		}
		return out, true
	case typeShort:
		out := make([]uint64, len(td.shortData))
		for i, v := range td.shortData {
			out[i] = uint64(v)
		}
		return out, true
	case typeByte:
		out := make([]uint64, len(td.byteData))
		for i, v := range td.byteData {
			out[i] = uint64(v)
		}
		return out, true
	}
	return nil, false
}

// floatSlice widens a FLOAT or DOUBLE payload to float64.
func (td *tagData) floatSlice() ([]float64, bool) {
	switch td.fType {
	case typeDouble:
		return td.doubleData, true
	case typeFloat:
		out := make([]float64, len(td.floatData))
		for i, v := range td.floatData {
			out[i] = float64(v)
		}
		return out, true
	}
	return nil, false
}

func (td *tagData) ascii() (string, bool) {
	if td.fType != typeASCII {
		return "", false
	}
	return td.asciiData, true
}

// Value returns the payload in its natural Go shape: a string for ASCII,
// the lone element for count 1, otherwise the typed slice.
func (td *tagData) Value() any {
	switch td.fType {
	case typeASCII:
		return td.asciiData
	case typeByte, typeUndefined:
		return collapse(td.byteData)
	case typeShort:
		return collapse(td.shortData)
	case typeLong:
		return collapse(td.longData)
	case typeRational:
		return collapse(td.rationalData)
	case typeSByte:
		return collapse(td.sbyteData)
	case typeSShort:
		return collapse(td.sshortData)
	case typeSLong:
		return collapse(td.slongData)
	case typeSRational:
		return collapse(td.srationalData)
	case typeFloat:
		return collapse(td.floatData)
	case typeDouble:
		return collapse(td.doubleData)
	}
	return nil
}

func collapse[T any](s []T) any {
	if len(s) == 1 {
		return s[0]
	}
	return s
}
