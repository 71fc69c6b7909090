// Package codec provides the little-endian encode/decode primitives shared
// by the reference and query wire formats. Every encoder follows the same
// two-phase contract: called with a nil or undersized destination it reports
// the number of bytes it needs and writes nothing; called with a sufficient
// destination it writes exactly that many bytes.
package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ErrShortBuffer is returned (wrapped) when the destination buffer is too
// small to hold an encoded value. Callers that want the two-phase size-probe
// behavior pass buf == nil and ignore the error.
var ErrShortBuffer = fmt.Errorf("codec: buffer too small")

func checkCap(buf []byte, need int) (probe bool, err error) {
	if buf == nil {
		return true, nil
	}
	if len(buf) < need {
		return false, fmt.Errorf("%w: need %d, have %d", ErrShortBuffer, need, len(buf))
	}
	return false, nil
}

// PutUint16 encodes v as 2 little-endian bytes into buf.
func PutUint16(buf []byte, v uint16) (int, error) {
	if probe, err := checkCap(buf, 2); probe || err != nil {
		return 2, err
	}
	binary.LittleEndian.PutUint16(buf, v)
	return 2, nil
}

// GetUint16 decodes 2 little-endian bytes from buf.
func GetUint16(buf []byte) (uint16, error) {
	if len(buf) < 2 {
		return 0, fmt.Errorf("%w: need 2, have %d", ErrShortBuffer, len(buf))
	}
	return binary.LittleEndian.Uint16(buf), nil
}

// PutUint32 encodes v as 4 little-endian bytes into buf.
func PutUint32(buf []byte, v uint32) (int, error) {
	if probe, err := checkCap(buf, 4); probe || err != nil {
		return 4, err
	}
	binary.LittleEndian.PutUint32(buf, v)
	return 4, nil
}

// GetUint32 decodes 4 little-endian bytes from buf.
func GetUint32(buf []byte) (uint32, error) {
	if len(buf) < 4 {
		return 0, fmt.Errorf("%w: need 4, have %d", ErrShortBuffer, len(buf))
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// PutUint64 encodes v as 8 little-endian bytes into buf.
func PutUint64(buf []byte, v uint64) (int, error) {
	if probe, err := checkCap(buf, 8); probe || err != nil {
		return 8, err
	}
	binary.LittleEndian.PutUint64(buf, v)
	return 8, nil
}

// GetUint64 decodes 8 little-endian bytes from buf.
func GetUint64(buf []byte) (uint64, error) {
	if len(buf) < 8 {
		return 0, fmt.Errorf("%w: need 8, have %d", ErrShortBuffer, len(buf))
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// PutInt16/PutInt32/PutInt64 mirror the unsigned encoders for signed values.
func PutInt16(buf []byte, v int16) (int, error) { return PutUint16(buf, uint16(v)) }
func GetInt16(buf []byte) (int16, error)        { v, err := GetUint16(buf); return int16(v), err }
func PutInt32(buf []byte, v int32) (int, error) { return PutUint32(buf, uint32(v)) }
func GetInt32(buf []byte) (int32, error)        { v, err := GetUint32(buf); return int32(v), err }
func PutInt64(buf []byte, v int64) (int, error) { return PutUint64(buf, uint64(v)) }
func GetInt64(buf []byte) (int64, error)        { v, err := GetUint64(buf); return int64(v), err }

// PutFloat64 encodes the IEEE-754 bit pattern of v as 8 little-endian bytes.
func PutFloat64(buf []byte, v float64) (int, error) {
	if probe, err := checkCap(buf, 8); probe || err != nil {
		return 8, err
	}
	binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
	return 8, nil
}

// GetFloat64 decodes 8 little-endian bytes as an IEEE-754 double.
func GetFloat64(buf []byte) (float64, error) {
	bits, err := GetUint64(buf)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(bits), nil
}

// PutVarWidth encodes v into exactly width (1..8) little-endian bytes, as
// chosen by the caller. Truncates silently for values that don't fit, same
// as the source protocol: the caller is trusted to size width correctly.
func PutVarWidth(buf []byte, v uint64, width int) (int, error) {
	if width < 1 || width > 8 {
		return 0, fmt.Errorf("codec: invalid var-width %d", width)
	}
	if probe, err := checkCap(buf, width); probe || err != nil {
		return width, err
	}
	for i := 0; i < width; i++ {
		buf[i] = byte(v >> (8 * uint(i)))
	}
	return width, nil
}

// GetVarWidth decodes width little-endian bytes from buf into a uint64.
func GetVarWidth(buf []byte, width int) (uint64, error) {
	if width < 1 || width > 8 {
		return 0, fmt.Errorf("codec: invalid var-width %d", width)
	}
	if len(buf) < width {
		return 0, fmt.Errorf("%w: need %d, have %d", ErrShortBuffer, width, len(buf))
	}
	var v uint64
	for i := 0; i < width; i++ {
		v |= uint64(buf[i]) << (8 * uint(i))
	}
	return v, nil
}

// PutLenPrefixed64 encodes v as a 1-byte length followed by that many value
// bytes: the minimal width (1..8) that represents v.
func PutLenPrefixed64(buf []byte, v uint64) (int, error) {
	width := minWidth(v)
	need := 1 + width
	if probe, err := checkCap(buf, need); probe || err != nil {
		return need, err
	}
	buf[0] = byte(width)
	if _, err := PutVarWidth(buf[1:], v, width); err != nil {
		return need, err
	}
	return need, nil
}

// GetLenPrefixed64 decodes a 1-byte length followed by that many value
// bytes, returning the value and the number of bytes consumed.
func GetLenPrefixed64(buf []byte) (uint64, int, error) {
	if len(buf) < 1 {
		return 0, 0, fmt.Errorf("%w: need 1, have 0", ErrShortBuffer)
	}
	width := int(buf[0])
	if width < 1 || width > 8 {
		return 0, 0, fmt.Errorf("codec: invalid length-prefixed width %d", width)
	}
	v, err := GetVarWidth(buf[1:], width)
	if err != nil {
		return 0, 0, err
	}
	return v, 1 + width, nil
}

func minWidth(v uint64) int {
	w := 1
	for v>>(8*uint(w)) != 0 {
		w++
	}
	return w
}

// AddressSize/LengthSize codecs: the container picks a byte width (2, 4, or
// 8) for addresses and lengths; these wrap PutVarWidth/GetVarWidth with that
// validation baked in.

// PutAddress encodes addr using the container's configured address size.
func PutAddress(buf []byte, addr uint64, addressSize int) (int, error) {
	if err := validSize(addressSize); err != nil {
		return 0, err
	}
	return PutVarWidth(buf, addr, addressSize)
}

// GetAddress decodes an address of the container's configured size.
func GetAddress(buf []byte, addressSize int) (uint64, error) {
	if err := validSize(addressSize); err != nil {
		return 0, err
	}
	return GetVarWidth(buf, addressSize)
}

// PutLength encodes l using the container's configured length size.
func PutLength(buf []byte, l uint64, lengthSize int) (int, error) {
	return PutAddress(buf, l, lengthSize)
}

// GetLength decodes a length of the container's configured size.
func GetLength(buf []byte, lengthSize int) (uint64, error) {
	return GetAddress(buf, lengthSize)
}

func validSize(n int) error {
	if n != 2 && n != 4 && n != 8 {
		return fmt.Errorf("codec: address/length size must be 2, 4 or 8, got %d", n)
	}
	return nil
}

// MaxStringLen is the strict upper bound (2^15) on encoded string length.
const MaxStringLen = 1 << 15

// PutString encodes s as a 16-bit little-endian length followed by its raw
// bytes (no NUL terminator). len(s) must be < MaxStringLen.
func PutString(buf []byte, s string) (int, error) {
	if len(s) >= MaxStringLen {
		return 0, fmt.Errorf("codec: string length %d exceeds limit %d", len(s), MaxStringLen)
	}
	need := 2 + len(s)
	if probe, err := checkCap(buf, need); probe || err != nil {
		return need, err
	}
	if _, err := PutUint16(buf, uint16(len(s))); err != nil {
		return need, err
	}
	copy(buf[2:], s)
	return need, nil
}

// GetString decodes a 16-bit length-prefixed string, returning the string
// and the number of bytes consumed.
func GetString(buf []byte) (string, int, error) {
	n, err := GetUint16(buf)
	if err != nil {
		return "", 0, err
	}
	need := 2 + int(n)
	if len(buf) < need {
		return "", 0, fmt.Errorf("%w: need %d, have %d", ErrShortBuffer, need, len(buf))
	}
	return string(buf[2:need]), need, nil
}
