package gatt

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// UUID is an attribute type as carried on the wire: 2 or 16 bytes,
// little-endian.
type UUID []byte

// Bluetooth Base UUID 00000000-0000-1000-8000-00805F9B34FB
var baseUUID = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// Well-known GATT attribute types
var (
	UUIDPrimaryService   = UUID16(0x2800)
	UUIDSecondaryService = UUID16(0x2801)
	UUIDInclude          = UUID16(0x2802)
	UUIDCharacteristic   = UUID16(0x2803)

	UUIDCharExtProps               = UUID16(0x2900)
	UUIDCharUserDescription        = UUID16(0x2901)
	UUIDClientCharacteristicConfig = UUID16(0x2902) // CCCD
	UUIDServerCharacteristicConfig = UUID16(0x2903)
	UUIDCharPresentationFormat     = UUID16(0x2904)
)

// UUID16 creates a 16-bit UUID
func UUID16(val uint16) UUID {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, val)
	return UUID(b)
}

// UUID128 converts a standard UUID into its wire form
func UUID128(u uuid.UUID) UUID {
	return UUID(reverse(u[:]))
}

// ParseUUID parses "180F" style short UUIDs and canonical 128-bit strings.
func ParseUUID(s string) (UUID, error) {
	if len(s) == 4 {
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, errors.Wrapf(err, "parse uuid %q", s)
		}
		return UUID(reverse(b)), nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return nil, errors.Wrapf(err, "parse uuid %q", s)
	}
	return UUID128(u), nil
}

// MustParseUUID is like ParseUUID but panics on error. For tables built at init.
func MustParseUUID(s string) UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// Len returns 2 or 16
func (u UUID) Len() int {
	return len(u)
}

// Is16Bit reports whether u is a short UUID
func (u UUID) Is16Bit() bool {
	return len(u) == 2
}

// Short returns the 16-bit value of a short UUID, or of a 128-bit UUID
// derived from the base UUID. ok is false otherwise.
func (u UUID) Short() (v uint16, ok bool) {
	switch len(u) {
	case 2:
		return binary.LittleEndian.Uint16(u), true
	case 16:
		full := u.Standard()
		if bytes.Equal(full[4:], baseUUID[4:]) && full[0] == 0 && full[1] == 0 {
			return binary.BigEndian.Uint16(full[2:4]), true
		}
	}
	return 0, false
}

// Standard returns the 128-bit form of u
func (u UUID) Standard() uuid.UUID {
	var out uuid.UUID
	switch len(u) {
	case 2:
		out = baseUUID
		out[2] = u[1]
		out[3] = u[0]
	case 16:
		copy(out[:], reverse(u))
	}
	return out
}

// Equal compares UUIDs, treating a short UUID and its base-UUID expansion
// as the same type.
func (u UUID) Equal(v UUID) bool {
	if len(u) == len(v) {
		return bytes.Equal(u, v)
	}
	if len(u) == 0 || len(v) == 0 {
		return false
	}
	return u.Standard() == v.Standard()
}

func (u UUID) String() string {
	switch len(u) {
	case 2:
		return fmt.Sprintf("%04X", binary.LittleEndian.Uint16(u))
	case 16:
		return strings.ToUpper(u.Standard().String())
	default:
		return fmt.Sprintf("invalid(%x)", []byte(u))
	}
}

func validUUID(u UUID) bool {
	return len(u) == 2 || len(u) == 16
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}
