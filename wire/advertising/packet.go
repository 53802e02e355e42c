package advertising

import (
	"encoding/binary"
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// AD Types (Advertising Data Types) - EIR/AD format
const (
	ADTypeFlags                          = 0x01
	ADTypeIncomplete16BitServiceUUIDs    = 0x02
	ADTypeComplete16BitServiceUUIDs      = 0x03
	ADTypeIncomplete32BitServiceUUIDs    = 0x04
	ADTypeComplete32BitServiceUUIDs      = 0x05
	ADTypeIncomplete128BitServiceUUIDs   = 0x06
	ADTypeComplete128BitServiceUUIDs     = 0x07
	ADTypeShortenedLocalName             = 0x08
	ADTypeCompleteLocalName              = 0x09
	ADTypeTxPowerLevel                   = 0x0A
	ADTypeClassOfDevice                  = 0x0D
	ADTypeSlaveConnectionIntervalRange   = 0x12
	ADType16BitServiceSolicitationUUIDs  = 0x14
	ADType128BitServiceSolicitationUUIDs = 0x15
	ADTypeServiceData16Bit               = 0x16
	ADTypePublicTargetAddress            = 0x17
	ADTypeRandomTargetAddress            = 0x18
	ADTypeAppearance                     = 0x19
	ADTypeAdvertisingInterval            = 0x1A
	ADTypeLEBluetoothDeviceAddress       = 0x1B
	ADTypeLERole                         = 0x1C
	ADTypeServiceData32Bit               = 0x20
	ADTypeServiceData128Bit              = 0x21
	ADTypeURI                            = 0x24
	ADTypeManufacturerSpecificData       = 0xFF
)

// Advertising Flags (used in ADTypeFlags)
const (
	FlagLELimitedDiscoverableMode     = 0x01
	FlagLEGeneralDiscoverableMode     = 0x02
	FlagBREDRNotSupported             = 0x04
	FlagSimultaneousLEBREDRController = 0x08
	FlagSimultaneousLEBREDRHost       = 0x10
)

const (
	MaxAdvertisingDataLen         = 31  // legacy advertising data limit
	MaxExtendedAdvertisingDataLen = 229 // largest data carried by one extended report
)

// ErrMalformedAD is returned when an AD structure runs past its data.
var ErrMalformedAD = stderrors.New("advertising: malformed AD structure")

// ADStructure is a single TLV structure in advertising data.
// Format: [Length: 1 byte] [Type: 1 byte] [Data: Length-1 bytes]
// Data aliases the advertising data it was parsed from.
type ADStructure struct {
	Type byte
	Data []byte
}

// Walk calls fn for every AD structure in data, in order, until fn
// returns false. A zero length byte ends the data (padding). Nothing is
// copied; each structure's Data aliases data.
func Walk(data []byte, fn func(ADStructure) bool) error {
	for offset := 0; offset < len(data); {
		length := int(data[offset])
		if length == 0 {
			return nil
		}
		offset++
		if offset+length > len(data) {
			return errors.Wrapf(ErrMalformedAD, "length %d exceeds remaining %d bytes", length, len(data)-offset)
		}
		s := ADStructure{Type: data[offset], Data: data[offset+1 : offset+length : offset+length]}
		offset += length
		if !fn(s) {
			return nil
		}
	}
	return nil
}

// DecodeADStructures parses advertising data into individual AD structures
func DecodeADStructures(data []byte) ([]ADStructure, error) {
	var structures []ADStructure
	err := Walk(data, func(s ADStructure) bool {
		structures = append(structures, s)
		return true
	})
	if err != nil {
		return nil, err
	}
	return structures, nil
}

// Find returns the first AD structure of type adType. The error is
// non-nil only when data turns malformed before such a structure.
func Find(data []byte, adType byte) (ADStructure, bool, error) {
	var (
		found ADStructure
		ok    bool
	)
	err := Walk(data, func(s ADStructure) bool {
		if s.Type == adType {
			found, ok = s, true
			return false
		}
		return true
	})
	return found, ok, err
}

// EncodeADStructures appends the AD structures to dst and returns the result.
// limit bounds the total encoded length.
func EncodeADStructures(dst []byte, limit int, structures ...ADStructure) ([]byte, error) {
	start := len(dst)
	for _, s := range structures {
		length := 1 + len(s.Data)
		if length > 255 {
			return dst[:start], fmt.Errorf("advertising: AD structure too long: %d bytes (max 255)", length)
		}
		dst = append(dst, byte(length), s.Type)
		dst = append(dst, s.Data...)
	}
	if len(dst)-start > limit {
		return dst[:start], fmt.Errorf("advertising: data exceeds %d bytes: %d", limit, len(dst)-start)
	}
	return dst, nil
}

// NewFlagsAD creates a flags AD structure
func NewFlagsAD(flags byte) ADStructure {
	return ADStructure{
		Type: ADTypeFlags,
		Data: []byte{flags},
	}
}

// NewCompleteLocalNameAD creates a complete local name AD structure
func NewCompleteLocalNameAD(name string) ADStructure {
	return ADStructure{
		Type: ADTypeCompleteLocalName,
		Data: []byte(name),
	}
}

// NewShortenedLocalNameAD creates a shortened local name AD structure
func NewShortenedLocalNameAD(name string) ADStructure {
	return ADStructure{
		Type: ADTypeShortenedLocalName,
		Data: []byte(name),
	}
}

// NewComplete16BitServiceUUIDsAD creates a complete 16-bit service UUIDs AD structure
func NewComplete16BitServiceUUIDsAD(uuids []uint16) ADStructure {
	data := make([]byte, len(uuids)*2)
	for i, uuid := range uuids {
		binary.LittleEndian.PutUint16(data[i*2:], uuid)
	}
	return ADStructure{
		Type: ADTypeComplete16BitServiceUUIDs,
		Data: data,
	}
}

// NewTxPowerLevelAD creates a Tx power level AD structure
func NewTxPowerLevelAD(powerLevel int8) ADStructure {
	return ADStructure{
		Type: ADTypeTxPowerLevel,
		Data: []byte{byte(powerLevel)},
	}
}

// NewManufacturerSpecificDataAD creates a manufacturer-specific data AD structure
func NewManufacturerSpecificDataAD(companyID uint16, data []byte) ADStructure {
	payload := make([]byte, 2+len(data))
	binary.LittleEndian.PutUint16(payload[0:2], companyID)
	copy(payload[2:], data)
	return ADStructure{
		Type: ADTypeManufacturerSpecificData,
		Data: payload,
	}
}

// LocalName returns the complete local name, or the shortened one when
// only that is present. Malformed data reads as absent past the first bad
// structure; LocalName, Flags and ManufacturerData all behave this way.
func LocalName(data []byte) (string, bool) {
	if s, ok, _ := Find(data, ADTypeCompleteLocalName); ok {
		return string(s.Data), true
	}
	if s, ok, _ := Find(data, ADTypeShortenedLocalName); ok {
		return string(s.Data), true
	}
	return "", false
}

// Flags returns the flags byte
func Flags(data []byte) (byte, bool) {
	if s, ok, _ := Find(data, ADTypeFlags); ok && len(s.Data) > 0 {
		return s.Data[0], true
	}
	return 0, false
}

// ServiceUUIDs16 returns the 16-bit service UUIDs from complete and
// incomplete lists. On malformed data it returns the UUIDs found before
// the bad structure together with the error.
func ServiceUUIDs16(data []byte) ([]uint16, error) {
	var uuids []uint16
	err := Walk(data, func(s ADStructure) bool {
		if (s.Type == ADTypeComplete16BitServiceUUIDs || s.Type == ADTypeIncomplete16BitServiceUUIDs) && len(s.Data)%2 == 0 {
			for i := 0; i < len(s.Data); i += 2 {
				uuids = append(uuids, binary.LittleEndian.Uint16(s.Data[i:i+2]))
			}
		}
		return true
	})
	return uuids, err
}

// ManufacturerData returns the company identifier and payload of the
// first manufacturer-specific structure
func ManufacturerData(data []byte) (companyID uint16, payload []byte, found bool) {
	s, ok, _ := Find(data, ADTypeManufacturerSpecificData)
	if !ok || len(s.Data) < 2 {
		return 0, nil, false
	}
	return binary.LittleEndian.Uint16(s.Data[0:2]), s.Data[2:], true
}

// ADTypeName returns a human-readable name for an AD type
func ADTypeName(adType byte) string {
	switch adType {
	case ADTypeFlags:
		return "Flags"
	case ADTypeIncomplete16BitServiceUUIDs:
		return "Incomplete 16-bit Service UUIDs"
	case ADTypeComplete16BitServiceUUIDs:
		return "Complete 16-bit Service UUIDs"
	case ADTypeIncomplete128BitServiceUUIDs:
		return "Incomplete 128-bit Service UUIDs"
	case ADTypeComplete128BitServiceUUIDs:
		return "Complete 128-bit Service UUIDs"
	case ADTypeShortenedLocalName:
		return "Shortened Local Name"
	case ADTypeCompleteLocalName:
		return "Complete Local Name"
	case ADTypeTxPowerLevel:
		return "Tx Power Level"
	case ADTypeServiceData16Bit:
		return "Service Data"
	case ADTypeAppearance:
		return "Appearance"
	case ADTypeManufacturerSpecificData:
		return "Manufacturer Specific Data"
	default:
		return fmt.Sprintf("Unknown(0x%02X)", adType)
	}
}
