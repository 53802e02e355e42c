package gatt

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Service represents a high-level GATT service definition
type Service struct {
	UUID            UUID
	Primary         bool
	Characteristics []Characteristic
}

// Characteristic represents a high-level GATT characteristic definition
type Characteristic struct {
	UUID        UUID
	Properties  uint8
	Value       []byte // Initial value
	MaxLen      int    // Value capacity; 0 means len(Value)
	Descriptors []Descriptor
}

// Descriptor represents a GATT descriptor
type Descriptor struct {
	UUID  UUID
	Value []byte
}

// ServiceHandles records where a built service landed in the table
type ServiceHandles struct {
	StartHandle uint16
	EndHandle   uint16
	// Value handle per characteristic, in definition order
	ValueHandles []uint16
	// CCCD handle per characteristic, 0 when it has none
	CCCDHandles []uint16
}

// builder appends attributes with consecutive handles starting at 0x0001
type builder struct {
	attrs []Attribute
}

func (b *builder) next() uint16 {
	return uint16(len(b.attrs) + 1)
}

func (b *builder) add(typ UUID, value []byte, capacity int, perms uint8) uint16 {
	if capacity < len(value) {
		capacity = len(value)
	}
	storage := make([]byte, len(value), capacity)
	copy(storage, value)

	h := b.next()
	b.attrs = append(b.attrs, Attribute{
		Handle:      h,
		Type:        typ,
		Value:       storage,
		Permissions: perms,
	})
	return h
}

// BuildTable lays services out as declarations, values and descriptors
// and returns the resulting table. A CCCD is appended to every
// characteristic that can notify or indicate.
func BuildTable(services []Service) (*Table, []ServiceHandles, error) {
	b := &builder{}
	infos := make([]ServiceHandles, 0, len(services))

	for _, svc := range services {
		if !validUUID(svc.UUID) {
			return nil, nil, errors.Wrapf(ErrInvalidTable, "service uuid length %d", len(svc.UUID))
		}
		info := ServiceHandles{}

		declType := UUIDSecondaryService
		if svc.Primary {
			declType = UUIDPrimaryService
		}
		info.StartHandle = b.add(declType, svc.UUID, 0, PermReadable)

		for _, char := range svc.Characteristics {
			if !validUUID(char.UUID) {
				return nil, nil, errors.Wrapf(ErrInvalidTable, "characteristic uuid length %d", len(char.UUID))
			}
			value, cccd := b.addCharacteristic(char)
			info.ValueHandles = append(info.ValueHandles, value)
			info.CCCDHandles = append(info.CCCDHandles, cccd)
		}

		info.EndHandle = b.next() - 1
		if len(b.attrs) > 0xFFFF {
			return nil, nil, errors.Wrap(ErrInvalidTable, "handle space exhausted")
		}
		infos = append(infos, info)
	}

	table, err := NewTable(b.attrs)
	if err != nil {
		return nil, nil, err
	}
	return table, infos, nil
}

// addCharacteristic adds the declaration, value and descriptors of char.
// Declaration value: [Properties: 1 byte][Value Handle: 2 bytes][UUID: 2 or 16 bytes]
func (b *builder) addCharacteristic(char Characteristic) (valueHandle, cccdHandle uint16) {
	decl := make([]byte, 3+len(char.UUID))
	decl[0] = char.Properties
	binary.LittleEndian.PutUint16(decl[1:3], b.next()+1)
	copy(decl[3:], char.UUID)
	b.add(UUIDCharacteristic, decl, 0, PermReadable)

	valueHandle = b.add(char.UUID, char.Value, char.MaxLen, determinePermissions(char.Properties))

	for _, desc := range char.Descriptors {
		b.add(desc.UUID, desc.Value, 0, PermReadable|PermWritable)
	}

	if char.Properties&(PropNotify|PropIndicate) != 0 {
		cccdHandle = b.add(UUIDClientCharacteristicConfig, []byte{0x00, 0x00}, 2, PermReadable|PermWritable)
	}
	return valueHandle, cccdHandle
}

// determinePermissions converts characteristic properties to attribute permissions
func determinePermissions(properties uint8) uint8 {
	var perms uint8

	if properties&PropRead != 0 {
		perms |= PermReadable
	}

	if properties&(PropWrite|PropWriteWithoutResponse) != 0 {
		perms |= PermWritable
	}

	return perms
}

// NewGenericAccessService creates the mandatory Generic Access service (0x1800)
func NewGenericAccessService(deviceName string, appearance uint16) Service {
	return Service{
		UUID:    UUID16(0x1800),
		Primary: true,
		Characteristics: []Characteristic{
			{
				UUID:       UUID16(0x2A00), // Device Name
				Properties: PropRead,
				Value:      []byte(deviceName),
			},
			{
				UUID:       UUID16(0x2A01), // Appearance
				Properties: PropRead,
				Value:      []byte{byte(appearance), byte(appearance >> 8)},
			},
		},
	}
}

// NewGenericAttributeService creates the mandatory Generic Attribute service (0x1801)
func NewGenericAttributeService() Service {
	return Service{
		UUID:    UUID16(0x1801),
		Primary: true,
		Characteristics: []Characteristic{
			{
				UUID:       UUID16(0x2A05), // Service Changed
				Properties: PropIndicate,
				Value:      []byte{0x00, 0x00, 0x00, 0x00},
			},
		},
	}
}

// NewReadWriteCharacteristic creates a characteristic with read/write
// properties holding up to maxLen bytes
func NewReadWriteCharacteristic(uuid UUID, initialValue []byte, maxLen int) Characteristic {
	return Characteristic{
		UUID:       uuid,
		Properties: PropRead | PropWrite | PropWriteWithoutResponse,
		Value:      initialValue,
		MaxLen:     maxLen,
	}
}

// NewNotifyCharacteristic creates a characteristic with read/notify properties
func NewNotifyCharacteristic(uuid UUID, initialValue []byte) Characteristic {
	return Characteristic{
		UUID:       uuid,
		Properties: PropRead | PropNotify,
		Value:      initialValue,
	}
}

// NewReadOnlyCharacteristic creates a characteristic with only read property
func NewReadOnlyCharacteristic(uuid UUID, value []byte) Characteristic {
	return Characteristic{
		UUID:       uuid,
		Properties: PropRead,
		Value:      value,
	}
}
