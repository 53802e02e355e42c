package gatt

import (
	"encoding/binary"
	stderrors "errors"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Characteristic Properties (bitmask)
const (
	PropBroadcast                 = 0x01
	PropRead                      = 0x02
	PropWriteWithoutResponse      = 0x04
	PropWrite                     = 0x08
	PropNotify                    = 0x10
	PropIndicate                  = 0x20
	PropAuthenticatedSignedWrites = 0x40
	PropExtendedProperties        = 0x80
)

// Attribute permissions (not transmitted over the air, server-side only)
const (
	PermReadable = 0x01
	PermWritable = 0x02
)

// ErrInvalidTable is returned when attributes cannot form a table.
var ErrInvalidTable = stderrors.New("gatt: invalid attribute table")

// Attribute is a single entry of the attribute table. Value is the
// attribute's storage: cap(Value) is the longest value it may hold and
// writes reuse the same backing array.
type Attribute struct {
	Handle      uint16
	Type        UUID
	Value       []byte
	Permissions uint8
}

// Readable reports whether clients may read the attribute
func (a *Attribute) Readable() bool {
	return a.Permissions&PermReadable != 0
}

// Writable reports whether clients may write the attribute
func (a *Attribute) Writable() bool {
	return a.Permissions&PermWritable != 0
}

// IsService reports whether a is a primary or secondary service declaration
func (a *Attribute) IsService() bool {
	return a.Type.Equal(UUIDPrimaryService) || a.Type.Equal(UUIDSecondaryService)
}

// IsCCCD reports whether a is a Client Characteristic Configuration descriptor
func (a *Attribute) IsCCCD() bool {
	return a.Type.Equal(UUIDClientCharacteristicConfig)
}

func (a *Attribute) set(v []byte) {
	a.Value = a.Value[:len(v)]
	copy(a.Value, v)
}

// Table is the attribute database, ordered by handle. Its shape is fixed
// at construction; only values change afterwards.
type Table struct {
	mu    sync.RWMutex
	attrs []Attribute
}

// NewTable sorts attrs by handle and takes ownership of their value storage.
// Handle 0, duplicate handles and UUIDs that are not 2 or 16 bytes are rejected.
func NewTable(attrs []Attribute) (*Table, error) {
	t := &Table{attrs: make([]Attribute, len(attrs))}
	copy(t.attrs, attrs)
	sort.Slice(t.attrs, func(i, j int) bool { return t.attrs[i].Handle < t.attrs[j].Handle })

	for i := range t.attrs {
		a := &t.attrs[i]
		if a.Handle == 0 {
			return nil, errors.Wrap(ErrInvalidTable, "handle 0x0000 is reserved")
		}
		if i > 0 && t.attrs[i-1].Handle == a.Handle {
			return nil, errors.Wrapf(ErrInvalidTable, "duplicate handle 0x%04X", a.Handle)
		}
		if !validUUID(a.Type) {
			return nil, errors.Wrapf(ErrInvalidTable, "handle 0x%04X: uuid length %d", a.Handle, len(a.Type))
		}
	}
	return t, nil
}

// Len returns the number of attributes
func (t *Table) Len() int {
	return len(t.attrs)
}

// Lock and Unlock serialize value access. The server holds the lock for
// the whole of one request.
func (t *Table) Lock()   { t.mu.Lock() }
func (t *Table) Unlock() { t.mu.Unlock() }

func (t *Table) index(handle uint16) int {
	return sort.Search(len(t.attrs), func(i int) bool { return t.attrs[i].Handle >= handle })
}

// Find returns the attribute with the exact handle, or nil. The caller
// must hold the table lock to touch the value.
func (t *Table) Find(handle uint16) *Attribute {
	i := t.index(handle)
	if i < len(t.attrs) && t.attrs[i].Handle == handle {
		return &t.attrs[i]
	}
	return nil
}

// Range returns the attributes with start <= handle <= end. The slice is a
// view of the table.
func (t *Table) Range(start, end uint16) []Attribute {
	if start > end {
		return nil
	}
	lo := t.index(start)
	hi := lo
	for hi < len(t.attrs) && t.attrs[hi].Handle <= end {
		hi++
	}
	return t.attrs[lo:hi]
}

// GroupEnd returns the last handle of the group started by the service
// declaration at handle: the handle before the next service declaration,
// or 0xFFFF after the last service.
func (t *Table) GroupEnd(handle uint16) uint16 {
	for i := t.index(handle) + 1; i < len(t.attrs); i++ {
		if t.attrs[i].IsService() {
			return t.attrs[i].Handle - 1
		}
	}
	return 0xFFFF
}

// CCCDFor returns the CCCD that configures the characteristic whose value
// lives at valueHandle, or nil when it has none.
func (t *Table) CCCDFor(valueHandle uint16) *Attribute {
	i := t.index(valueHandle)
	if i >= len(t.attrs) || t.attrs[i].Handle != valueHandle {
		return nil
	}
	for i++; i < len(t.attrs); i++ {
		a := &t.attrs[i]
		if a.IsService() || a.Type.Equal(UUIDCharacteristic) {
			return nil
		}
		if a.IsCCCD() {
			return a
		}
	}
	return nil
}

// ValueHandleFor returns the value handle of the characteristic that owns
// the descriptor at handle.
func (t *Table) ValueHandleFor(handle uint16) (uint16, bool) {
	for i := t.index(handle) - 1; i >= 0; i-- {
		a := &t.attrs[i]
		if a.IsService() {
			return 0, false
		}
		if a.Type.Equal(UUIDCharacteristic) {
			if len(a.Value) < 3 {
				return 0, false
			}
			return binary.LittleEndian.Uint16(a.Value[1:3]), true
		}
	}
	return 0, false
}

// Value returns a copy of the value stored at handle
func (t *Table) Value(handle uint16) ([]byte, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	a := t.Find(handle)
	if a == nil {
		return nil, false
	}
	return append([]byte(nil), a.Value...), true
}

// SetValue replaces the value stored at handle. The value must fit the
// attribute's storage.
func (t *Table) SetValue(handle uint16, v []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	a := t.Find(handle)
	if a == nil {
		return errors.Wrapf(ErrInvalidTable, "no attribute at handle 0x%04X", handle)
	}
	if len(v) > cap(a.Value) {
		return errors.Wrapf(ErrInvalidTable, "handle 0x%04X holds at most %d bytes, got %d", handle, cap(a.Value), len(v))
	}
	a.set(v)
	return nil
}

// Attributes returns the table contents in handle order. The slice is a
// view of the table.
func (t *Table) Attributes() []Attribute {
	return t.attrs
}
