package gatt

import "encoding/binary"

// CCCD (Client Characteristic Configuration Descriptor) values
const (
	CCCDNotificationsDisabled = 0x0000
	CCCDNotificationsEnabled  = 0x0001
	CCCDIndicationsEnabled    = 0x0002
	CCCDBothEnabled           = 0x0003
)

// MaxSubscriptions bounds the CCCDs one link may enable at a time
const MaxSubscriptions = 16

type subscription struct {
	cccd  uint16 // handle of the CCCD attribute
	value uint16
}

// subscriptions is the per-link CCCD state. CCCD values are never shared
// between connections and vanish with the link.
type subscriptions struct {
	entries [MaxSubscriptions]subscription
	n       int
}

// set records value for the CCCD at handle. It reports false when the
// table is full and the CCCD is not already tracked.
func (s *subscriptions) set(cccd uint16, value uint16) bool {
	for i := 0; i < s.n; i++ {
		if s.entries[i].cccd != cccd {
			continue
		}
		if value == CCCDNotificationsDisabled {
			s.n--
			s.entries[i] = s.entries[s.n]
			s.entries[s.n] = subscription{}
			return true
		}
		s.entries[i].value = value
		return true
	}
	if value == CCCDNotificationsDisabled {
		return true
	}
	if s.n == len(s.entries) {
		return false
	}
	s.entries[s.n] = subscription{cccd: cccd, value: value}
	s.n++
	return true
}

func (s *subscriptions) get(cccd uint16) uint16 {
	for i := 0; i < s.n; i++ {
		if s.entries[i].cccd == cccd {
			return s.entries[i].value
		}
	}
	return CCCDNotificationsDisabled
}

func (s *subscriptions) clear() {
	*s = subscriptions{}
}

// EncodeCCCDValue converts subscription state to CCCD value bytes (little-endian)
func EncodeCCCDValue(notifyEnabled, indicateEnabled bool) []byte {
	var value uint16
	if notifyEnabled {
		value |= CCCDNotificationsEnabled
	}
	if indicateEnabled {
		value |= CCCDIndicationsEnabled
	}

	cccdValue := make([]byte, 2)
	binary.LittleEndian.PutUint16(cccdValue, value)
	return cccdValue
}

// DecodeCCCDValue parses CCCD value bytes to notification/indication flags.
// ok is false unless the value is exactly two bytes.
func DecodeCCCDValue(cccdValue []byte) (notifyEnabled, indicateEnabled, ok bool) {
	if len(cccdValue) != 2 {
		return false, false, false
	}

	value := binary.LittleEndian.Uint16(cccdValue)
	return value&CCCDNotificationsEnabled != 0, value&CCCDIndicationsEnabled != 0, true
}
