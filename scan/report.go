package scan

import (
	"encoding/binary"
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"

	"github.com/user/bluehost/wire/advertising"
)

// MaxReportBytes is the largest batch an HCI event can carry
const MaxReportBytes = 255

var (
	// ErrInvalidSize is returned when report bytes are truncated or too long.
	ErrInvalidSize = stderrors.New("scan: invalid size")

	// ErrInvalidValue is returned when a report field holds an illegal value.
	ErrInvalidValue = stderrors.New("scan: invalid value")
)

// AddrKind is the HCI address type
type AddrKind uint8

const (
	AddrPublic         AddrKind = 0x00
	AddrRandom         AddrKind = 0x01
	AddrResolvedPublic AddrKind = 0x02
	AddrResolvedRandom AddrKind = 0x03
	AddrAnonymous      AddrKind = 0xFF
)

func (k AddrKind) String() string {
	switch k {
	case AddrPublic:
		return "public"
	case AddrRandom:
		return "random"
	case AddrResolvedPublic:
		return "resolved-public"
	case AddrResolvedRandom:
		return "resolved-random"
	case AddrAnonymous:
		return "anonymous"
	default:
		return fmt.Sprintf("AddrKind(0x%02X)", uint8(k))
	}
}

// Addr is a device address in HCI (little-endian) byte order
type Addr [6]byte

func (a Addr) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[5], a[4], a[3], a[2], a[1], a[0])
}

// ParseAddr parses "AA:BB:CC:DD:EE:FF"
func ParseAddr(s string) (Addr, error) {
	var a Addr
	var b [6]byte
	if _, err := fmt.Sscanf(s, "%02x:%02x:%02x:%02x:%02x:%02x", &b[0], &b[1], &b[2], &b[3], &b[4], &b[5]); err != nil {
		return a, errors.Wrapf(ErrInvalidValue, "address %q", s)
	}
	for i := range b {
		a[5-i] = b[i]
	}
	return a, nil
}

// Legacy advertising report event types
const (
	EventAdvInd        = 0x00 // connectable undirected
	EventAdvDirectInd  = 0x01 // connectable directed
	EventAdvScanInd    = 0x02 // scannable undirected
	EventAdvNonconnInd = 0x03 // non-connectable undirected
	EventScanRsp       = 0x04
)

// EventKindName returns the name of a legacy report event type
func EventKindName(kind uint8) string {
	switch kind {
	case EventAdvInd:
		return "ADV_IND"
	case EventAdvDirectInd:
		return "ADV_DIRECT_IND"
	case EventAdvScanInd:
		return "ADV_SCAN_IND"
	case EventAdvNonconnInd:
		return "ADV_NONCONN_IND"
	case EventScanRsp:
		return "SCAN_RSP"
	default:
		return fmt.Sprintf("Unknown(0x%02X)", kind)
	}
}

// Legacy report layout:
// [EventKind: 1] [AddrKind: 1] [Addr: 6] [DataLen: 1] [Data: DataLen] [RSSI: 1]
const advReportFixedLen = 10

// AdvReport is a view of one legacy advertising report
type AdvReport []byte

func (r AdvReport) EventKind() uint8   { return r[0] }
func (r AdvReport) AddrKind() AddrKind { return AddrKind(r[1]) }
func (r AdvReport) Addr() Addr {
	var a Addr
	copy(a[:], r[2:8])
	return a
}
func (r AdvReport) Data() []byte { return r[9 : 9+int(r[8])] }
func (r AdvReport) RSSI() int8   { return int8(r[len(r)-1]) }

// Fields returns the AD structures of the report data
func (r AdvReport) Fields() ([]advertising.ADStructure, error) {
	return advertising.DecodeADStructures(r.Data())
}

// LocalName returns the advertised local name
func (r AdvReport) LocalName() (string, bool) {
	return advertising.LocalName(r.Data())
}

func (r AdvReport) String() string {
	return fmt.Sprintf("%s %s(%s) rssi=%d data=%x", EventKindName(r.EventKind()), r.Addr(), r.AddrKind(), r.RSSI(), r.Data())
}

func parseAdvReport(b []byte) (AdvReport, []byte, error) {
	if len(b) < advReportFixedLen {
		return nil, nil, errors.Wrapf(ErrInvalidSize, "legacy report: need %d bytes, have %d", advReportFixedLen, len(b))
	}
	if b[0] > EventScanRsp {
		return nil, nil, errors.Wrapf(ErrInvalidValue, "legacy report: event kind 0x%02X", b[0])
	}
	n := advReportFixedLen + int(b[8])
	if len(b) < n {
		return nil, nil, errors.Wrapf(ErrInvalidSize, "legacy report: need %d bytes, have %d", n, len(b))
	}
	return AdvReport(b[:n:n]), b[n:], nil
}

// Extended event type bits
const (
	ExtEventConnectable  = 0x0001
	ExtEventScannable    = 0x0002
	ExtEventDirected     = 0x0004
	ExtEventScanResponse = 0x0008
	ExtEventLegacy       = 0x0010
)

// Extended data status, bits 5-6 of the event type
const (
	DataComplete   = 0
	DataIncomplete = 1
	DataTruncated  = 2
)

// Extended report layout:
// [EventKind: 2] [AddrKind: 1] [Addr: 6] [PrimaryPHY: 1] [SecondaryPHY: 1]
// [SID: 1] [TxPower: 1] [RSSI: 1] [PeriodicInterval: 2] [DirectAddrKind: 1]
// [DirectAddr: 6] [DataLen: 1] [Data: DataLen]
const extAdvReportFixedLen = 24

// ExtAdvReport is a view of one extended advertising report
type ExtAdvReport []byte

func (r ExtAdvReport) EventKind() uint16  { return binary.LittleEndian.Uint16(r[0:2]) }
func (r ExtAdvReport) AddrKind() AddrKind { return AddrKind(r[2]) }
func (r ExtAdvReport) Addr() Addr {
	var a Addr
	copy(a[:], r[3:9])
	return a
}
func (r ExtAdvReport) PrimaryPHY() uint8        { return r[9] }
func (r ExtAdvReport) SecondaryPHY() uint8      { return r[10] }
func (r ExtAdvReport) SID() uint8               { return r[11] }
func (r ExtAdvReport) TxPower() int8            { return int8(r[12]) }
func (r ExtAdvReport) RSSI() int8               { return int8(r[13]) }
func (r ExtAdvReport) PeriodicInterval() uint16 { return binary.LittleEndian.Uint16(r[14:16]) }
func (r ExtAdvReport) DirectAddrKind() AddrKind { return AddrKind(r[16]) }
func (r ExtAdvReport) DirectAddr() Addr {
	var a Addr
	copy(a[:], r[17:23])
	return a
}
func (r ExtAdvReport) Data() []byte { return r[24 : 24+int(r[23])] }

// Connectable reports the connectable bit of the event type
func (r ExtAdvReport) Connectable() bool { return r.EventKind()&ExtEventConnectable != 0 }

// Legacy reports whether the report came from a legacy advertising PDU
func (r ExtAdvReport) Legacy() bool { return r.EventKind()&ExtEventLegacy != 0 }

// DataStatus returns DataComplete, DataIncomplete or DataTruncated
func (r ExtAdvReport) DataStatus() uint8 { return uint8(r.EventKind()>>5) & 0x03 }

// Fields returns the AD structures of the report data
func (r ExtAdvReport) Fields() ([]advertising.ADStructure, error) {
	return advertising.DecodeADStructures(r.Data())
}

// LocalName returns the advertised local name
func (r ExtAdvReport) LocalName() (string, bool) {
	return advertising.LocalName(r.Data())
}

func (r ExtAdvReport) String() string {
	return fmt.Sprintf("ext(0x%04X) %s(%s) sid=%d tx=%d rssi=%d data=%x",
		r.EventKind(), r.Addr(), r.AddrKind(), r.SID(), r.TxPower(), r.RSSI(), r.Data())
}

func parseExtAdvReport(b []byte) (ExtAdvReport, []byte, error) {
	if len(b) < extAdvReportFixedLen {
		return nil, nil, errors.Wrapf(ErrInvalidSize, "extended report: need %d bytes, have %d", extAdvReportFixedLen, len(b))
	}
	// Primary: 1M, 2M or Coded. Secondary may also be 0, no secondary channel.
	if b[9] < 1 || b[9] > 3 {
		return nil, nil, errors.Wrapf(ErrInvalidValue, "extended report: primary phy 0x%02X", b[9])
	}
	if b[10] > 3 {
		return nil, nil, errors.Wrapf(ErrInvalidValue, "extended report: secondary phy 0x%02X", b[10])
	}
	n := extAdvReportFixedLen + int(b[23])
	if len(b) < n {
		return nil, nil, errors.Wrapf(ErrInvalidSize, "extended report: need %d bytes, have %d", n, len(b))
	}
	return ExtAdvReport(b[:n:n]), b[n:], nil
}

// Report is one batch of advertising reports as delivered by an HCI
// event: a count and the concatenated report bytes.
type Report struct {
	numReports uint8
	n          uint8
	reports    [MaxReportBytes]byte
}

// NewReport copies b into a new report. b longer than MaxReportBytes is
// rejected.
func NewReport(numReports uint8, b []byte) (Report, error) {
	var r Report
	if len(b) > MaxReportBytes {
		return r, errors.Wrapf(ErrInvalidSize, "report batch of %d bytes exceeds %d", len(b), MaxReportBytes)
	}
	r.numReports = numReports
	r.n = uint8(copy(r.reports[:], b))
	return r, nil
}

// LE Meta subevent codes carrying advertising reports
const (
	SubeventAdvertisingReport         = 0x02
	SubeventExtendedAdvertisingReport = 0x0D
)

// FromLEMeta builds a report from the parameters of an LE Meta event:
// [Subevent: 1] [NumReports: 1] [Reports...]. ext reports whether the
// batch holds extended reports.
func FromLEMeta(params []byte) (r Report, ext bool, err error) {
	if len(params) < 2 {
		return r, false, errors.Wrapf(ErrInvalidSize, "le meta event: %d bytes", len(params))
	}
	switch params[0] {
	case SubeventAdvertisingReport:
	case SubeventExtendedAdvertisingReport:
		ext = true
	default:
		return r, false, errors.Wrapf(ErrInvalidValue, "le meta subevent 0x%02X", params[0])
	}
	r, err = NewReport(params[1], params[2:])
	return r, ext, err
}

// NumReports returns the report count announced by the controller
func (r *Report) NumReports() int {
	return int(r.numReports)
}

// Bytes returns the raw report bytes
func (r *Report) Bytes() []byte {
	return r.reports[:r.n]
}

// Iter iterates the batch as legacy reports. Reports alias r.
func (r *Report) Iter() *ReportIter {
	return &ReportIter{remaining: int(r.numReports), bytes: r.reports[:r.n]}
}

// IterExt iterates the batch as extended reports. Reports alias r.
func (r *Report) IterExt() *ExtReportIter {
	return &ExtReportIter{remaining: int(r.numReports), bytes: r.reports[:r.n]}
}
