package gatt

import (
	"bytes"
	"testing"

	"github.com/user/bluehost/wire/att"
)

var (
	testServiceUUID = MustParseUUID("6E400001-B5A3-F393-E0A9-E50E24DCCA9E")
	testRWUUID      = MustParseUUID("6E400002-B5A3-F393-E0A9-E50E24DCCA9E")
	testNotifyUUID  = MustParseUUID("6E400003-B5A3-F393-E0A9-E50E24DCCA9E")
)

// Handle layout of the test table:
//
//	0x0001 GAP service          0x0006 GATT service         0x000A custom service
//	0x0002 decl Device Name     0x0007 decl Service Changed 0x000B decl RW
//	0x0003 "Hello"              0x0008 value (indicate)     0x000C RW value (max 64)
//	0x0004 decl Appearance      0x0009 CCCD                 0x000D decl notify
//	0x0005 appearance                                       0x000E notify value
//	                                                        0x000F CCCD
func testTable(t *testing.T) *Table {
	t.Helper()
	table, _, err := BuildTable([]Service{
		NewGenericAccessService("Hello", 0x0341),
		NewGenericAttributeService(),
		{
			UUID:    testServiceUUID,
			Primary: true,
			Characteristics: []Characteristic{
				NewReadWriteCharacteristic(testRWUUID, []byte("abc"), 64),
				NewNotifyCharacteristic(testNotifyUUID, []byte("n")),
			},
		},
	})
	if err != nil {
		t.Fatalf("BuildTable: %v", err)
	}
	return table
}

func process(t *testing.T, s *Server, b *Bearer, pdu []byte) ([]byte, error) {
	t.Helper()
	req, err := att.Decode(pdu)
	if err != nil {
		t.Fatalf("Decode(%x): %v", pdu, err)
	}
	resp, err := s.Process(b, req)
	// Copy out of the scratch buffer so results survive the next call.
	return append([]byte(nil), resp...), err
}

func wantATTError(t *testing.T, err error, code uint8, handle uint16) {
	t.Helper()
	attErr, ok := err.(*att.Error)
	if !ok {
		t.Fatalf("error = %v, want *att.Error code 0x%02X", err, code)
	}
	if attErr.Code != code || attErr.Handle != handle {
		t.Errorf("error = %v, want code 0x%02X handle 0x%04X", attErr, code, handle)
	}
}

func TestServerRequests(t *testing.T) {
	tests := []struct {
		name string
		pdu  []byte
		want []byte
	}{
		{
			name: "read device name",
			pdu:  []byte{0x0A, 0x03, 0x00},
			want: []byte{0x0B, 'H', 'e', 'l', 'l', 'o'},
		},
		{
			name: "read blob",
			pdu:  []byte{0x0C, 0x03, 0x00, 0x02, 0x00},
			want: []byte{0x0D, 'l', 'l', 'o'},
		},
		{
			name: "read blob at end of value",
			pdu:  []byte{0x0C, 0x03, 0x00, 0x05, 0x00},
			want: []byte{0x0D},
		},
		{
			name: "read multiple",
			pdu:  []byte{0x0E, 0x03, 0x00, 0x05, 0x00},
			want: []byte{0x0F, 'H', 'e', 'l', 'l', 'o', 0x41, 0x03},
		},
		{
			name: "find information truncated at mtu",
			pdu:  []byte{0x04, 0x01, 0x00, 0xFF, 0xFF},
			want: []byte{
				0x05, 0x01,
				0x01, 0x00, 0x00, 0x28,
				0x02, 0x00, 0x03, 0x28,
				0x03, 0x00, 0x00, 0x2A,
				0x04, 0x00, 0x03, 0x28,
				0x05, 0x00, 0x01, 0x2A,
			},
		},
		{
			name: "find information stops at format change",
			pdu:  []byte{0x04, 0x0B, 0x00, 0x0C, 0x00},
			want: []byte{0x05, 0x01, 0x0B, 0x00, 0x03, 0x28},
		},
		{
			name: "find information 128-bit",
			pdu:  []byte{0x04, 0x0C, 0x00, 0x0C, 0x00},
			want: append([]byte{0x05, 0x02, 0x0C, 0x00}, testRWUUID...),
		},
		{
			name: "find by type value",
			pdu:  []byte{0x06, 0x01, 0x00, 0xFF, 0xFF, 0x00, 0x28, 0x01, 0x18},
			want: []byte{0x07, 0x06, 0x00, 0x09, 0x00},
		},
		{
			name: "find by type value last service",
			pdu:  append([]byte{0x06, 0x01, 0x00, 0xFF, 0xFF, 0x00, 0x28}, testServiceUUID...),
			want: []byte{0x07, 0x0A, 0x00, 0xFF, 0xFF},
		},
		{
			name: "read by type characteristic declarations",
			pdu:  []byte{0x08, 0x01, 0x00, 0xFF, 0xFF, 0x03, 0x28},
			want: []byte{
				0x09, 0x07,
				0x02, 0x00, 0x02, 0x03, 0x00, 0x00, 0x2A,
				0x04, 0x00, 0x02, 0x05, 0x00, 0x01, 0x2A,
				0x07, 0x00, 0x20, 0x08, 0x00, 0x05, 0x2A,
			},
		},
		{
			name: "read by group type",
			pdu:  []byte{0x10, 0x01, 0x00, 0xFF, 0xFF, 0x00, 0x28},
			want: []byte{
				0x11, 0x06,
				0x01, 0x00, 0x05, 0x00, 0x00, 0x18,
				0x06, 0x00, 0x09, 0x00, 0x01, 0x18,
			},
		},
		{
			name: "read by group type 128-bit service",
			pdu:  []byte{0x10, 0x0A, 0x00, 0xFF, 0xFF, 0x00, 0x28},
			want: append([]byte{0x11, 0x14, 0x0A, 0x00, 0xFF, 0xFF}, testServiceUUID...),
		},
		{
			name: "write request",
			pdu:  []byte{0x12, 0x0C, 0x00, 'h', 'i'},
			want: []byte{0x13},
		},
		{
			name: "exchange mtu",
			pdu:  []byte{0x02, 0x00, 0x01},
			want: []byte{0x03, 0x05, 0x02},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(testTable(t))
			got, err := process(t, s, NewBearer(), tt.pdu)
			if err != nil {
				t.Fatalf("Process() error = %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Process() = %x, want %x", got, tt.want)
			}
		})
	}
}

func TestServerErrors(t *testing.T) {
	tests := []struct {
		name   string
		pdu    []byte
		code   uint8
		handle uint16
	}{
		{"read unknown handle", []byte{0x0A, 0x99, 0x00}, att.ErrInvalidHandle, 0x0099},
		{"read not permitted", []byte{0x0A, 0x08, 0x00}, att.ErrReadNotPermitted, 0x0008},
		{"read blob bad offset", []byte{0x0C, 0x03, 0x00, 0x06, 0x00}, att.ErrInvalidOffset, 0x0003},
		{"read multiple unknown handle", []byte{0x0E, 0x03, 0x00, 0x99, 0x00}, att.ErrInvalidHandle, 0x0099},
		{"find information start zero", []byte{0x04, 0x00, 0x00, 0xFF, 0xFF}, att.ErrInvalidHandle, 0x0000},
		{"find information start after end", []byte{0x04, 0x05, 0x00, 0x01, 0x00}, att.ErrInvalidHandle, 0x0005},
		{"find information empty range", []byte{0x04, 0x00, 0x01, 0xFF, 0xFF}, att.ErrAttributeNotFound, 0x0100},
		{"find by type value no match", []byte{0x06, 0x01, 0x00, 0xFF, 0xFF, 0x00, 0x28, 0x0F, 0x18}, att.ErrAttributeNotFound, 0x0001},
		{"read by type unreadable first", []byte{0x08, 0x01, 0x00, 0xFF, 0xFF, 0x05, 0x2A}, att.ErrReadNotPermitted, 0x0008},
		{"read by type no match", []byte{0x08, 0x01, 0x00, 0xFF, 0xFF, 0x99, 0x2A}, att.ErrAttributeNotFound, 0x0001},
		{"read by group unsupported type", []byte{0x10, 0x01, 0x00, 0xFF, 0xFF, 0x03, 0x28}, att.ErrUnsupportedGroupType, 0x0001},
		{"write not permitted", []byte{0x12, 0x03, 0x00, 'x'}, att.ErrWriteNotPermitted, 0x0003},
		{"write unknown handle", []byte{0x12, 0x99, 0x00, 'x'}, att.ErrInvalidHandle, 0x0099},
		{"write too long", append([]byte{0x12, 0x0C, 0x00}, make([]byte, 65)...), att.ErrInvalidAttributeValueLength, 0x000C},
		{"write cccd wrong length", []byte{0x12, 0x0F, 0x00, 0x01}, att.ErrInvalidAttributeValueLength, 0x000F},
		{"prepare write not permitted", []byte{0x16, 0x03, 0x00, 0x00, 0x00, 'x'}, att.ErrWriteNotPermitted, 0x0003},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(testTable(t))
			resp, err := process(t, s, NewBearer(), tt.pdu)
			if len(resp) != 0 {
				t.Errorf("Process() payload = %x, want none", resp)
			}
			wantATTError(t, err, tt.code, tt.handle)
		})
	}
}

func TestServerExchangeMTU(t *testing.T) {
	tests := []struct {
		name    string
		max     uint16
		client  uint16
		wantMTU uint16
		resp    []byte
	}{
		{"client smaller", 517, 100, 100, []byte{0x03, 0x05, 0x02}},
		{"server smaller", 50, 100, 50, []byte{0x03, 0x32, 0x00}},
		{"client below minimum", 517, 10, 23, []byte{0x03, 0x05, 0x02}},
		{"server max out of range", 1000, 600, 517, []byte{0x03, 0x05, 0x02}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(testTable(t))
			s.MaxMTU = tt.max
			b := NewBearer()
			resp, err := process(t, s, b, []byte{0x02, byte(tt.client), byte(tt.client >> 8)})
			if err != nil {
				t.Fatalf("Process() error = %v", err)
			}
			if !bytes.Equal(resp, tt.resp) {
				t.Errorf("response = %x, want %x", resp, tt.resp)
			}
			if b.MTU() != tt.wantMTU {
				t.Errorf("MTU() = %d, want %d", b.MTU(), tt.wantMTU)
			}
		})
	}
}

func TestServerReadTruncatedToMTU(t *testing.T) {
	s := NewServer(testTable(t))
	b := NewBearer()

	long := bytes.Repeat([]byte{'x'}, 40)
	if err := s.Table().SetValue(0x000C, long); err != nil {
		t.Fatal(err)
	}

	resp, err := process(t, s, b, []byte{0x0A, 0x0C, 0x00})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp) != 23 {
		t.Errorf("read response length = %d, want 23", len(resp))
	}

	// Read By Type entries carry at most MTU-4 value bytes.
	req := append([]byte{0x08, 0x0C, 0x00, 0x0C, 0x00}, testRWUUID...)
	resp, err = process(t, s, b, req)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp) != 23 || resp[1] != 21 {
		t.Errorf("read by type = %x, want one 21 byte entry", resp)
	}

	if _, err := process(t, s, b, []byte{0x02, 0x00, 0x01}); err != nil {
		t.Fatal(err)
	}
	resp, err = process(t, s, b, []byte{0x0A, 0x0C, 0x00})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp) != 41 {
		t.Errorf("read response after mtu exchange length = %d, want 41", len(resp))
	}
}

func TestServerWriteCommand(t *testing.T) {
	s := NewServer(testTable(t))
	resp, err := process(t, s, NewBearer(), []byte{0x52, 0x0C, 0x00, 'z'})
	if err != nil || resp != nil && len(resp) != 0 {
		t.Fatalf("write command = %x, %v; want no response", resp, err)
	}
	if v, _ := s.Table().Value(0x000C); !bytes.Equal(v, []byte("z")) {
		t.Errorf("value = %q, want %q", v, "z")
	}
}

func TestServerConfirmationHasNoResponse(t *testing.T) {
	s := NewServer(testTable(t))
	resp, err := process(t, s, NewBearer(), []byte{0x1E})
	if err != nil || len(resp) != 0 {
		t.Errorf("confirmation = %x, %v; want no response", resp, err)
	}
}

func TestServerPreparedWrites(t *testing.T) {
	t.Run("commit", func(t *testing.T) {
		s := NewServer(testTable(t))
		b := NewBearer()

		resp, err := process(t, s, b, []byte{0x16, 0x0C, 0x00, 0x00, 0x00, '0', '1', '2', '3', '4'})
		if err != nil {
			t.Fatal(err)
		}
		want := []byte{0x17, 0x0C, 0x00, 0x00, 0x00, '0', '1', '2', '3', '4'}
		if !bytes.Equal(resp, want) {
			t.Errorf("prepare response = %x, want %x", resp, want)
		}
		if _, err := process(t, s, b, []byte{0x16, 0x0C, 0x00, 0x05, 0x00, '5', '6', '7'}); err != nil {
			t.Fatal(err)
		}
		if b.Pending() != 2 {
			t.Errorf("Pending() = %d, want 2", b.Pending())
		}

		resp, err = process(t, s, b, []byte{0x18, 0x01})
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(resp, []byte{0x19}) {
			t.Errorf("execute response = %x, want 19", resp)
		}
		if v, _ := s.Table().Value(0x000C); string(v) != "01234567" {
			t.Errorf("value = %q, want %q", v, "01234567")
		}
		if c := b.Committed(); len(c) != 1 || c[0] != 0x000C {
			t.Errorf("Committed() = %v, want [12]", c)
		}
		if b.Pending() != 0 {
			t.Errorf("Pending() = %d after execute, want 0", b.Pending())
		}
	})

	t.Run("cancel", func(t *testing.T) {
		s := NewServer(testTable(t))
		b := NewBearer()
		if _, err := process(t, s, b, []byte{0x16, 0x0C, 0x00, 0x00, 0x00, 'q'}); err != nil {
			t.Fatal(err)
		}
		if _, err := process(t, s, b, []byte{0x18, 0x00}); err != nil {
			t.Fatal(err)
		}
		if v, _ := s.Table().Value(0x000C); string(v) != "abc" {
			t.Errorf("value = %q after cancel, want %q", v, "abc")
		}
		if len(b.Committed()) != 0 {
			t.Errorf("Committed() = %v after cancel, want none", b.Committed())
		}
	})

	t.Run("invalid offset leaves value untouched", func(t *testing.T) {
		s := NewServer(testTable(t))
		b := NewBearer()
		if _, err := process(t, s, b, []byte{0x16, 0x0C, 0x00, 0x00, 0x00, 'q'}); err != nil {
			t.Fatal(err)
		}
		if _, err := process(t, s, b, []byte{0x16, 0x0C, 0x00, 0x09, 0x00, 'q'}); err != nil {
			t.Fatal(err)
		}
		_, err := process(t, s, b, []byte{0x18, 0x01})
		wantATTError(t, err, att.ErrInvalidOffset, 0x000C)
		if v, _ := s.Table().Value(0x000C); string(v) != "abc" {
			t.Errorf("value = %q, want %q", v, "abc")
		}
		if b.Pending() != 0 {
			t.Errorf("Pending() = %d, want 0", b.Pending())
		}
	})

	t.Run("too long", func(t *testing.T) {
		s := NewServer(testTable(t))
		b := NewBearer()
		first := append([]byte{0x16, 0x0C, 0x00, 0x00, 0x00}, make([]byte, 10)...)
		if _, err := process(t, s, b, first); err != nil {
			t.Fatal(err)
		}
		second := append([]byte{0x16, 0x0C, 0x00, 0x0A, 0x00}, make([]byte, 60)...)
		if _, err := process(t, s, b, second); err != nil {
			t.Fatal(err)
		}
		_, err := process(t, s, b, []byte{0x18, 0x01})
		wantATTError(t, err, att.ErrInvalidAttributeValueLength, 0x000C)
	})

	t.Run("queue full", func(t *testing.T) {
		s := NewServer(testTable(t))
		b := NewBearer()
		for i := 0; i < MaxPreparedWrites; i++ {
			if _, err := process(t, s, b, []byte{0x16, 0x0C, 0x00, byte(i), 0x00, 'q'}); err != nil {
				t.Fatalf("prepare %d: %v", i, err)
			}
		}
		_, err := process(t, s, b, []byte{0x16, 0x0C, 0x00, 0x10, 0x00, 'q'})
		wantATTError(t, err, att.ErrPrepareQueueFull, 0x000C)
	})

	t.Run("no room for a subscription leaves values untouched", func(t *testing.T) {
		s := NewServer(testTable(t))
		b := NewBearer()
		for i := 0; i < MaxSubscriptions; i++ {
			b.subs.set(uint16(0x0100+i), CCCDNotificationsEnabled)
		}
		if _, err := process(t, s, b, []byte{0x16, 0x0C, 0x00, 0x00, 0x00, 'X', 'Y', 'Z'}); err != nil {
			t.Fatal(err)
		}
		if _, err := process(t, s, b, []byte{0x16, 0x0F, 0x00, 0x00, 0x00, 0x01, 0x00}); err != nil {
			t.Fatal(err)
		}
		_, err := process(t, s, b, []byte{0x18, 0x01})
		wantATTError(t, err, att.ErrInsufficientResources, 0x000F)
		if v, _ := s.Table().Value(0x000C); string(v) != "abc" {
			t.Errorf("value = %q after failed execute, want %q", v, "abc")
		}
		if b.CCCD(0x000F) != CCCDNotificationsDisabled {
			t.Error("failed execute enabled the CCCD")
		}
		if len(b.Committed()) != 0 {
			t.Errorf("Committed() = %v after failed execute, want none", b.Committed())
		}
	})

	t.Run("commit applies subscriptions", func(t *testing.T) {
		s := NewServer(testTable(t))
		b := NewBearer()
		if _, err := process(t, s, b, []byte{0x16, 0x0F, 0x00, 0x00, 0x00, 0x02, 0x00}); err != nil {
			t.Fatal(err)
		}
		if b.CCCD(0x000F) != CCCDNotificationsDisabled {
			t.Error("prepare alone enabled the CCCD")
		}
		if _, err := process(t, s, b, []byte{0x18, 0x01}); err != nil {
			t.Fatal(err)
		}
		if b.CCCD(0x000F) != CCCDIndicationsEnabled {
			t.Errorf("CCCD() = %d after execute, want indications enabled", b.CCCD(0x000F))
		}
	})
}

func TestServerSubscriptions(t *testing.T) {
	s := NewServer(testTable(t))
	subscribed := NewBearer()
	other := NewBearer()
	buf := make([]byte, 64)

	if _, ok, _ := s.Notification(subscribed, 0x000E, []byte{0x01}, buf); ok {
		t.Fatal("notification allowed before subscribing")
	}

	resp, err := process(t, s, subscribed, []byte{0x12, 0x0F, 0x00, 0x01, 0x00})
	if err != nil || !bytes.Equal(resp, []byte{0x13}) {
		t.Fatalf("cccd write = %x, %v", resp, err)
	}
	if subscribed.CCCD(0x000F) != CCCDNotificationsEnabled {
		t.Errorf("CCCD() = %d, want notifications enabled", subscribed.CCCD(0x000F))
	}

	n, ok, err := s.Notification(subscribed, 0x000E, []byte{0x01, 0x02}, buf)
	if err != nil || !ok {
		t.Fatalf("Notification() = %d, %v, %v", n, ok, err)
	}
	if want := []byte{0x1B, 0x0E, 0x00, 0x01, 0x02}; !bytes.Equal(buf[:n], want) {
		t.Errorf("notification = %x, want %x", buf[:n], want)
	}

	if _, ok, _ := s.Notification(other, 0x000E, []byte{0x01}, buf); ok {
		t.Error("subscription leaked to another link")
	}

	// Each link reads back its own configuration.
	resp, _ = process(t, s, subscribed, []byte{0x0A, 0x0F, 0x00})
	if !bytes.Equal(resp, []byte{0x0B, 0x01, 0x00}) {
		t.Errorf("subscribed cccd read = %x", resp)
	}
	resp, _ = process(t, s, other, []byte{0x0A, 0x0F, 0x00})
	if !bytes.Equal(resp, []byte{0x0B, 0x00, 0x00}) {
		t.Errorf("other cccd read = %x", resp)
	}

	subscribed.Reset()
	if subscribed.CCCD(0x000F) != CCCDNotificationsDisabled {
		t.Error("Reset() kept subscriptions")
	}
}

func TestServerResponsesAliasScratch(t *testing.T) {
	s := NewServer(testTable(t))
	b := NewBearer()
	req, _ := att.Decode([]byte{0x0A, 0x03, 0x00})
	first, err := s.Process(b, req)
	if err != nil {
		t.Fatal(err)
	}
	req, _ = att.Decode([]byte{0x0A, 0x05, 0x00})
	if _, err := s.Process(b, req); err != nil {
		t.Fatal(err)
	}
	if first[1] != 0x41 {
		t.Errorf("response buffer was not reused: %x", first)
	}
}
