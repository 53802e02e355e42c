package gatt

import (
	"errors"
	"fmt"
	"testing"
)

func TestParseReadByGroupTypeResponse(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    []DiscoveredService
		wantErr bool
	}{
		{
			name: "two 16-bit services",
			data: []byte{0x06, 0x01, 0x00, 0x05, 0x00, 0x00, 0x18, 0x06, 0x00, 0x09, 0x00, 0x01, 0x18},
			want: []DiscoveredService{
				{UUID: UUID16(0x1800), StartHandle: 0x0001, EndHandle: 0x0005},
				{UUID: UUID16(0x1801), StartHandle: 0x0006, EndHandle: 0x0009},
			},
		},
		{
			name: "one 128-bit service",
			data: append([]byte{0x14, 0x0A, 0x00, 0xFF, 0xFF}, testServiceUUID...),
			want: []DiscoveredService{{UUID: testServiceUUID, StartHandle: 0x000A, EndHandle: 0xFFFF}},
		},
		{name: "empty", data: nil, wantErr: true},
		{name: "bad entry length", data: []byte{0x05, 1, 0, 2, 0, 3}, wantErr: true},
		{name: "partial entry", data: []byte{0x06, 0x01, 0x00, 0x05, 0x00, 0x00}, wantErr: true},
		{name: "no entries", data: []byte{0x06}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseReadByGroupTypeResponse(tt.data)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedResponse) {
					t.Errorf("error = %v, want ErrMalformedResponse", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d services, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if !got[i].UUID.Equal(tt.want[i].UUID) || got[i].StartHandle != tt.want[i].StartHandle || got[i].EndHandle != tt.want[i].EndHandle {
					t.Errorf("service %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseReadByTypeResponse(t *testing.T) {
	data := []byte{0x07, 0x02, 0x00, 0x02, 0x03, 0x00, 0x00, 0x2A, 0x04, 0x00, 0x02, 0x05, 0x00, 0x01, 0x2A}
	chars, err := ParseReadByTypeResponse(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(chars) != 2 {
		t.Fatalf("got %d characteristics, want 2", len(chars))
	}
	if chars[1].DeclarationHandle != 0x0004 || chars[1].ValueHandle != 0x0005 || chars[1].Properties != 0x02 || !chars[1].UUID.Equal(UUID16(0x2A01)) {
		t.Errorf("second characteristic = %+v", chars[1])
	}

	// UUIDs are copied out of the response.
	data[7] = 0xFF
	if !chars[0].UUID.Equal(UUID16(0x2A00)) {
		t.Error("parsed UUID aliases the response buffer")
	}

	if _, err := ParseReadByTypeResponse([]byte{0x06, 1, 2, 3, 4, 5, 6}); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("bad length error = %v", err)
	}
}

func TestParseFindInformationResponse(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    int
		wantErr bool
	}{
		{name: "16-bit", data: []byte{0x01, 0x09, 0x00, 0x02, 0x29, 0x0F, 0x00, 0x02, 0x29}, want: 2},
		{name: "128-bit", data: append([]byte{0x02, 0x0C, 0x00}, testRWUUID...), want: 1},
		{name: "bad format", data: []byte{0x03, 0x09, 0x00, 0x02, 0x29}, wantErr: true},
		{name: "partial", data: []byte{0x01, 0x09, 0x00, 0x02}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFindInformationResponse(tt.data)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedResponse) {
					t.Errorf("error = %v, want ErrMalformedResponse", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d descriptors, want %d", len(got), tt.want)
			}
		})
	}
}

func TestDiscover(t *testing.T) {
	for _, mtu := range []uint16{23, 517} {
		t.Run(fmt.Sprintf("mtu %d", mtu), func(t *testing.T) {
			s := NewServer(testTable(t))
			b := NewBearer()
			if mtu > 23 {
				if _, err := process(t, s, b, []byte{0x02, byte(mtu), byte(mtu >> 8)}); err != nil {
					t.Fatal(err)
				}
			}

			services, err := Discover(s, b)
			if err != nil {
				t.Fatalf("Discover: %v", err)
			}
			if len(services) != 3 {
				t.Fatalf("found %d services, want 3", len(services))
			}

			gap, gattSvc, custom := services[0], services[1], services[2]
			if !gap.UUID.Equal(UUID16(0x1800)) || gap.StartHandle != 0x0001 || gap.EndHandle != 0x0005 {
				t.Errorf("GAP service = %+v", gap)
			}
			if len(gap.Characteristics) != 2 || gap.Characteristics[0].ValueHandle != 0x0003 {
				t.Errorf("GAP characteristics = %+v", gap.Characteristics)
			}

			if len(gattSvc.Characteristics) != 1 || len(gattSvc.Characteristics[0].Descriptors) != 1 ||
				gattSvc.Characteristics[0].Descriptors[0].Handle != 0x0009 {
				t.Errorf("GATT service = %+v", gattSvc)
			}

			if !custom.UUID.Equal(testServiceUUID) || custom.StartHandle != 0x000A || custom.EndHandle != 0xFFFF {
				t.Errorf("custom service = %+v", custom)
			}
			if len(custom.Characteristics) != 2 {
				t.Fatalf("custom characteristics = %+v", custom.Characteristics)
			}
			rw, notify := custom.Characteristics[0], custom.Characteristics[1]
			if !rw.UUID.Equal(testRWUUID) || rw.ValueHandle != 0x000C || len(rw.Descriptors) != 0 {
				t.Errorf("RW characteristic = %+v", rw)
			}
			if !notify.UUID.Equal(testNotifyUUID) || notify.ValueHandle != 0x000E {
				t.Errorf("notify characteristic = %+v", notify)
			}
			if len(notify.Descriptors) != 1 || notify.Descriptors[0].Handle != 0x000F ||
				!notify.Descriptors[0].UUID.Equal(UUIDClientCharacteristicConfig) {
				t.Errorf("notify descriptors = %+v", notify.Descriptors)
			}
		})
	}
}
