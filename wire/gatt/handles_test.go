package gatt

import (
	"errors"
	"testing"
)

func TestNewTableSortsByHandle(t *testing.T) {
	table, err := NewTable([]Attribute{
		{Handle: 0x0003, Type: UUID16(0x2A00), Value: []byte("c"), Permissions: PermReadable},
		{Handle: 0x0001, Type: UUIDPrimaryService, Value: []byte{0x00, 0x18}, Permissions: PermReadable},
		{Handle: 0x0002, Type: UUIDCharacteristic, Value: []byte{0x02, 0x03, 0x00, 0x00, 0x2A}, Permissions: PermReadable},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	if table.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", table.Len())
	}
	for i, a := range table.Attributes() {
		if a.Handle != uint16(i+1) {
			t.Errorf("attribute %d handle = 0x%04X, want 0x%04X", i, a.Handle, i+1)
		}
	}
}

func TestNewTableRejects(t *testing.T) {
	tests := []struct {
		name  string
		attrs []Attribute
	}{
		{
			name:  "handle zero",
			attrs: []Attribute{{Handle: 0, Type: UUID16(0x2A00)}},
		},
		{
			name: "duplicate handle",
			attrs: []Attribute{
				{Handle: 5, Type: UUID16(0x2A00)},
				{Handle: 5, Type: UUID16(0x2A01)},
			},
		},
		{
			name:  "bad uuid length",
			attrs: []Attribute{{Handle: 1, Type: UUID{0x01, 0x02, 0x03}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTable(tt.attrs)
			if !errors.Is(err, ErrInvalidTable) {
				t.Errorf("NewTable() error = %v, want ErrInvalidTable", err)
			}
		})
	}
}

func TestTableFindAndRange(t *testing.T) {
	table, err := NewTable([]Attribute{
		{Handle: 0x0001, Type: UUIDPrimaryService},
		{Handle: 0x0005, Type: UUID16(0x2A00)},
		{Handle: 0x0010, Type: UUIDPrimaryService},
		{Handle: 0x0011, Type: UUID16(0x2A01)},
	})
	if err != nil {
		t.Fatal(err)
	}

	if a := table.Find(0x0005); a == nil || a.Handle != 0x0005 {
		t.Errorf("Find(0x0005) = %v", a)
	}
	if a := table.Find(0x0004); a != nil {
		t.Errorf("Find(0x0004) = %v, want nil", a)
	}

	tests := []struct {
		start, end uint16
		want       []uint16
	}{
		{0x0001, 0xFFFF, []uint16{0x0001, 0x0005, 0x0010, 0x0011}},
		{0x0002, 0x0010, []uint16{0x0005, 0x0010}},
		{0x0006, 0x000F, nil},
		{0x0011, 0x0011, []uint16{0x0011}},
		{0x0010, 0x0001, nil},
	}
	for _, tt := range tests {
		got := table.Range(tt.start, tt.end)
		if len(got) != len(tt.want) {
			t.Errorf("Range(0x%04X, 0x%04X) returned %d attributes, want %d", tt.start, tt.end, len(got), len(tt.want))
			continue
		}
		for i := range got {
			if got[i].Handle != tt.want[i] {
				t.Errorf("Range(0x%04X, 0x%04X)[%d] = 0x%04X, want 0x%04X", tt.start, tt.end, i, got[i].Handle, tt.want[i])
			}
		}
	}

	if end := table.GroupEnd(0x0001); end != 0x000F {
		t.Errorf("GroupEnd(0x0001) = 0x%04X, want 0x000F", end)
	}
	if end := table.GroupEnd(0x0010); end != 0xFFFF {
		t.Errorf("GroupEnd(0x0010) = 0x%04X, want 0xFFFF", end)
	}
}

func TestTableSetValue(t *testing.T) {
	storage := make([]byte, 2, 8)
	table, err := NewTable([]Attribute{{Handle: 1, Type: UUID16(0x2A00), Value: storage}})
	if err != nil {
		t.Fatal(err)
	}

	if err := table.SetValue(1, []byte("12345678")); err != nil {
		t.Fatalf("SetValue at capacity: %v", err)
	}
	if v, _ := table.Value(1); string(v) != "12345678" {
		t.Errorf("Value(1) = %q", v)
	}
	if err := table.SetValue(1, []byte("123456789")); err == nil {
		t.Error("SetValue should reject values beyond capacity")
	}
	if err := table.SetValue(2, nil); err == nil {
		t.Error("SetValue should reject unknown handles")
	}
	if _, ok := table.Value(2); ok {
		t.Error("Value(2) should report a missing attribute")
	}
}

func TestTableCCCDLookup(t *testing.T) {
	table := testTable(t)

	if cccd := table.CCCDFor(0x000E); cccd == nil || cccd.Handle != 0x000F {
		t.Errorf("CCCDFor(0x000E) = %v, want handle 0x000F", cccd)
	}
	if cccd := table.CCCDFor(0x000C); cccd != nil {
		t.Errorf("CCCDFor(0x000C) = handle 0x%04X, want nil", cccd.Handle)
	}
	if cccd := table.CCCDFor(0x0099); cccd != nil {
		t.Errorf("CCCDFor(0x0099) = handle 0x%04X, want nil", cccd.Handle)
	}

	if h, ok := table.ValueHandleFor(0x000F); !ok || h != 0x000E {
		t.Errorf("ValueHandleFor(0x000F) = 0x%04X, %v; want 0x000E", h, ok)
	}
	if _, ok := table.ValueHandleFor(0x0001); ok {
		t.Error("ValueHandleFor(0x0001) should fail for a service declaration")
	}
}
