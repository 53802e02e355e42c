package main

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/user/bluehost/host"
	"github.com/user/bluehost/wire/gatt"
)

// Demo service, modelled on a UART-style echo service
var (
	demoServiceUUID = uuid.MustParse("7D2E0001-3C44-4E9A-9D7B-1B5C0F3A2E10")
	demoEchoUUID    = uuid.MustParse("7D2E0002-3C44-4E9A-9D7B-1B5C0F3A2E10")
	demoCounterUUID = uuid.MustParse("7D2E0003-3C44-4E9A-9D7B-1B5C0F3A2E10")
)

// demoTable is GAP, GATT and the demo service. The handles of the echo
// and counter values are returned for the notification path.
func demoTable(name string) (table *gatt.Table, echo, counter uint16, err error) {
	table, handles, err := gatt.BuildTable([]gatt.Service{
		gatt.NewGenericAccessService(name, 0),
		gatt.NewGenericAttributeService(),
		{
			UUID:    gatt.UUID128(demoServiceUUID),
			Primary: true,
			Characteristics: []gatt.Characteristic{
				gatt.NewReadWriteCharacteristic(gatt.UUID128(demoEchoUUID), nil, 128),
				gatt.NewNotifyCharacteristic(gatt.UUID128(demoCounterUUID), []byte{0, 0, 0, 0}),
			},
		},
	})
	if err != nil {
		return nil, 0, 0, err
	}
	demo := handles[2]
	return table, demo.ValueHandles[0], demo.ValueHandles[1], nil
}

// parseHex accepts hex with optional spaces, colons and a 0x prefix
func parseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	s = strings.NewReplacer(" ", "", ":", "", "\t", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrapf(err, "bad hex %q", s)
	}
	return b, nil
}

func parseUint16(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, errors.Wrapf(err, "bad number %q", s)
	}
	return uint16(v), nil
}

// command is one parsed stdin line of the serve loop
type command struct {
	kind   string // "frame", "release", "notify" or "write"
	conn   host.ConnHandle
	handle uint16
	data   []byte
}

// parseLine reads one of
//
//	<conn> <hex l2cap frame>
//	release <conn>
//	notify <conn> <handle> <hex value>
//	write <conn> <handle> <hex value>
//
// Blank lines and lines starting with # yield ok == false.
func parseLine(line string) (cmd command, ok bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return cmd, false, nil
	}

	switch fields[0] {
	case "release":
		if len(fields) != 2 {
			return cmd, false, errors.Errorf("usage: release <conn>")
		}
		conn, err := parseUint16(fields[1])
		if err != nil {
			return cmd, false, err
		}
		return command{kind: "release", conn: host.ConnHandle(conn)}, true, nil

	case "notify", "write":
		if len(fields) < 4 {
			return cmd, false, errors.Errorf("usage: %s <conn> <handle> <hex value>", fields[0])
		}
		conn, err := parseUint16(fields[1])
		if err != nil {
			return cmd, false, err
		}
		handle, err := parseUint16(fields[2])
		if err != nil {
			return cmd, false, err
		}
		data, err := parseHex(strings.Join(fields[3:], ""))
		if err != nil {
			return cmd, false, err
		}
		return command{kind: fields[0], conn: host.ConnHandle(conn), handle: handle, data: data}, true, nil
	}

	if len(fields) < 2 {
		return cmd, false, errors.Errorf("usage: <conn> <hex l2cap frame>")
	}
	conn, err := parseUint16(fields[0])
	if err != nil {
		return cmd, false, err
	}
	data, err := parseHex(strings.Join(fields[1:], ""))
	if err != nil {
		return cmd, false, err
	}
	return command{kind: "frame", conn: host.ConnHandle(conn), data: data}, true, nil
}
