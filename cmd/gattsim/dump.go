package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/user/bluehost/wire/att"
	"github.com/user/bluehost/wire/gatt"
	"github.com/user/bluehost/wire/l2cap"
)

var dumpFlags = []cli.Flag{
	cli.StringFlag{Name: "name, n", Value: "gattsim", Usage: "device name in the GAP service"},
	cli.IntFlag{Name: "mtu", Value: l2cap.DefaultMTU, Usage: "MTU the discovering client asks for"},
	cli.StringSliceFlag{Name: "write, w", Usage: "write <handle>=<hex value> before discovering (repeatable)"},
	cli.StringSliceFlag{Name: "subscribe, s", Usage: "enable notifications for a value handle before discovering (repeatable)"},
}

// valueWrite is one --write flag of dump
type valueWrite struct {
	handle uint16
	value  []byte
}

func parseValueWrite(s string) (valueWrite, error) {
	h, v, ok := strings.Cut(s, "=")
	if !ok {
		return valueWrite{}, errors.Errorf("write %q: want <handle>=<hex value>", s)
	}
	handle, err := parseUint16(h)
	if err != nil {
		return valueWrite{}, err
	}
	value, err := parseHex(v)
	if err != nil {
		return valueWrite{}, err
	}
	return valueWrite{handle: handle, value: value}, nil
}

// dump discovers the demo table the way a client would and prints it
func dump(c *cli.Context) error {
	table, _, _, err := demoTable(c.String("name"))
	if err != nil {
		return err
	}
	var writes []valueWrite
	for _, s := range c.StringSlice("write") {
		vw, err := parseValueWrite(s)
		if err != nil {
			return err
		}
		writes = append(writes, vw)
	}
	var subscribe []uint16
	for _, s := range c.StringSlice("subscribe") {
		h, err := parseUint16(s)
		if err != nil {
			return err
		}
		subscribe = append(subscribe, h)
	}
	return dumpTable(os.Stdout, table, uint16(c.Int("mtu")), subscribe, writes...)
}

func dumpTable(w io.Writer, table *gatt.Table, mtu uint16, subscribe []uint16, writes ...valueWrite) error {
	s := gatt.NewServer(table)
	b := gatt.NewBearer()
	if mtu > l2cap.DefaultMTU {
		if _, err := s.Process(b, att.Request{Opcode: att.OpExchangeMTURequest, MTU: mtu}); err != nil {
			return err
		}
	}

	for _, vw := range writes {
		n, err := gatt.Write(s, b, vw.handle, vw.value)
		if err != nil {
			return errors.Wrapf(err, "write 0x%04X", vw.handle)
		}
		fmt.Fprintf(w, "wrote %d bytes to 0x%04X in %d requests\n", len(vw.value), vw.handle, n)
	}
	for _, h := range subscribe {
		if err := gatt.Subscribe(s, b, h, true, false); err != nil {
			return errors.Wrapf(err, "subscribe 0x%04X", h)
		}
		fmt.Fprintf(w, "subscribed to 0x%04X\n", h)
	}

	services, err := gatt.Discover(s, b)
	if err != nil {
		return err
	}
	for _, svc := range services {
		fmt.Fprintf(w, "service %s 0x%04X-0x%04X\n", svc.UUID, svc.StartHandle, svc.EndHandle)
		for _, char := range svc.Characteristics {
			fmt.Fprintf(w, "  characteristic %s value=0x%04X props=0x%02X\n", char.UUID, char.ValueHandle, char.Properties)
			for _, d := range char.Descriptors {
				fmt.Fprintf(w, "    descriptor %s 0x%04X\n", d.UUID, d.Handle)
			}
		}
	}
	return nil
}
