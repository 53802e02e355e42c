package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli"

	"github.com/user/bluehost/wire/advertising"
)

var advFlags = []cli.Flag{
	cli.StringFlag{Name: "name, n", Value: "gattsim", Usage: "local name; shortened when it does not fit"},
	cli.StringSliceFlag{Name: "uuid16, u", Usage: "16-bit service UUID to list (repeatable)"},
	cli.IntFlag{Name: "tx-power", Usage: "advertise this Tx power level in dBm"},
	cli.IntFlag{Name: "company", Value: -1, Usage: "company identifier of the manufacturer data"},
	cli.StringFlag{Name: "mfg", Usage: "hex manufacturer data payload, sent with --company"},
	cli.BoolFlag{Name: "ext", Usage: "build extended advertising data"},
}

// advContent is what the adv command advertises
type advContent struct {
	name    string
	uuids   []uint16
	txPower *int8
	company int
	mfg     []byte
	limit   int
}

// adv prints advertising data for the demo device as hex
func adv(c *cli.Context) error {
	ac := advContent{
		name:    c.String("name"),
		company: c.Int("company"),
		limit:   advertising.MaxAdvertisingDataLen,
	}
	if c.Bool("ext") {
		ac.limit = advertising.MaxExtendedAdvertisingDataLen
	}
	for _, s := range c.StringSlice("uuid16") {
		u, err := parseUint16(s)
		if err != nil {
			return err
		}
		ac.uuids = append(ac.uuids, u)
	}
	if c.IsSet("tx-power") {
		p := int8(c.Int("tx-power"))
		ac.txPower = &p
	}
	if s := c.String("mfg"); s != "" {
		b, err := parseHex(s)
		if err != nil {
			return err
		}
		ac.mfg = b
	}
	return writeAdv(os.Stdout, ac)
}

func writeAdv(w io.Writer, ac advContent) error {
	ads := []advertising.ADStructure{
		advertising.NewFlagsAD(advertising.FlagLEGeneralDiscoverableMode | advertising.FlagBREDRNotSupported),
	}
	if len(ac.uuids) > 0 {
		ads = append(ads, advertising.NewComplete16BitServiceUUIDsAD(ac.uuids))
	}
	if ac.txPower != nil {
		ads = append(ads, advertising.NewTxPowerLevelAD(*ac.txPower))
	}
	if ac.company >= 0 {
		ads = append(ads, advertising.NewManufacturerSpecificDataAD(uint16(ac.company), ac.mfg))
	}

	data, err := advertising.EncodeADStructures(nil, ac.limit, ads...)
	if err != nil {
		return err
	}
	// The name goes last and gives way to everything else.
	if ac.name != "" {
		room := ac.limit - len(data) - 2
		switch {
		case room >= len(ac.name):
			data, err = advertising.EncodeADStructures(data, 2+room, advertising.NewCompleteLocalNameAD(ac.name))
		case room > 0:
			data, err = advertising.EncodeADStructures(data, 2+room, advertising.NewShortenedLocalNameAD(ac.name[:room]))
		}
		if err != nil {
			return err
		}
	}
	fmt.Fprintf(w, "%x\n", data)
	return nil
}
