package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/user/bluehost/scan"
	"github.com/user/bluehost/wire/advertising"
)

var scanFlags = []cli.Flag{
	cli.BoolFlag{Name: "ext", Usage: "reports are extended advertising reports"},
	cli.IntFlag{Name: "num", Value: -1, Usage: "report count; without it the input is LE Meta event parameters"},
	cli.StringSliceFlag{Name: "accept, a", Usage: "only print reports from this address (repeatable)"},
}

func scanReports(c *cli.Context) error {
	if !c.Args().Present() {
		return errors.New("missing hex reports")
	}
	b, err := parseHex(c.Args().First())
	if err != nil {
		return err
	}

	cfg := scan.DefaultConfig()
	for _, s := range c.StringSlice("accept") {
		addr, err := scan.ParseAddr(s)
		if err != nil {
			return err
		}
		// The list matches on kind as well; accept both.
		cfg.FilterAcceptList = append(cfg.FilterAcceptList,
			scan.FilterEntry{Kind: scan.AddrPublic, Addr: addr},
			scan.FilterEntry{Kind: scan.AddrRandom, Addr: addr},
		)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var (
		report scan.Report
		ext    = c.Bool("ext")
	)
	if n := c.Int("num"); n >= 0 {
		if n > 255 {
			return errors.Errorf("report count %d exceeds 255", n)
		}
		report, err = scan.NewReport(uint8(n), b)
	} else {
		report, ext, err = scan.FromLEMeta(b)
	}
	if err != nil {
		return err
	}

	return printReports(os.Stdout, &report, ext, cfg)
}

func printReports(w io.Writer, report *scan.Report, ext bool, cfg scan.Config) error {
	var failed error
	if ext {
		for r, err := range report.IterExt().All() {
			if err != nil {
				failed = err
				break
			}
			if cfg.Accepts(r.AddrKind(), r.Addr()) {
				printReport(w, r.String(), r.LocalName, r.Fields)
			}
		}
	} else {
		for r, err := range report.Iter().All() {
			if err != nil {
				failed = err
				break
			}
			if cfg.Accepts(r.AddrKind(), r.Addr()) {
				printReport(w, r.String(), r.LocalName, r.Fields)
			}
		}
	}
	return failed
}

func printReport(w io.Writer, line string, localName func() (string, bool), fields func() ([]advertising.ADStructure, error)) {
	if name, ok := localName(); ok {
		line += fmt.Sprintf(" name=%q", name)
	}
	ads, err := fields()
	if err != nil {
		fmt.Fprintf(w, "%s ad=malformed\n", line)
		return
	}
	names := make([]string, len(ads))
	for i, ad := range ads {
		names[i] = advertising.ADTypeName(ad.Type)
	}
	fmt.Fprintf(w, "%s ad=%q\n", line, strings.Join(names, ","))
}
