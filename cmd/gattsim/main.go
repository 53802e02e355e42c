package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/user/bluehost/logger"
)

func main() {
	app := cli.NewApp()

	app.Name = "gattsim"
	app.Usage = "Drive the BLE host engine from hex input"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "log-level, l",
			Value:  "INFO",
			Usage:  "TRACE, DEBUG, INFO, WARN or ERROR",
			EnvVar: "BLEHOST_LOG_LEVEL",
		},
	}

	app.Commands = []cli.Command{
		{
			Name:    "serve",
			Aliases: []string{"sv"},
			Usage:   "Serve the demo GATT table over \"<conn> <hex l2cap frame>\" lines on stdin",
			Action:  serve,
			Flags:   serveFlags,
		},
		{
			Name:      "decode",
			Aliases:   []string{"d"},
			Usage:     "Decode one ATT PDU and print it as JSON",
			ArgsUsage: "<hex>",
			Action:    decode,
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "l2cap", Usage: "input is a whole L2CAP frame"},
			},
		},
		{
			Name:    "dump",
			Aliases: []string{"du"},
			Usage:   "Discover the demo GATT table and print it",
			Action:  dump,
			Flags:   dumpFlags,
		},
		{
			Name:    "adv",
			Aliases: []string{"a"},
			Usage:   "Print advertising data for the demo device",
			Action:  adv,
			Flags:   advFlags,
		},
		{
			Name:      "scan",
			Aliases:   []string{"s"},
			Usage:     "Decode a batch of advertising reports",
			ArgsUsage: "<hex>",
			Action:    scanReports,
			Flags:     scanFlags,
		},
	}

	// Logs go to stderr; stdout carries frames and reports.
	app.Before = func(c *cli.Context) error {
		logger.SetOutput(os.Stderr)
		logger.SetLevel(logger.ParseLevel(c.String("log-level")))
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "gattsim: %v\n", err)
		os.Exit(1)
	}
}
