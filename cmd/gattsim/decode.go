package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/user/bluehost/logger"
	"github.com/user/bluehost/wire/att"
	"github.com/user/bluehost/wire/debug"
	"github.com/user/bluehost/wire/l2cap"
)

func decode(c *cli.Context) error {
	if !c.Args().Present() {
		return errors.New("missing hex PDU")
	}
	b, err := parseHex(c.Args().First())
	if err != nil {
		return err
	}
	return decodePDU(os.Stdout, b, c.Bool("l2cap"))
}

func decodePDU(w io.Writer, b []byte, frame bool) error {
	if frame {
		p, err := l2cap.Decode(b)
		if err != nil {
			return err
		}
		if p.ChannelID != l2cap.ChannelATT {
			return errors.Errorf("frame on %s channel, not ATT", l2cap.ChannelName(p.ChannelID))
		}
		b = p.Payload
	}
	if len(b) > 0 && att.IsResponse(b[0]) {
		return errors.Errorf("%s is sent by servers; decode reads client PDUs", att.OpcodeName(b[0]))
	}

	req, err := att.Decode(b)
	if err != nil {
		return err
	}
	s, err := debug.DescribeRequest(req)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, logger.ToJSON(s))
	return nil
}
