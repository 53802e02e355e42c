package main

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/user/bluehost/host"
	"github.com/user/bluehost/logger"
	"github.com/user/bluehost/wire/att"
	"github.com/user/bluehost/wire/debug"
	"github.com/user/bluehost/wire/l2cap"
)

var serveFlags = []cli.Flag{
	cli.StringFlag{Name: "name, n", Value: "gattsim", Usage: "device name in the GAP service"},
	cli.IntFlag{Name: "max-connections", Value: host.DefaultConfig().MaxConnections, Usage: "connection slots", EnvVar: "BLEHOST_MAX_CONNECTIONS"},
	cli.IntFlag{Name: "packets", Value: host.DefaultConfig().Packets, Usage: "packet buffers", EnvVar: "BLEHOST_PACKETS"},
	cli.IntFlag{Name: "packet-size", Value: host.DefaultConfig().PacketSize, Usage: "bytes per packet buffer", EnvVar: "BLEHOST_PACKET_SIZE"},
	cli.IntFlag{Name: "att-queue", Value: host.DefaultConfig().ATTQueueDepth, Usage: "inbound ATT queue depth", EnvVar: "BLEHOST_ATT_QUEUE"},
	cli.IntFlag{Name: "outbound-queue", Value: host.DefaultConfig().OutboundQueueDepth, Usage: "outbound queue depth", EnvVar: "BLEHOST_OUTBOUND_QUEUE"},
	cli.IntFlag{Name: "channel-queue", Value: host.DefaultConfig().ChannelQueueDepth, Usage: "per-connection channel queue depth", EnvVar: "BLEHOST_CHANNEL_QUEUE"},
	cli.IntFlag{Name: "mtu", Value: 0, Usage: "cap the negotiated ATT MTU (0 keeps the packet size limit)"},
	cli.BoolFlag{Name: "no-error-responses", Usage: "log failed requests instead of answering them"},
	cli.BoolFlag{Name: "trace", Usage: "write JSONL packet traces under $BLEHOST_DIR", EnvVar: "BLEHOST_TRACE"},
}

func hostConfig(c *cli.Context) host.Config {
	cfg := host.DefaultConfig()
	cfg.MaxConnections = c.Int("max-connections")
	cfg.Packets = c.Int("packets")
	cfg.PacketSize = c.Int("packet-size")
	cfg.ATTQueueDepth = c.Int("att-queue")
	cfg.OutboundQueueDepth = c.Int("outbound-queue")
	cfg.ChannelQueueDepth = c.Int("channel-queue")
	return cfg
}

func serve(c *cli.Context) error {
	cfg := hostConfig(c)
	res, err := host.NewResources(cfg)
	if err != nil {
		return err
	}

	table, echo, counter, err := demoTable(c.String("name"))
	if err != nil {
		return errors.Wrap(err, "can't build demo table")
	}
	logger.Info("gattsim", "echo value at 0x%04X, counter value at 0x%04X", echo, counter)

	tracers := host.Tracers{host.LogTracer{}}
	if c.Bool("trace") {
		t := debug.NewTracer(c.String("name"), true)
		logger.Info("gattsim", "tracing to %s", t.Dir())
		tracers = append(tracers, t)
	}
	opts := []host.Option{
		host.WithTracer(tracers),
		host.WithErrorResponses(!c.Bool("no-error-responses")),
	}
	if mtu := c.Int("mtu"); mtu > 0 {
		opts = append(opts, host.WithMaxMTU(uint16(mtu)))
	}
	server := host.NewGattServer(res, table, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sig := newSignaler(res)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		runServer(ctx, server)
	}()
	go func() {
		defer wg.Done()
		writeFrames(ctx, res, os.Stdout)
	}()

	err = feed(ctx, res, server, sig, os.Stdin)
	drain(ctx, res)
	cancel()
	wg.Wait()
	sig.wait()
	return err
}

// runServer logs events until ctx is done
func runServer(ctx context.Context, server *host.GattServer) {
	for {
		ev, err := server.Next(ctx)
		if err != nil {
			if !stderrors.Is(err, context.Canceled) {
				logger.Error("gattsim", "server stopped: %v", err)
			}
			return
		}
		logger.Info("gattsim", "event: %s", ev)
	}
}

// writeFrames prints each outbound packet as "<conn> <hex frame>"
func writeFrames(ctx context.Context, res *host.Resources, w io.Writer) {
	for {
		pkt, err := res.Outbound().Receive(ctx)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "0x%04X %x\n", uint16(pkt.Conn), pkt.Pdu.Bytes())
		pkt.Pdu.Release()
	}
}

// feed applies stdin lines until EOF. Connections get a slot on first use.
func feed(ctx context.Context, res *host.Resources, server *host.GattServer, sig *signaler, r io.Reader) error {
	s := bufio.NewScanner(r)
	for lineNo := 1; s.Scan(); lineNo++ {
		cmd, ok, err := parseLine(s.Text())
		if err != nil {
			logger.Warn("gattsim", "line %d: %v", lineNo, err)
			continue
		}
		if !ok {
			continue
		}

		switch cmd.kind {
		case "release":
			err = sig.release(cmd.conn)
		case "notify":
			err = server.Notify(ctx, cmd.conn, cmd.handle, cmd.data)
		case "write":
			if err = sig.acquire(ctx, cmd.conn); err == nil {
				err = writeValue(ctx, res, cmd.conn, cmd.handle, cmd.data)
			}
		default:
			if err = sig.acquire(ctx, cmd.conn); err == nil {
				err = deliver(ctx, res, cmd.conn, cmd.data)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("gattsim", "line %d: %v", lineNo, err)
		}
	}
	return s.Err()
}

// deliver passes ATT and LE signaling frames to the host. Other fixed
// channels have no handler here.
func deliver(ctx context.Context, res *host.Resources, conn host.ConnHandle, frame []byte) error {
	p, err := l2cap.Decode(frame)
	if err != nil {
		return err
	}
	if p.ChannelID != l2cap.ChannelATT && p.ChannelID != l2cap.ChannelLESignal {
		return errors.Errorf("no handler for %s channel 0x%04X", l2cap.ChannelName(p.ChannelID), p.ChannelID)
	}
	return res.Deliver(ctx, conn, frame)
}

// writeValue delivers the requests a client would send to write value at
// the default MTU, splitting it into prepared writes when it is too long.
func writeValue(ctx context.Context, res *host.Resources, conn host.ConnHandle, handle uint16, value []byte) error {
	requests, err := att.SplitWrite(handle, value, l2cap.DefaultMTU)
	if err != nil {
		return err
	}
	for _, req := range requests {
		frame := make([]byte, l2cap.FrameLen(req.Len()))
		n, err := req.Encode(frame[l2cap.HeaderLen:])
		if err != nil {
			return err
		}
		if _, err := l2cap.Encode(l2cap.ChannelATT, frame[l2cap.HeaderLen:l2cap.HeaderLen+n], frame); err != nil {
			return err
		}
		if err := res.Deliver(ctx, conn, frame); err != nil {
			return err
		}
	}
	return nil
}

// drain waits until every queued request has been answered and printed
func drain(ctx context.Context, res *host.Resources) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && ctx.Err() == nil {
		if res.ATT().Len() == 0 && res.Packets().Available() == res.Config().Packets {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}
