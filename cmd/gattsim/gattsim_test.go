package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"

	"github.com/user/bluehost/host"
	"github.com/user/bluehost/scan"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    command
		ok      bool
		wantErr bool
	}{
		{name: "blank", line: "   "},
		{name: "comment", line: "# read the name"},
		{name: "frame", line: "0x40 03000400 0a0300", ok: true,
			want: command{kind: "frame", conn: 0x40, data: []byte{3, 0, 4, 0, 0x0A, 0x03, 0x00}}},
		{name: "decimal conn", line: "64 0300:0400", ok: true,
			want: command{kind: "frame", conn: 64, data: []byte{3, 0, 4, 0}}},
		{name: "release", line: "release 0x40", ok: true, want: command{kind: "release", conn: 0x40}},
		{name: "notify", line: "notify 0x40 0x000E 0102", ok: true,
			want: command{kind: "notify", conn: 0x40, handle: 0x0E, data: []byte{1, 2}}},
		{name: "write", line: "write 64 0x000C 6869", ok: true,
			want: command{kind: "write", conn: 64, handle: 0x0C, data: []byte("hi")}},
		{name: "bad hex", line: "0x40 zz", wantErr: true},
		{name: "missing frame", line: "0x40", wantErr: true},
		{name: "bad release", line: "release", wantErr: true},
		{name: "conn out of range", line: "0x10000 00", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, ok, err := parseLine(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, cmd)
			}
		})
	}
}

func TestDemoTable(t *testing.T) {
	table, echo, counter, err := demoTable("gattsim")
	require.NoError(t, err)
	assert.Equal(t, uint16(0x000C), echo)
	assert.Equal(t, uint16(0x000E), counter)

	v, ok := table.Value(0x0003)
	require.True(t, ok)
	assert.Equal(t, []byte("gattsim"), v)
	assert.NotNil(t, table.CCCDFor(counter))
}

// runSession feeds input through a serve loop over the demo table and
// returns everything written to the outbound side.
func runSession(t *testing.T, input ...string) (string, *host.Resources, *signaler) {
	t.Helper()
	res, err := host.NewResources(host.DefaultConfig())
	require.NoError(t, err)
	table, _, _, err := demoTable("gattsim")
	require.NoError(t, err)
	server := host.NewGattServer(res, table)
	sig := newSignaler(res)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		runServer(ctx, server)
	}()
	go func() {
		defer wg.Done()
		writeFrames(ctx, res, &out)
	}()

	require.NoError(t, feed(ctx, res, server, sig, strings.NewReader(strings.Join(input, "\n"))))
	drain(ctx, res)
	cancel()
	wg.Wait()
	sig.wait()
	return out.String(), res, sig
}

func TestHostConfigFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want func(*host.Config)
	}{
		{name: "defaults", want: func(*host.Config) {}},
		{name: "channel queue", args: []string{"--channel-queue", "7"}, want: func(c *host.Config) { c.ChannelQueueDepth = 7 }},
		{name: "every bound", args: []string{
			"--max-connections", "2", "--packets", "32", "--packet-size", "100",
			"--att-queue", "3", "--outbound-queue", "5", "--channel-queue", "6",
		}, want: func(c *host.Config) {
			*c = host.Config{MaxConnections: 2, Packets: 32, PacketSize: 100, ATTQueueDepth: 3, OutboundQueueDepth: 5, ChannelQueueDepth: 6}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got host.Config
			app := cli.NewApp()
			app.Flags = serveFlags
			app.Action = func(c *cli.Context) error {
				got = hostConfig(c)
				return nil
			}
			require.NoError(t, app.Run(append([]string{"gattsim"}, tt.args...)))

			want := host.DefaultConfig()
			tt.want(&want)
			assert.Equal(t, want, got)
		})
	}
}

func TestServeLoop(t *testing.T) {
	out, res, sig := runSession(t,
		"# write \"hi\" to the echo value, then read it back",
		"0x0040 05000400 120c00 6869",
		"0x0040 03000400 0a0c00",
		"0x0040 03000400 0a9900",
	)

	assert.Equal(t, strings.Join([]string{
		"0x0040 0100040013",
		"0x0040 030004000b6869",
		"0x0040 05000400010a990001",
		"",
	}, "\n"), out)
	assert.Equal(t, 1, res.Connections())
	require.NoError(t, sig.release(0x0040))
	assert.Equal(t, 0, res.Connections())
}

func TestServeLongWrite(t *testing.T) {
	// 21 bytes do not fit a Write Request at MTU 23
	out, _, _ := runSession(t,
		"write 0x0040 0x000C "+hex.EncodeToString([]byte("abcdefghijklmnopqrstu")),
		"0x0041 03000400 0a0c00",
	)

	assert.Equal(t, strings.Join([]string{
		"0x0040 17000400170c000000" + hex.EncodeToString([]byte("abcdefghijklmnopqr")),
		"0x0040 08000400170c001200" + hex.EncodeToString([]byte("stu")),
		"0x0040 0100040019",
		"0x0041 160004000b" + hex.EncodeToString([]byte("abcdefghijklmnopqrstu")),
		"",
	}, "\n"), out)
}

func TestServeSignaling(t *testing.T) {
	out, _, _ := runSession(t,
		"# accepted, rejected, unknown command, then a frame with no handler",
		"0x0040 0c000500 12010800 18002800 00005802",
		"0x0040 0c000500 12020800 05002800 00005802",
		"0x0040 04000500 14030000",
		"0x0040 01000600 01",
	)

	assert.Equal(t, strings.Join([]string{
		"0x0040 06000500130102000000",
		"0x0040 06000500130202000100",
		"0x0040 06000500010302000000",
		"",
	}, "\n"), out)
}

func TestDumpTable(t *testing.T) {
	table, _, _, err := demoTable("gattsim")
	require.NoError(t, err)

	for _, mtu := range []uint16{23, 247} {
		var out bytes.Buffer
		require.NoError(t, dumpTable(&out, table, mtu, nil))
		got := out.String()
		assert.Contains(t, got, "service 1800 0x0001-0x0005\n")
		assert.Contains(t, got, "  characteristic 2A05 value=0x0008 props=0x20\n    descriptor 2902 0x0009\n")
		assert.Contains(t, got, "service 7D2E0001-3C44-4E9A-9D7B-1B5C0F3A2E10 0x000A-0xFFFF\n")
		assert.Contains(t, got, "  characteristic 7D2E0003-3C44-4E9A-9D7B-1B5C0F3A2E10 value=0x000E props=0x12\n    descriptor 2902 0x000F\n")
	}
}

func TestDumpTableWrites(t *testing.T) {
	long := "0x000C=" + strings.Repeat("ab", 40)
	tests := []struct {
		name string
		mtu  uint16
		arg  string
		want string
	}{
		{name: "single write", mtu: 23, arg: "0x000C=68656c6c6f", want: "wrote 5 bytes to 0x000C in 1 requests\n"},
		{name: "prepared write", mtu: 23, arg: long, want: "wrote 40 bytes to 0x000C in 4 requests\n"},
		{name: "large mtu", mtu: 247, arg: long, want: "wrote 40 bytes to 0x000C in 1 requests\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, _, _, err := demoTable("gattsim")
			require.NoError(t, err)
			vw, err := parseValueWrite(tt.arg)
			require.NoError(t, err)

			var out bytes.Buffer
			require.NoError(t, dumpTable(&out, table, tt.mtu, nil, vw))
			assert.True(t, strings.HasPrefix(out.String(), tt.want), out.String())

			v, ok := table.Value(vw.handle)
			require.True(t, ok)
			assert.Equal(t, vw.value, v)
		})
	}

	table, _, _, err := demoTable("gattsim")
	require.NoError(t, err)
	vw, err := parseValueWrite("0x0003=78")
	require.NoError(t, err)
	assert.Error(t, dumpTable(&bytes.Buffer{}, table, 23, nil, vw))

	var out bytes.Buffer
	require.NoError(t, dumpTable(&out, table, 23, []uint16{0x000E}))
	assert.True(t, strings.HasPrefix(out.String(), "subscribed to 0x000E\n"), out.String())
	assert.Error(t, dumpTable(&bytes.Buffer{}, table, 23, []uint16{0x000C}))

	for _, bad := range []string{"0x000C", "zz=00", "0x000C=xyz"} {
		_, err := parseValueWrite(bad)
		assert.Error(t, err, bad)
	}
}

func TestDecodePDU(t *testing.T) {
	tests := []struct {
		name    string
		pdu     string
		frame   bool
		want    string
		wantErr string
	}{
		{name: "read request", pdu: "0a0300", want: `"opcode_name"`},
		{name: "l2cap frame", pdu: "030004000a0300", frame: true, want: `"handle"`},
		{name: "response", pdu: "0b6869", wantErr: "sent by servers"},
		{name: "signaling frame", pdu: "0400050014030000", frame: true, wantErr: "not ATT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := parseHex(tt.pdu)
			require.NoError(t, err)

			var out bytes.Buffer
			err = decodePDU(&out, b, tt.frame)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, out.String(), tt.want)
		})
	}
}

func TestWriteAdv(t *testing.T) {
	power := int8(-8)
	tests := []struct {
		name    string
		content advContent
		want    string
		wantErr bool
	}{
		{
			name:    "name only",
			content: advContent{name: "abc", company: -1, limit: 31},
			want:    "020106" + "0409616263",
		},
		{
			name:    "every field",
			content: advContent{name: "abc", uuids: []uint16{0x180F}, txPower: &power, company: 0x004C, mfg: []byte{1, 2}, limit: 31},
			want:    "020106" + "03030f18" + "020af8" + "05ff4c000102" + "0409616263",
		},
		{
			name:    "name shortened to fit",
			content: advContent{name: "a-very-long-device-name-that-overflows", company: -1, limit: 31},
			want:    "020106" + "1b08" + hex.EncodeToString([]byte("a-very-long-device-name-th")),
		},
		{
			name:    "manufacturer data too long",
			content: advContent{company: 1, mfg: make([]byte, 40), limit: 31},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := writeAdv(&out, tt.content)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want+"\n", out.String())
		})
	}
}

func TestPrintReports(t *testing.T) {
	entry := []byte{
		0x00, 0x01, // ADV_IND, random
		0x66, 0x55, 0x44, 0x33, 0x22, 0x11,
		0x05, 0x04, 0x09, 'a', 'b', 'c',
		0xC4,
	}
	report, err := scan.NewReport(1, entry)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, printReports(&out, &report, false, scan.DefaultConfig()))
	assert.Contains(t, out.String(), "11:22:33:44:55:66")
	assert.Contains(t, out.String(), `name="abc" ad="Complete Local Name"`)

	truncated := []byte{
		0x00, 0x01,
		0x66, 0x55, 0x44, 0x33, 0x22, 0x11,
		0x02, 0x05, 0x09,
		0xC4,
	}
	report, err = scan.NewReport(1, truncated)
	require.NoError(t, err)
	out.Reset()
	require.NoError(t, printReports(&out, &report, false, scan.DefaultConfig()))
	assert.Contains(t, out.String(), "ad=malformed")

	cfg := scan.DefaultConfig()
	cfg.FilterAcceptList = []scan.FilterEntry{{Kind: scan.AddrPublic, Addr: scan.Addr{1}}}
	out.Reset()
	require.NoError(t, printReports(&out, &report, false, cfg))
	assert.Empty(t, out.String())

	bad, err := scan.NewReport(2, entry)
	require.NoError(t, err)
	assert.ErrorIs(t, printReports(&out, &bad, false, scan.DefaultConfig()), scan.ErrInvalidSize)
}
