package host

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"

	"github.com/user/bluehost/logger"
	"github.com/user/bluehost/wire/att"
	"github.com/user/bluehost/wire/gatt"
	"github.com/user/bluehost/wire/l2cap"
)

// ErrNotSubscribed is returned by Notify when the link has not enabled
// notifications for the characteristic.
var ErrNotSubscribed = stderrors.New("host: notifications not enabled")

// EventKind tells what a client did to an attribute
type EventKind uint8

const (
	EventWrite EventKind = iota + 1
	EventRead
)

func (k EventKind) String() string {
	switch k {
	case EventWrite:
		return "write"
	case EventRead:
		return "read"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// Event is an attribute access by a client. Value is a copy of the
// attribute value after the access.
//
// For a CCCD, Value is the link's own configuration and Characteristic is
// the value handle it configures.
type Event struct {
	Kind   EventKind
	Conn   ConnHandle
	Handle uint16
	Value  []byte

	Characteristic uint16
	Notify         bool
	Indicate       bool
}

func (e Event) String() string {
	s := fmt.Sprintf("%s conn=0x%04X handle=0x%04X value=%x", e.Kind, uint16(e.Conn), e.Handle, e.Value)
	if e.Characteristic != 0 {
		s += fmt.Sprintf(" characteristic=0x%04X notify=%t indicate=%t", e.Characteristic, e.Notify, e.Indicate)
	}
	return s
}

// Option configures a GattServer
type Option func(*GattServer)

// WithTracer replaces the default logging tracer
func WithTracer(t Tracer) Option {
	return func(s *GattServer) { s.tracer = t }
}

// WithErrorResponses selects whether failed requests are answered with
// an ATT Error Response. Enabled by default.
func WithErrorResponses(enabled bool) Option {
	return func(s *GattServer) { s.errorResponses = enabled }
}

// WithMaxMTU caps the MTU the server agrees to. The packet size of the
// resource pool caps it as well.
func WithMaxMTU(mtu uint16) Option {
	return func(s *GattServer) { s.maxMTU = mtu }
}

// GattServer answers ATT requests arriving on the shared ATT queue and
// reports client writes and reads as events. Next must be called from a
// single goroutine; Notify may be called from any goroutine.
type GattServer struct {
	res    *Resources
	server *gatt.Server

	tracer         Tracer
	errorResponses bool
	maxMTU         uint16

	// Handles committed by one Execute Write, handed out one per Next
	pendingConn ConnHandle
	pending     [gatt.MaxPreparedWrites]uint16
	npending    int
	next        int
}

// NewGattServer serves table over the queues of res
func NewGattServer(res *Resources, table *gatt.Table, opts ...Option) *GattServer {
	s := &GattServer{
		res:            res,
		server:         gatt.NewServer(table),
		tracer:         LogTracer{},
		errorResponses: true,
		maxMTU:         l2cap.MaxMTU,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.server.MaxMTU = s.maxMTU
	if limit := res.cfg.maxMTU(); s.server.MaxMTU > limit {
		s.server.MaxMTU = limit
	}
	logger.Debug("gatt", "serving %d attributes, max MTU %d", table.Len(), s.server.MaxMTU)
	return s
}

// Table returns the attribute table being served
func (s *GattServer) Table() *gatt.Table {
	return s.server.Table()
}

// Next processes inbound requests until one produces an event. Requests
// that fail to decode or process are reported to the tracer and never end
// the loop. Next returns ctx.Err() once ctx is done.
func (s *GattServer) Next(ctx context.Context) (Event, error) {
	for {
		if ev, ok := s.popPending(); ok {
			return ev, nil
		}

		pkt, err := s.res.att.Receive(ctx)
		if err != nil {
			return Event{}, err
		}

		ev, ok, err := s.handle(ctx, pkt)
		if err != nil {
			return Event{}, err
		}
		if ok {
			return ev, nil
		}
	}
}

// handle serves one packet. Only a cancelled send is returned as an error.
func (s *GattServer) handle(ctx context.Context, pkt Packet) (Event, bool, error) {
	pdu := pkt.Pdu
	s.tracer.PacketReceived(pkt.Conn, pdu.Bytes())

	req, err := att.Decode(pdu.Bytes())
	if err != nil {
		s.tracer.DecodeFailed(pkt.Conn, pdu.Bytes(), err)
		pdu.Release()
		return Event{}, false, nil
	}

	var (
		resp    []byte
		perr    error
		ev      Event
		emitted bool
	)
	found := s.res.withBearer(pkt.Conn, func(b *gatt.Bearer) {
		resp, perr = s.server.Process(b, req)
		if perr != nil {
			return
		}
		ev, emitted = s.event(pkt.Conn, b, req)
	})
	if !found {
		s.tracer.Dropped(pkt.Conn, errors.Wrapf(ErrUnknownConnection, "connection 0x%04X", uint16(pkt.Conn)))
		pdu.Release()
		return Event{}, false, nil
	}

	switch {
	case perr != nil:
		s.tracer.ProcessFailed(pkt.Conn, req, perr)
		if !s.errorResponses || !att.IsRequest(req.Opcode) {
			pdu.Release()
			return Event{}, false, nil
		}
		var buf [5]byte
		n, _ := att.EncodeErrorResponse(buf[:], req.Opcode, errorHandle(req, perr), errorCode(perr))
		if err := s.send(ctx, pkt.Conn, pdu, buf[:n]); err != nil {
			return Event{}, false, err
		}
		return Event{}, false, nil

	case resp != nil:
		if err := s.send(ctx, pkt.Conn, pdu, resp); err != nil {
			return Event{}, false, err
		}

	default:
		logger.Debug("gatt", "conn=0x%04X no response for %s", uint16(pkt.Conn), att.OpcodeName(req.Opcode))
		pdu.Release()
	}
	return ev, emitted, nil
}

// event derives the application event of a successful request. Execute
// Write queues one event per committed handle; the first is returned.
func (s *GattServer) event(conn ConnHandle, b *gatt.Bearer, req att.Request) (Event, bool) {
	switch req.Opcode {
	case att.OpWriteRequest, att.OpWriteCommand:
		return s.accessEvent(EventWrite, conn, b, req.Handle), true
	case att.OpReadRequest, att.OpReadBlobRequest:
		return s.accessEvent(EventRead, conn, b, req.Handle), true
	case att.OpExecuteWriteRequest:
		committed := b.Committed()
		if len(committed) == 0 {
			return Event{}, false
		}
		s.pendingConn = conn
		s.npending = copy(s.pending[:], committed[1:])
		s.next = 0
		return s.accessEvent(EventWrite, conn, b, committed[0]), true
	}
	return Event{}, false
}

func (s *GattServer) accessEvent(kind EventKind, conn ConnHandle, b *gatt.Bearer, handle uint16) Event {
	ev := Event{Kind: kind, Conn: conn, Handle: handle}
	if a := s.server.Table().Find(handle); a != nil && a.IsCCCD() {
		v := b.CCCD(handle)
		ev.Value = []byte{byte(v), byte(v >> 8)}
		ev.Notify, ev.Indicate, _ = gatt.DecodeCCCDValue(ev.Value)
		ev.Characteristic, _ = s.server.Table().ValueHandleFor(handle)
		return ev
	}
	ev.Value, _ = s.server.Table().Value(handle)
	return ev
}

func (s *GattServer) popPending() (Event, bool) {
	if s.next >= s.npending {
		return Event{}, false
	}
	handle := s.pending[s.next]
	s.next++

	var ev Event
	found := s.res.withBearer(s.pendingConn, func(b *gatt.Bearer) {
		ev = s.accessEvent(EventWrite, s.pendingConn, b, handle)
	})
	if !found {
		// the link went away; its remaining events go with it
		s.next = s.npending
		return Event{}, false
	}
	return ev, true
}

// send frames payload for the ATT channel into pdu and queues it. The
// payload may live anywhere, including inside pdu.
func (s *GattServer) send(ctx context.Context, conn ConnHandle, pdu Pdu, payload []byte) error {
	n, err := l2cap.Encode(l2cap.ChannelATT, payload, pdu.Buffer())
	if err != nil {
		s.tracer.Dropped(conn, err)
		pdu.Release()
		return nil
	}
	pdu.n = n
	s.tracer.PacketSent(conn, pdu.Bytes())

	if err := s.res.outbound.Send(ctx, Packet{Conn: conn, Pdu: pdu}); err != nil {
		pdu.Release()
		return err
	}
	return nil
}

// Notify sends a Handle Value Notification for the characteristic value
// at handle to conn. It waits for a packet buffer and for room on the
// outbound queue.
func (s *GattServer) Notify(ctx context.Context, conn ConnHandle, handle uint16, value []byte) error {
	pdu, err := s.res.packets.Alloc(ctx)
	if err != nil {
		return err
	}

	var (
		n    int
		ok   bool
		nerr error
	)
	found := s.res.withBearer(conn, func(b *gatt.Bearer) {
		n, ok, nerr = s.server.Notification(b, handle, value, pdu.Buffer()[l2cap.HeaderLen:])
	})
	switch {
	case !found:
		nerr = errors.Wrapf(ErrUnknownConnection, "connection 0x%04X", uint16(conn))
	case nerr == nil && !ok:
		nerr = errors.Wrapf(ErrNotSubscribed, "connection 0x%04X handle 0x%04X", uint16(conn), handle)
	}
	if nerr != nil {
		pdu.Release()
		return nerr
	}

	payload := pdu.Buffer()[l2cap.HeaderLen : l2cap.HeaderLen+n]
	n, err = l2cap.Encode(l2cap.ChannelATT, payload, pdu.Buffer())
	if err != nil {
		pdu.Release()
		return err
	}
	pdu.n = n
	s.tracer.PacketSent(conn, pdu.Bytes())

	if err := s.res.outbound.Send(ctx, Packet{Conn: conn, Pdu: pdu}); err != nil {
		pdu.Release()
		return err
	}
	return nil
}

func errorCode(err error) uint8 {
	if code := att.GetErrorCode(err); code != 0 {
		return code
	}
	return att.ErrUnlikelyError
}

func errorHandle(req att.Request, err error) uint16 {
	var attErr *att.Error
	if stderrors.As(err, &attErr) {
		return attErr.Handle
	}
	return req.Handle
}
