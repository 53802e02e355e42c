package host

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/pkg/errors"

	"github.com/user/bluehost/logger"
	"github.com/user/bluehost/wire/gatt"
	"github.com/user/bluehost/wire/l2cap"
)

var (
	// ErrAlreadyAcquired is returned when a connection already holds a slot
	ErrAlreadyAcquired = stderrors.New("host: connection already has channels")

	// ErrUnknownConnection is returned for connections without a slot
	ErrUnknownConnection = stderrors.New("host: unknown connection")
)

// Packet is a Pdu routed to or from a connection
type Packet struct {
	Conn ConnHandle
	Pdu  Pdu
}

// ChannelPair carries the fixed channel traffic of one connection other
// than ATT: signaling and SMP frames land on Inbound, frames the owner
// wants transmitted go on Outbound.
type ChannelPair struct {
	Conn     ConnHandle
	Inbound  Queue[Pdu]
	Outbound Queue[Pdu]
}

type slot struct {
	mu     sync.Mutex
	used   bool
	conn   ConnHandle
	bearer *gatt.Bearer
	pair   ChannelPair

	// live is done once the current holder releases the slot. sendMu
	// orders Inbound sends before the drain in Release.
	live   context.Context
	kill   context.CancelFunc
	sendMu sync.Mutex
}

// Resources is the fixed pool of connection slots, queues and packet
// buffers shared by the host tasks. Everything is allocated by
// NewResources; nothing grows afterwards.
type Resources struct {
	cfg Config

	mu    sync.Mutex
	slots []*slot
	byCon map[ConnHandle]*slot

	att      Queue[Packet]
	outbound Queue[Packet]
	packets  *PacketPool
}

// NewResources validates cfg and allocates every pool it describes
func NewResources(cfg Config) (*Resources, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Resources{
		cfg:      cfg,
		slots:    make([]*slot, cfg.MaxConnections),
		byCon:    make(map[ConnHandle]*slot, cfg.MaxConnections),
		att:      NewQueue[Packet](cfg.ATTQueueDepth),
		outbound: NewQueue[Packet](cfg.OutboundQueueDepth),
		packets:  NewPacketPool(cfg.Packets, cfg.PacketSize),
	}
	for i := range r.slots {
		r.slots[i] = &slot{
			bearer: gatt.NewBearer(),
			pair: ChannelPair{
				Inbound:  NewQueue[Pdu](cfg.ChannelQueueDepth),
				Outbound: NewQueue[Pdu](cfg.ChannelQueueDepth),
			},
		}
	}
	return r, nil
}

// Config returns the configuration the pool was built with
func (r *Resources) Config() Config {
	return r.cfg
}

// AcquireChannelsFor assigns a free slot to conn
func (r *Resources) AcquireChannelsFor(conn ConnHandle) (ChannelPair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byCon[conn]; ok {
		return ChannelPair{}, errors.Wrapf(ErrAlreadyAcquired, "connection 0x%04X", uint16(conn))
	}
	for _, s := range r.slots {
		s.mu.Lock()
		if s.used {
			s.mu.Unlock()
			continue
		}
		s.used = true
		s.conn = conn
		s.pair.Conn = conn
		s.bearer.Reset()
		s.live, s.kill = context.WithCancel(context.Background())
		pair := s.pair
		s.mu.Unlock()

		r.byCon[conn] = s
		logger.Info("host", "connection 0x%04X acquired a slot (%d/%d in use)", uint16(conn), len(r.byCon), len(r.slots))
		return pair, nil
	}
	return ChannelPair{}, errors.Wrapf(ErrResourceExhausted, "all %d connection slots in use", len(r.slots))
}

// Release frees the slot held by conn. Pdus still queued on its channels
// go back to the packet pool.
func (r *Resources) Release(conn ConnHandle) error {
	r.mu.Lock()
	s, ok := r.byCon[conn]
	if !ok {
		r.mu.Unlock()
		return errors.Wrapf(ErrUnknownConnection, "connection 0x%04X", uint16(conn))
	}
	delete(r.byCon, conn)
	r.mu.Unlock()

	// Wake any Deliver blocked on the Inbound queue, then wait it out.
	s.mu.Lock()
	kill := s.kill
	s.mu.Unlock()
	kill()
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.used = false
	s.bearer.Reset()
	for _, q := range []Queue[Pdu]{s.pair.Inbound, s.pair.Outbound} {
		for {
			pdu, ok := q.TryReceive()
			if !ok {
				break
			}
			pdu.Release()
		}
	}
	logger.Info("host", "connection 0x%04X released its slot", uint16(conn))
	return nil
}

// Connections returns the number of slots in use
func (r *Resources) Connections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byCon)
}

// ATT returns the shared inbound ATT queue
func (r *Resources) ATT() Queue[Packet] {
	return r.att
}

// Outbound returns the shared outbound queue
func (r *Resources) Outbound() Queue[Packet] {
	return r.outbound
}

// Packets returns the packet pool
func (r *Resources) Packets() *PacketPool {
	return r.packets
}

// Deliver routes one received L2CAP frame for conn. ATT payloads go to the
// shared ATT queue, other fixed channels to the connection's Inbound
// queue. The payload is copied into a pool buffer; Deliver waits for a
// buffer and for queue space. A connection released while Deliver waits
// yields ErrUnknownConnection and the frame is dropped.
func (r *Resources) Deliver(ctx context.Context, conn ConnHandle, frame []byte) error {
	p, err := l2cap.Decode(frame)
	if err != nil {
		return err
	}

	var (
		s    *slot
		live context.Context
	)
	if p.ChannelID != l2cap.ChannelATT {
		r.mu.Lock()
		var ok bool
		s, ok = r.byCon[conn]
		r.mu.Unlock()
		if !ok {
			return errors.Wrapf(ErrUnknownConnection, "connection 0x%04X", uint16(conn))
		}
		s.mu.Lock()
		live, ok = s.live, s.used && s.conn == conn
		s.mu.Unlock()
		if !ok {
			return errors.Wrapf(ErrUnknownConnection, "connection 0x%04X", uint16(conn))
		}
	}

	if len(p.Payload) > r.packets.Size() {
		return errors.Wrapf(ErrPduTooLarge, "%s payload of %d bytes", l2cap.ChannelName(p.ChannelID), len(p.Payload))
	}
	pdu, err := r.packets.Alloc(ctx)
	if err != nil {
		return err
	}
	if err := pdu.Set(p.Payload); err != nil {
		pdu.Release()
		return err
	}

	if s != nil {
		return sendInbound(ctx, conn, s, live, pdu)
	}
	if err := r.att.Send(ctx, Packet{Conn: conn, Pdu: pdu}); err != nil {
		pdu.Release()
		return err
	}
	return nil
}

// sendInbound queues pdu on the Inbound queue of s while the acquisition
// that live belongs to holds the slot.
func sendInbound(ctx context.Context, conn ConnHandle, s *slot, live context.Context, pdu Pdu) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	released := errors.Wrapf(ErrUnknownConnection, "connection 0x%04X released", uint16(conn))
	if live.Err() != nil {
		pdu.Release()
		return released
	}

	sendCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(live, cancel)
	defer stop()

	if err := s.pair.Inbound.Send(sendCtx, pdu); err != nil {
		pdu.Release()
		if live.Err() != nil {
			return released
		}
		return err
	}
	if live.Err() != nil {
		// queued after the release began; Release drains it once we return
		return released
	}
	return nil
}

// withBearer runs fn with the ATT state of conn locked. It reports false
// when conn holds no slot.
func (r *Resources) withBearer(conn ConnHandle, fn func(*gatt.Bearer)) bool {
	r.mu.Lock()
	s, ok := r.byCon[conn]
	r.mu.Unlock()
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.used || s.conn != conn {
		return false
	}
	fn(s.bearer)
	return true
}
