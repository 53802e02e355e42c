package main

import (
	"context"
	"sync"

	"github.com/user/bluehost/host"
	"github.com/user/bluehost/logger"
	"github.com/user/bluehost/wire/l2cap"
)

// signaler answers LE signaling commands on every connection the serve
// loop acquires, one goroutine per connection.
type signaler struct {
	res *host.Resources
	wg  sync.WaitGroup

	mu   sync.Mutex
	stop map[host.ConnHandle]context.CancelFunc
}

func newSignaler(res *host.Resources) *signaler {
	return &signaler{
		res:  res,
		stop: make(map[host.ConnHandle]context.CancelFunc),
	}
}

// acquire takes a slot for conn unless it already holds one
func (s *signaler) acquire(ctx context.Context, conn host.ConnHandle) error {
	s.mu.Lock()
	_, ok := s.stop[conn]
	s.mu.Unlock()
	if ok {
		return nil
	}

	pair, err := s.res.AcquireChannelsFor(conn)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.stop[conn] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, pair)
	}()
	return nil
}

// release stops answering for conn and frees its slot
func (s *signaler) release(conn host.ConnHandle) error {
	s.mu.Lock()
	if cancel, ok := s.stop[conn]; ok {
		cancel()
		delete(s.stop, conn)
	}
	s.mu.Unlock()
	return s.res.Release(conn)
}

// wait returns once every goroutine has seen its context end
func (s *signaler) wait() {
	s.wg.Wait()
}

func (s *signaler) run(ctx context.Context, pair host.ChannelPair) {
	for {
		pdu, err := pair.Inbound.Receive(ctx)
		if err != nil {
			return
		}
		if err := s.answer(ctx, pair.Conn, pdu); err != nil {
			logger.Warn("gattsim", "connection 0x%04X signaling: %v", uint16(pair.Conn), err)
		}
	}
}

func (s *signaler) answer(ctx context.Context, conn host.ConnHandle, req host.Pdu) error {
	defer req.Release()

	if id, p, err := l2cap.DecodeConnectionParameterUpdateRequest(req.Bytes()); err == nil {
		logger.Info("gattsim", "connection 0x%04X update request %d: %s", uint16(conn), id, p)
	}

	resp, err := s.res.Packets().Alloc(ctx)
	if err != nil {
		return err
	}
	buf := resp.Buffer()
	n, err := l2cap.AnswerSignal(req.Bytes(), buf[l2cap.HeaderLen:])
	if err != nil || n == 0 {
		resp.Release()
		return err
	}
	if n, err = l2cap.Encode(l2cap.ChannelLESignal, buf[l2cap.HeaderLen:l2cap.HeaderLen+n], buf); err != nil {
		resp.Release()
		return err
	}
	if err := resp.SetLen(n); err != nil {
		resp.Release()
		return err
	}

	if err := s.res.Outbound().Send(ctx, host.Packet{Conn: conn, Pdu: resp}); err != nil {
		resp.Release()
		return err
	}
	return nil
}
