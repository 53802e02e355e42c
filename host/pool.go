package host

import (
	"context"
	stderrors "errors"

	"github.com/pkg/errors"
)

var (
	// ErrResourceExhausted is returned when no buffer, slot or queue entry
	// is free. It is a normal condition the caller can retry.
	ErrResourceExhausted = stderrors.New("host: resource exhausted")

	// ErrPduTooLarge is returned when data does not fit a pool buffer.
	ErrPduTooLarge = stderrors.New("host: data exceeds packet size")
)

// ConnHandle identifies a connection. It is only used to route packets.
type ConnHandle uint16

// Pdu is a buffer drawn from a PacketPool plus the length of its content.
// A Pdu has exactly one owner at a time; ownership moves with the value
// and ends with Release.
type Pdu struct {
	pool *PacketPool
	buf  []byte
	n    int
}

// Bytes returns the content of the Pdu
func (p Pdu) Bytes() []byte {
	return p.buf[:p.n]
}

// Buffer returns the whole underlying buffer for writing in place
func (p Pdu) Buffer() []byte {
	return p.buf
}

// Len returns the content length
func (p Pdu) Len() int {
	return p.n
}

// Cap returns the buffer size
func (p Pdu) Cap() int {
	return len(p.buf)
}

// SetLen sets the content length after the buffer was written in place
func (p *Pdu) SetLen(n int) error {
	if n < 0 || n > len(p.buf) {
		return errors.Wrapf(ErrPduTooLarge, "length %d, capacity %d", n, len(p.buf))
	}
	p.n = n
	return nil
}

// Set copies data into the buffer and makes it the content
func (p *Pdu) Set(data []byte) error {
	if len(data) > len(p.buf) {
		return errors.Wrapf(ErrPduTooLarge, "length %d, capacity %d", len(data), len(p.buf))
	}
	p.n = copy(p.buf, data)
	return nil
}

// Release returns the buffer to its pool. The Pdu is empty afterwards and
// releasing it again does nothing.
func (p *Pdu) Release() {
	if p.pool == nil || p.buf == nil {
		return
	}
	p.pool.put(p.buf)
	p.buf = nil
	p.n = 0
}

// PacketPool is a fixed set of equally sized buffers. The free list is a
// buffered channel, so Alloc can wait for a Release from another
// goroutine.
type PacketPool struct {
	size int
	free chan []byte
}

// NewPacketPool allocates count buffers of size bytes up front
func NewPacketPool(count, size int) *PacketPool {
	p := &PacketPool{
		size: size,
		free: make(chan []byte, count),
	}
	for i := 0; i < count; i++ {
		p.free <- make([]byte, size)
	}
	return p
}

// TryAlloc takes a buffer without waiting
func (p *PacketPool) TryAlloc() (Pdu, error) {
	select {
	case buf := <-p.free:
		return Pdu{pool: p, buf: buf}, nil
	default:
		return Pdu{}, errors.Wrapf(ErrResourceExhausted, "all %d packets in use", cap(p.free))
	}
}

// Alloc takes a buffer, waiting for one to be released if necessary
func (p *PacketPool) Alloc(ctx context.Context) (Pdu, error) {
	select {
	case buf := <-p.free:
		return Pdu{pool: p, buf: buf}, nil
	case <-ctx.Done():
		return Pdu{}, ctx.Err()
	}
}

// AllocFrom takes a buffer without waiting and copies data into it
func (p *PacketPool) AllocFrom(data []byte) (Pdu, error) {
	if len(data) > p.size {
		return Pdu{}, errors.Wrapf(ErrPduTooLarge, "length %d, packet size %d", len(data), p.size)
	}
	pdu, err := p.TryAlloc()
	if err != nil {
		return Pdu{}, err
	}
	pdu.n = copy(pdu.buf, data)
	return pdu, nil
}

// Available returns the number of free buffers
func (p *PacketPool) Available() int {
	return len(p.free)
}

// Size returns the size of every buffer in the pool
func (p *PacketPool) Size() int {
	return p.size
}

func (p *PacketPool) put(buf []byte) {
	select {
	case p.free <- buf[:p.size:p.size]:
	default:
		// more releases than allocations; drop the extra buffer
	}
}
