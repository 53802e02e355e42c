package gatt

import (
	"encoding/binary"

	"github.com/user/bluehost/wire/l2cap"
)

// Prepare queue bounds per link
const (
	MaxPreparedWrites = 16
	PrepareBufferSize = 512
)

type preparedWrite struct {
	handle uint16
	offset uint16
	start  uint16 // span of the value in Bearer.data
	end    uint16
}

// Bearer is the ATT state of one link: negotiated MTU, queued prepared
// writes and CCCD subscriptions. It is not safe for concurrent use; the
// owner serializes access.
type Bearer struct {
	mtu uint16

	queue [MaxPreparedWrites]preparedWrite
	nq    int
	data  [PrepareBufferSize]byte
	ndata int

	committed  [MaxPreparedWrites]uint16
	ncommitted int

	subs    subscriptions
	scratch [2]byte
}

// NewBearer returns a bearer at the default MTU
func NewBearer() *Bearer {
	return &Bearer{mtu: l2cap.DefaultMTU}
}

// MTU returns the negotiated ATT MTU
func (b *Bearer) MTU() uint16 {
	return b.mtu
}

// Reset returns the bearer to the state of a fresh link
func (b *Bearer) Reset() {
	b.mtu = l2cap.DefaultMTU
	b.clearQueue()
	b.ncommitted = 0
	b.subs.clear()
}

// Committed returns the handles written by the last successful Execute
// Write, in application order without consecutive repeats.
func (b *Bearer) Committed() []uint16 {
	return b.committed[:b.ncommitted]
}

// Pending returns the number of queued prepared writes
func (b *Bearer) Pending() int {
	return b.nq
}

// CCCD returns the value this link wrote to the CCCD at handle
func (b *Bearer) CCCD(handle uint16) uint16 {
	return b.subs.get(handle)
}

func (b *Bearer) cccdBytes(handle uint16) []byte {
	binary.LittleEndian.PutUint16(b.scratch[:], b.subs.get(handle))
	return b.scratch[:]
}

func (b *Bearer) prepare(handle, offset uint16, value []byte) bool {
	if b.nq == len(b.queue) || b.ndata+len(value) > len(b.data) {
		return false
	}
	start := b.ndata
	b.ndata += copy(b.data[start:], value)
	b.queue[b.nq] = preparedWrite{handle: handle, offset: offset, start: uint16(start), end: uint16(b.ndata)}
	b.nq++
	return true
}

func (b *Bearer) prepared(i int) (preparedWrite, []byte) {
	w := b.queue[i]
	return w, b.data[w.start:w.end]
}

func (b *Bearer) clearQueue() {
	b.nq = 0
	b.ndata = 0
}

func (b *Bearer) commit(handle uint16) {
	if b.ncommitted > 0 && b.committed[b.ncommitted-1] == handle {
		return
	}
	b.committed[b.ncommitted] = handle
	b.ncommitted++
}
