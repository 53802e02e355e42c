package gatt

import (
	"encoding/binary"

	"github.com/user/bluehost/wire/att"
	"github.com/user/bluehost/wire/l2cap"
)

// Longest value carried in one Read By Type or Read By Group Type entry;
// the entry length must fit the one byte length field.
const (
	maxTypeValueLen  = 253
	maxGroupValueLen = 251
)

// Server answers ATT requests against an attribute table.
type Server struct {
	// MaxMTU is the receive MTU offered in Exchange MTU responses and the
	// ceiling for negotiated MTUs.
	MaxMTU uint16

	table *Table
	buf   [l2cap.MaxMTU]byte
}

// NewServer creates a server for table
func NewServer(table *Table) *Server {
	return &Server{
		MaxMTU: l2cap.MaxMTU,
		table:  table,
	}
}

// Table returns the attribute table the server answers from
func (s *Server) Table() *Table {
	return s.table
}

func (s *Server) maxMTU() uint16 {
	switch {
	case s.MaxMTU < l2cap.MinMTU:
		return l2cap.MinMTU
	case s.MaxMTU > l2cap.MaxMTU:
		return l2cap.MaxMTU
	}
	return s.MaxMTU
}

// Process executes req on behalf of the link described by b.
//
// A non-nil payload is the response to send; it aliases the server's
// scratch buffer and is valid until the next call. (nil, nil) means the
// request needs no response. Precondition failures are returned as
// *att.Error for the caller to report.
func (s *Server) Process(b *Bearer, req att.Request) ([]byte, error) {
	s.table.Lock()
	defer s.table.Unlock()

	dst := s.buf[:b.mtu]
	var (
		n   int
		err error
	)
	switch req.Opcode {
	case att.OpExchangeMTURequest:
		n, err = s.exchangeMTU(b, req)
	case att.OpFindInformationRequest:
		n, err = s.findInformation(dst, req)
	case att.OpFindByTypeValueRequest:
		n, err = s.findByTypeValue(dst, req)
	case att.OpReadByTypeRequest:
		n, err = s.readByType(b, dst, req)
	case att.OpReadRequest:
		n, err = s.read(b, dst, req)
	case att.OpReadBlobRequest:
		n, err = s.readBlob(b, dst, req)
	case att.OpReadMultipleRequest:
		n, err = s.readMultiple(b, dst, req)
	case att.OpReadByGroupTypeRequest:
		n, err = s.readByGroupType(b, dst, req)
	case att.OpWriteRequest, att.OpWriteCommand:
		n, err = s.write(b, dst, req)
	case att.OpPrepareWriteRequest:
		n, err = s.prepareWrite(b, req)
	case att.OpExecuteWriteRequest:
		n, err = s.executeWrite(b, dst, req)
	case att.OpHandleValueConfirmation:
		return nil, nil
	default:
		return nil, att.NewError(att.ErrRequestNotSupported, req.Opcode, 0)
	}
	if err != nil || n == 0 {
		return nil, err
	}
	return s.buf[:n], nil
}

// Notification encodes a Handle Value Notification for handle sized to
// b's MTU. ok is false when b has not enabled notifications on the
// characteristic.
func (s *Server) Notification(b *Bearer, handle uint16, value []byte, dst []byte) (n int, ok bool, err error) {
	s.table.Lock()
	defer s.table.Unlock()

	cccd := s.table.CCCDFor(handle)
	if cccd == nil || b.CCCD(cccd.Handle)&CCCDNotificationsEnabled == 0 {
		return 0, false, nil
	}
	if len(dst) > int(b.mtu) {
		dst = dst[:b.mtu]
	}
	n, err = att.EncodeHandleValueNotification(dst, handle, value)
	return n, err == nil, err
}

// value returns what a read of a sees on this link. CCCDs read back the
// link's own configuration.
func (s *Server) value(b *Bearer, a *Attribute) []byte {
	if a.IsCCCD() {
		return b.cccdBytes(a.Handle)
	}
	return a.Value
}

func checkRange(req att.Request) error {
	if req.StartHandle == 0 || req.StartHandle > req.EndHandle {
		return att.NewError(att.ErrInvalidHandle, req.Opcode, req.StartHandle)
	}
	return nil
}

func (s *Server) exchangeMTU(b *Bearer, req att.Request) (int, error) {
	server := s.maxMTU()
	mtu := req.MTU
	if mtu < l2cap.MinMTU {
		mtu = l2cap.MinMTU
	}
	if mtu > server {
		mtu = server
	}
	b.mtu = mtu
	return att.EncodeExchangeMTUResponse(s.buf[:], server)
}

func (s *Server) findInformation(dst []byte, req att.Request) (int, error) {
	if err := checkRange(req); err != nil {
		return 0, err
	}

	w, err := att.NewListWriter(dst, att.OpFindInformationResponse, 0)
	if err != nil {
		return 0, err
	}
	for i, attrs := 0, s.table.Range(req.StartHandle, req.EndHandle); i < len(attrs); i++ {
		a := &attrs[i]
		e := w.Next(2 + a.Type.Len())
		if e == nil {
			break
		}
		binary.LittleEndian.PutUint16(e, a.Handle)
		copy(e[2:], a.Type)
	}
	if w.Count() == 0 {
		return 0, att.NewError(att.ErrAttributeNotFound, req.Opcode, req.StartHandle)
	}

	format := byte(0x01)
	if w.EntryLen() == 18 {
		format = 0x02
	}
	w.Header()[1] = format
	return w.Len(), nil
}

func (s *Server) findByTypeValue(dst []byte, req att.Request) (int, error) {
	if err := checkRange(req); err != nil {
		return 0, err
	}

	typ := UUID16(req.AttrType)
	w, err := att.NewListWriter(dst, att.OpFindByTypeValueResponse)
	if err != nil {
		return 0, err
	}
	for i, attrs := 0, s.table.Range(req.StartHandle, req.EndHandle); i < len(attrs); i++ {
		a := &attrs[i]
		if !a.Type.Equal(typ) || string(a.Value) != string(req.Value) {
			continue
		}
		end := a.Handle
		if a.IsService() {
			end = s.table.GroupEnd(a.Handle)
		}
		e := w.Next(4)
		if e == nil {
			break
		}
		binary.LittleEndian.PutUint16(e, a.Handle)
		binary.LittleEndian.PutUint16(e[2:], end)
	}
	if w.Count() == 0 {
		return 0, att.NewError(att.ErrAttributeNotFound, req.Opcode, req.StartHandle)
	}
	return w.Len(), nil
}

func (s *Server) readByType(b *Bearer, dst []byte, req att.Request) (int, error) {
	if err := checkRange(req); err != nil {
		return 0, err
	}

	limit := int(b.mtu) - 4
	if limit > maxTypeValueLen {
		limit = maxTypeValueLen
	}

	typ := UUID(req.Type)
	w, err := att.NewListWriter(dst, att.OpReadByTypeResponse, 0)
	if err != nil {
		return 0, err
	}
	for i, attrs := 0, s.table.Range(req.StartHandle, req.EndHandle); i < len(attrs); i++ {
		a := &attrs[i]
		if !a.Type.Equal(typ) {
			continue
		}
		if !a.Readable() {
			if w.Count() == 0 {
				return 0, att.NewError(att.ErrReadNotPermitted, req.Opcode, a.Handle)
			}
			break
		}
		v := s.value(b, a)
		if len(v) > limit {
			v = v[:limit]
		}
		e := w.Next(2 + len(v))
		if e == nil {
			break
		}
		binary.LittleEndian.PutUint16(e, a.Handle)
		copy(e[2:], v)
	}
	if w.Count() == 0 {
		return 0, att.NewError(att.ErrAttributeNotFound, req.Opcode, req.StartHandle)
	}
	w.Header()[1] = byte(w.EntryLen())
	return w.Len(), nil
}

func (s *Server) readable(req att.Request, handle uint16) (*Attribute, error) {
	a := s.table.Find(handle)
	if a == nil {
		return nil, att.NewError(att.ErrInvalidHandle, req.Opcode, handle)
	}
	if !a.Readable() {
		return nil, att.NewError(att.ErrReadNotPermitted, req.Opcode, handle)
	}
	return a, nil
}

func (s *Server) read(b *Bearer, dst []byte, req att.Request) (int, error) {
	a, err := s.readable(req, req.Handle)
	if err != nil {
		return 0, err
	}
	return att.EncodeReadResponse(dst, att.OpReadResponse, s.value(b, a))
}

func (s *Server) readBlob(b *Bearer, dst []byte, req att.Request) (int, error) {
	a, err := s.readable(req, req.Handle)
	if err != nil {
		return 0, err
	}
	v := s.value(b, a)
	if int(req.Offset) > len(v) {
		return 0, att.NewError(att.ErrInvalidOffset, req.Opcode, req.Handle)
	}
	return att.EncodeReadResponse(dst, att.OpReadBlobResponse, v[req.Offset:])
}

func (s *Server) readMultiple(b *Bearer, dst []byte, req att.Request) (int, error) {
	for i := 0; i < req.NumHandles(); i++ {
		if _, err := s.readable(req, req.HandleAt(i)); err != nil {
			return 0, err
		}
	}

	dst[0] = att.OpReadMultipleResponse
	n := 1
	for i := 0; i < req.NumHandles() && n < len(dst); i++ {
		n += copy(dst[n:], s.value(b, s.table.Find(req.HandleAt(i))))
	}
	return n, nil
}

func (s *Server) readByGroupType(b *Bearer, dst []byte, req att.Request) (int, error) {
	if err := checkRange(req); err != nil {
		return 0, err
	}
	typ := UUID(req.Type)
	if !typ.Equal(UUIDPrimaryService) && !typ.Equal(UUIDSecondaryService) {
		return 0, att.NewError(att.ErrUnsupportedGroupType, req.Opcode, req.StartHandle)
	}

	limit := int(b.mtu) - 6
	if limit > maxGroupValueLen {
		limit = maxGroupValueLen
	}

	w, err := att.NewListWriter(dst, att.OpReadByGroupTypeResponse, 0)
	if err != nil {
		return 0, err
	}
	for i, attrs := 0, s.table.Range(req.StartHandle, req.EndHandle); i < len(attrs); i++ {
		a := &attrs[i]
		if !a.Type.Equal(typ) {
			continue
		}
		if !a.Readable() {
			if w.Count() == 0 {
				return 0, att.NewError(att.ErrReadNotPermitted, req.Opcode, a.Handle)
			}
			break
		}
		v := s.value(b, a)
		if len(v) > limit {
			v = v[:limit]
		}
		e := w.Next(4 + len(v))
		if e == nil {
			break
		}
		binary.LittleEndian.PutUint16(e, a.Handle)
		binary.LittleEndian.PutUint16(e[2:], s.table.GroupEnd(a.Handle))
		copy(e[4:], v)
	}
	if w.Count() == 0 {
		return 0, att.NewError(att.ErrAttributeNotFound, req.Opcode, req.StartHandle)
	}
	w.Header()[1] = byte(w.EntryLen())
	return w.Len(), nil
}

func (s *Server) writable(req att.Request, handle uint16) (*Attribute, error) {
	a := s.table.Find(handle)
	if a == nil {
		return nil, att.NewError(att.ErrInvalidHandle, req.Opcode, handle)
	}
	if !a.Writable() {
		return nil, att.NewError(att.ErrWriteNotPermitted, req.Opcode, handle)
	}
	return a, nil
}

// store writes v into a and mirrors CCCD writes into the link's
// subscriptions.
func (s *Server) store(b *Bearer, opcode uint8, a *Attribute, v []byte) error {
	if len(v) > cap(a.Value) {
		return att.NewError(att.ErrInvalidAttributeValueLength, opcode, a.Handle)
	}
	if a.IsCCCD() {
		if len(v) != 2 {
			return att.NewError(att.ErrInvalidAttributeValueLength, opcode, a.Handle)
		}
		if !b.subs.set(a.Handle, binary.LittleEndian.Uint16(v)) {
			return att.NewError(att.ErrInsufficientResources, opcode, a.Handle)
		}
	}
	a.set(v)
	return nil
}

func (s *Server) write(b *Bearer, dst []byte, req att.Request) (int, error) {
	a, err := s.writable(req, req.Handle)
	if err != nil {
		return 0, err
	}
	if err := s.store(b, req.Opcode, a, req.Value); err != nil {
		return 0, err
	}
	if req.Opcode == att.OpWriteCommand {
		return 0, nil
	}
	return att.EncodeWriteResponse(dst, att.OpWriteResponse)
}

func (s *Server) prepareWrite(b *Bearer, req att.Request) (int, error) {
	if _, err := s.writable(req, req.Handle); err != nil {
		return 0, err
	}
	if !b.prepare(req.Handle, req.Offset, req.Value) {
		return 0, att.NewError(att.ErrPrepareQueueFull, req.Opcode, req.Handle)
	}
	// The echo may exceed a small MTU when the request did; the full
	// scratch buffer always holds it.
	return att.EncodePrepareWriteResponse(s.buf[:], req.Handle, req.Offset, req.Value)
}

func (s *Server) executeWrite(b *Bearer, dst []byte, req att.Request) (int, error) {
	defer b.clearQueue()
	b.ncommitted = 0

	if req.Flags == att.ExecuteWriteCommit {
		subs, err := s.checkPrepared(b, req)
		if err != nil {
			return 0, err
		}
		for i := 0; i < b.nq; i++ {
			w, v := b.prepared(i)
			a := s.table.Find(w.handle)
			a.Value = a.Value[:int(w.offset)+len(v)]
			copy(a.Value[w.offset:], v)
			b.commit(w.handle)
		}
		b.subs = subs
	}
	return att.EncodeWriteResponse(dst, att.OpExecuteWriteResponse)
}

// checkPrepared replays the queue against value lengths and the link's
// subscription room, so that a failing entry leaves every attribute
// untouched. It returns the subscriptions the link holds once the queue
// is applied.
func (s *Server) checkPrepared(b *Bearer, req att.Request) (subscriptions, error) {
	type pending struct {
		handle uint16
		n      int
		cccd   [2]byte
	}
	var staged [MaxPreparedWrites]pending
	nstaged := 0
	stage := func(a *Attribute) *pending {
		for i := 0; i < nstaged; i++ {
			if staged[i].handle == a.Handle {
				return &staged[i]
			}
		}
		p := &staged[nstaged]
		p.handle = a.Handle
		p.n = len(a.Value)
		copy(p.cccd[:], a.Value)
		nstaged++
		return p
	}

	subs := b.subs
	for i := 0; i < b.nq; i++ {
		w, v := b.prepared(i)
		a := s.table.Find(w.handle)
		if a == nil {
			return subs, att.NewError(att.ErrInvalidHandle, req.Opcode, w.handle)
		}
		p := stage(a)
		if int(w.offset) > p.n {
			return subs, att.NewError(att.ErrInvalidOffset, req.Opcode, w.handle)
		}
		end := int(w.offset) + len(v)
		if end > cap(a.Value) {
			return subs, att.NewError(att.ErrInvalidAttributeValueLength, req.Opcode, w.handle)
		}
		if a.IsCCCD() {
			if end != 2 {
				return subs, att.NewError(att.ErrInvalidAttributeValueLength, req.Opcode, w.handle)
			}
			copy(p.cccd[w.offset:], v)
			if !subs.set(a.Handle, binary.LittleEndian.Uint16(p.cccd[:])) {
				return subs, att.NewError(att.ErrInsufficientResources, req.Opcode, w.handle)
			}
		}
		p.n = end
	}
	return subs, nil
}
