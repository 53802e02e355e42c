package att

import "github.com/pkg/errors"

// ListWriter packs the fixed-size entries of a list-shaped response (Find
// Information, Find By Type Value, Read By Type, Read By Group Type) into a
// buffer bounded by the MTU. The first entry fixes the entry size; an entry
// that does not fit, or has a different size, ends the list.
//
//	w, _ := NewListWriter(buf[:mtu], OpReadByTypeResponse, 0)
//	for ... {
//		e := w.Next(2 + len(v))
//		if e == nil {
//			break
//		}
//		...
//	}
//	w.Header()[1] = byte(w.EntryLen())
type ListWriter struct {
	buf   []byte
	head  int
	n     int
	size  int
	count int
}

// NewListWriter starts a response with opcode followed by the header bytes.
// dst bounds the response; pass it sliced to the MTU.
func NewListWriter(dst []byte, opcode uint8, header ...byte) (*ListWriter, error) {
	head := 1 + len(header)
	if len(dst) < head {
		return nil, errors.Wrapf(ErrShortBuffer, "%s: need %d bytes, have %d", OpcodeName(opcode), head, len(dst))
	}
	dst[0] = opcode
	copy(dst[1:], header)
	return &ListWriter{buf: dst, head: head, n: head}, nil
}

// Next reserves an entry of size bytes and returns it for the caller to
// fill. It returns nil when the list is complete.
func (w *ListWriter) Next(size int) []byte {
	if size <= 0 {
		return nil
	}
	if w.size != 0 && size != w.size {
		return nil
	}
	if w.n+size > len(w.buf) {
		return nil
	}
	w.size = size
	e := w.buf[w.n : w.n+size : w.n+size]
	w.n += size
	w.count++
	return e
}

// Header returns the opcode and header bytes for patching once the entry
// size is known.
func (w *ListWriter) Header() []byte {
	return w.buf[:w.head]
}

// EntryLen returns the fixed entry size, 0 before the first entry
func (w *ListWriter) EntryLen() int {
	return w.size
}

// Count returns the number of entries written
func (w *ListWriter) Count() int {
	return w.count
}

// Len returns the response length so far
func (w *ListWriter) Len() int {
	return w.n
}

// Bytes returns the encoded response
func (w *ListWriter) Bytes() []byte {
	return w.buf[:w.n]
}
