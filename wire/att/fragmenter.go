package att

import (
	"bytes"
	"encoding/binary"
	stderrors "errors"

	"github.com/pkg/errors"
)

// MaxAttributeValue is the longest value an attribute may hold
const MaxAttributeValue = 512

// ErrFragment is returned when a value cannot be split for the given MTU.
var ErrFragment = stderrors.New("att: cannot fragment write")

// ShouldFragment returns true if value does not fit one Write Request.
// Write Request format: [Opcode:1][Handle:2][Value:N], so the limit is MTU - 3.
// A non-positive mtu means the LE default of 23.
func ShouldFragment(mtu int, value []byte) bool {
	if mtu <= 0 {
		mtu = 23
	}
	return len(value) > mtu-3
}

// FragmentWrite splits a long value into Prepare Write Requests of at most
// MTU - 5 value bytes each. The request values alias value.
func FragmentWrite(handle uint16, value []byte, mtu int) ([]Request, error) {
	if !ShouldFragment(mtu, value) {
		return nil, errors.Wrapf(ErrFragment, "%d bytes fit a single write at mtu %d", len(value), mtu)
	}
	if len(value) > MaxAttributeValue {
		return nil, errors.Wrapf(ErrFragment, "%d bytes exceed the %d byte attribute limit", len(value), MaxAttributeValue)
	}

	// [Opcode:1][Handle:2][Offset:2][Value:N]
	chunk := mtu - 5
	if chunk <= 0 {
		return nil, errors.Wrapf(ErrFragment, "mtu %d too small", mtu)
	}

	requests := make([]Request, 0, (len(value)+chunk-1)/chunk)
	for off := 0; off < len(value); off += chunk {
		end := min(off+chunk, len(value))
		requests = append(requests, Request{
			Opcode: OpPrepareWriteRequest,
			Handle: handle,
			Offset: uint16(off),
			Value:  value[off:end:end],
		})
	}
	return requests, nil
}

// SplitWrite returns the requests that write value to handle at mtu: a
// single Write Request when it fits, otherwise the Prepare Write Requests
// from FragmentWrite followed by an Execute Write commit.
func SplitWrite(handle uint16, value []byte, mtu int) ([]Request, error) {
	if !ShouldFragment(mtu, value) {
		return []Request{{Opcode: OpWriteRequest, Handle: handle, Value: value}}, nil
	}
	requests, err := FragmentWrite(handle, value, mtu)
	if err != nil {
		return nil, err
	}
	return append(requests, Request{Opcode: OpExecuteWriteRequest, Flags: ExecuteWriteCommit}), nil
}

// CheckPrepareWriteEcho verifies that resp is the Prepare Write Response
// a server must send for req: the same handle, offset and value.
func CheckPrepareWriteEcho(req Request, resp []byte) error {
	if len(resp) < 5 || resp[0] != OpPrepareWriteResponse {
		return errors.Wrapf(ErrMalformedPDU, "not a prepare write response: %x", resp)
	}
	handle := binary.LittleEndian.Uint16(resp[1:3])
	offset := binary.LittleEndian.Uint16(resp[3:5])
	if handle != req.Handle || offset != req.Offset || !bytes.Equal(resp[5:], req.Value) {
		return errors.Wrapf(ErrMalformedPDU, "echo 0x%04X@%d does not match 0x%04X@%d", handle, offset, req.Handle, req.Offset)
	}
	return nil
}
