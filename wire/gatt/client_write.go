package gatt

import (
	stderrors "errors"

	"github.com/pkg/errors"

	"github.com/user/bluehost/wire/att"
)

// ErrNoCCCD is returned when subscribing to a characteristic that has no
// Client Characteristic Configuration descriptor
var ErrNoCCCD = stderrors.New("gatt: characteristic has no CCCD")

// Write writes value to handle the way a client would over b: a single
// Write Request when the value fits the link MTU, otherwise a prepared
// write whose echoes are checked before it is committed. A bad echo
// cancels the queue. It returns the number of requests sent.
func Write(s *Server, b *Bearer, handle uint16, value []byte) (int, error) {
	requests, err := att.SplitWrite(handle, value, int(b.MTU()))
	if err != nil {
		return 0, err
	}

	for i, req := range requests {
		resp, err := s.Process(b, req)
		if err != nil {
			if req.Opcode == att.OpPrepareWriteRequest {
				cancelPrepared(s, b)
			}
			return i, err
		}

		switch req.Opcode {
		case att.OpPrepareWriteRequest:
			if err := att.CheckPrepareWriteEcho(req, resp); err != nil {
				cancelPrepared(s, b)
				return i + 1, err
			}
		case att.OpWriteRequest, att.OpExecuteWriteRequest:
			if len(resp) != 1 || resp[0] != req.Opcode+1 {
				return i + 1, errors.Wrapf(ErrMalformedResponse, "unexpected response to %s", att.OpcodeName(req.Opcode))
			}
		}
	}
	return len(requests), nil
}

func cancelPrepared(s *Server, b *Bearer) {
	_, _ = s.Process(b, att.Request{Opcode: att.OpExecuteWriteRequest, Flags: att.ExecuteWriteCancel})
}

// Subscribe writes the CCCD of the characteristic whose value lives at
// valueHandle over b.
func Subscribe(s *Server, b *Bearer, valueHandle uint16, notify, indicate bool) error {
	cccd := s.Table().CCCDFor(valueHandle)
	if cccd == nil {
		return errors.Wrapf(ErrNoCCCD, "value handle 0x%04X", valueHandle)
	}
	_, err := Write(s, b, cccd.Handle, EncodeCCCDValue(notify, indicate))
	return err
}
