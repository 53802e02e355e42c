package l2cap

import (
	"encoding/binary"
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// LE signaling command codes
const (
	CodeCommandReject                     = 0x01
	CodeConnectionParameterUpdateRequest  = 0x12
	CodeConnectionParameterUpdateResponse = 0x13
)

// Connection parameter result codes
const (
	ConnectionParameterAccepted uint16 = 0x0000
	ConnectionParameterRejected uint16 = 0x0001
)

// ReasonNotUnderstood is the Command Reject reason for unknown codes
const ReasonNotUnderstood uint16 = 0x0000

// SignalHeaderLen is the size of a signaling command header:
// [Code: 1] [Identifier: 1] [Length: 2]
const SignalHeaderLen = 4

var (
	// ErrMalformedSignal is returned for truncated or inconsistent
	// signaling commands.
	ErrMalformedSignal = stderrors.New("l2cap: malformed signaling command")

	// ErrInvalidParameters is returned by Validate.
	ErrInvalidParameters = stderrors.New("l2cap: connection parameters out of range")
)

// ConnectionParameters are the timing characteristics of an LE link
type ConnectionParameters struct {
	// Connection interval in units of 1.25ms, 6 (7.5ms) to 3200 (4s)
	IntervalMin uint16
	IntervalMax uint16

	// Connection events the peripheral may skip, 0 to 499
	PeripheralLatency uint16

	// Supervision timeout in units of 10ms, 10 (100ms) to 3200 (32s)
	SupervisionTimeout uint16
}

// DefaultConnectionParameters returns a 30-50ms interval with a 6s timeout
func DefaultConnectionParameters() ConnectionParameters {
	return ConnectionParameters{
		IntervalMin:        24,
		IntervalMax:        40,
		PeripheralLatency:  0,
		SupervisionTimeout: 600,
	}
}

// Validate checks p against the LE ranges and requires the supervision
// timeout to exceed (1 + latency) * IntervalMax * 2.
func (p ConnectionParameters) Validate() error {
	if p.IntervalMin < 6 || p.IntervalMin > 3200 {
		return errors.Wrapf(ErrInvalidParameters, "interval min %d not in 6-3200", p.IntervalMin)
	}
	if p.IntervalMax < 6 || p.IntervalMax > 3200 {
		return errors.Wrapf(ErrInvalidParameters, "interval max %d not in 6-3200", p.IntervalMax)
	}
	if p.IntervalMax < p.IntervalMin {
		return errors.Wrapf(ErrInvalidParameters, "interval max %d below min %d", p.IntervalMax, p.IntervalMin)
	}
	if p.PeripheralLatency > 499 {
		return errors.Wrapf(ErrInvalidParameters, "latency %d not in 0-499", p.PeripheralLatency)
	}
	if p.SupervisionTimeout < 10 || p.SupervisionTimeout > 3200 {
		return errors.Wrapf(ErrInvalidParameters, "supervision timeout %d not in 10-3200", p.SupervisionTimeout)
	}

	// 1.25ms units * 2 expressed in 10ms units
	least := (1 + uint32(p.PeripheralLatency)) * uint32(p.IntervalMax) / 4
	if uint32(p.SupervisionTimeout) <= least {
		return errors.Wrapf(ErrInvalidParameters, "supervision timeout %d must exceed %d", p.SupervisionTimeout, least)
	}
	return nil
}

func (p ConnectionParameters) String() string {
	return fmt.Sprintf("interval=%.2f-%.2fms latency=%d timeout=%dms",
		float64(p.IntervalMin)*1.25, float64(p.IntervalMax)*1.25,
		p.PeripheralLatency, uint32(p.SupervisionTimeout)*10)
}

// DecodeSignal splits one signaling command into its header fields and a
// payload aliasing data.
func DecodeSignal(data []byte) (code, identifier uint8, payload []byte, err error) {
	if len(data) < SignalHeaderLen {
		return 0, 0, nil, errors.Wrapf(ErrMalformedSignal, "need %d header bytes, have %d", SignalHeaderLen, len(data))
	}
	n := int(binary.LittleEndian.Uint16(data[2:4]))
	if len(data) < SignalHeaderLen+n {
		return 0, 0, nil, errors.Wrapf(ErrMalformedSignal, "length %d exceeds %d available bytes", n, len(data)-SignalHeaderLen)
	}
	return data[0], data[1], data[SignalHeaderLen : SignalHeaderLen+n], nil
}

func encodeSignal(dst []byte, code, identifier uint8, n int) ([]byte, error) {
	if len(dst) < SignalHeaderLen+n {
		return nil, errors.Wrapf(ErrCapacity, "signal 0x%02X: need %d bytes, have %d", code, SignalHeaderLen+n, len(dst))
	}
	dst[0] = code
	dst[1] = identifier
	binary.LittleEndian.PutUint16(dst[2:4], uint16(n))
	return dst[SignalHeaderLen : SignalHeaderLen+n], nil
}

// EncodeConnectionParameterUpdateRequest writes a request for p into dst.
func EncodeConnectionParameterUpdateRequest(dst []byte, identifier uint8, p ConnectionParameters) (int, error) {
	body, err := encodeSignal(dst, CodeConnectionParameterUpdateRequest, identifier, 8)
	if err != nil {
		return 0, err
	}
	binary.LittleEndian.PutUint16(body[0:2], p.IntervalMin)
	binary.LittleEndian.PutUint16(body[2:4], p.IntervalMax)
	binary.LittleEndian.PutUint16(body[4:6], p.PeripheralLatency)
	binary.LittleEndian.PutUint16(body[6:8], p.SupervisionTimeout)
	return SignalHeaderLen + 8, nil
}

// DecodeConnectionParameterUpdateRequest parses a request. The parameters
// are not validated, so a responder can still reject them.
func DecodeConnectionParameterUpdateRequest(data []byte) (uint8, ConnectionParameters, error) {
	code, id, body, err := DecodeSignal(data)
	if err != nil {
		return 0, ConnectionParameters{}, err
	}
	if code != CodeConnectionParameterUpdateRequest {
		return 0, ConnectionParameters{}, errors.Wrapf(ErrMalformedSignal, "code 0x%02X is not an update request", code)
	}
	if len(body) != 8 {
		return 0, ConnectionParameters{}, errors.Wrapf(ErrMalformedSignal, "update request length %d", len(body))
	}
	return id, ConnectionParameters{
		IntervalMin:        binary.LittleEndian.Uint16(body[0:2]),
		IntervalMax:        binary.LittleEndian.Uint16(body[2:4]),
		PeripheralLatency:  binary.LittleEndian.Uint16(body[4:6]),
		SupervisionTimeout: binary.LittleEndian.Uint16(body[6:8]),
	}, nil
}

// EncodeConnectionParameterUpdateResponse writes a response with result into dst.
func EncodeConnectionParameterUpdateResponse(dst []byte, identifier uint8, result uint16) (int, error) {
	body, err := encodeSignal(dst, CodeConnectionParameterUpdateResponse, identifier, 2)
	if err != nil {
		return 0, err
	}
	binary.LittleEndian.PutUint16(body, result)
	return SignalHeaderLen + 2, nil
}

// DecodeConnectionParameterUpdateResponse parses a response.
func DecodeConnectionParameterUpdateResponse(data []byte) (identifier uint8, result uint16, err error) {
	code, id, body, err := DecodeSignal(data)
	if err != nil {
		return 0, 0, err
	}
	if code != CodeConnectionParameterUpdateResponse {
		return 0, 0, errors.Wrapf(ErrMalformedSignal, "code 0x%02X is not an update response", code)
	}
	if len(body) != 2 {
		return 0, 0, errors.Wrapf(ErrMalformedSignal, "update response length %d", len(body))
	}
	return id, binary.LittleEndian.Uint16(body), nil
}

// EncodeCommandReject writes a Command Reject carrying reason into dst.
func EncodeCommandReject(dst []byte, identifier uint8, reason uint16) (int, error) {
	body, err := encodeSignal(dst, CodeCommandReject, identifier, 2)
	if err != nil {
		return 0, err
	}
	binary.LittleEndian.PutUint16(body, reason)
	return SignalHeaderLen + 2, nil
}

// AnswerSignal writes the central's answer to one LE signaling command
// into dst. Update requests are accepted when their parameters validate
// and rejected otherwise; responses and rejects need no answer (n == 0);
// anything else gets a Command Reject.
func AnswerSignal(data, dst []byte) (n int, err error) {
	code, id, _, err := DecodeSignal(data)
	if err != nil {
		return 0, err
	}
	switch code {
	case CodeConnectionParameterUpdateRequest:
		_, p, err := DecodeConnectionParameterUpdateRequest(data)
		if err != nil {
			return 0, err
		}
		result := ConnectionParameterAccepted
		if p.Validate() != nil {
			result = ConnectionParameterRejected
		}
		return EncodeConnectionParameterUpdateResponse(dst, id, result)
	case CodeConnectionParameterUpdateResponse, CodeCommandReject:
		return 0, nil
	default:
		return EncodeCommandReject(dst, id, ReasonNotUnderstood)
	}
}
