package host

import (
	"github.com/user/bluehost/logger"
	"github.com/user/bluehost/wire/att"
)

// Tracer observes the traffic of a GattServer. Byte slices are only valid
// for the duration of the call.
type Tracer interface {
	PacketReceived(conn ConnHandle, pdu []byte)
	PacketSent(conn ConnHandle, frame []byte)
	DecodeFailed(conn ConnHandle, pdu []byte, err error)
	ProcessFailed(conn ConnHandle, req att.Request, err error)
	Dropped(conn ConnHandle, err error)
}

// LogTracer reports through the logger package
type LogTracer struct {
	Prefix string
}

func (t LogTracer) prefix() string {
	if t.Prefix == "" {
		return "gatt"
	}
	return t.Prefix
}

func (t LogTracer) PacketReceived(conn ConnHandle, pdu []byte) {
	logger.Trace(t.prefix(), "rx conn=0x%04X %x", uint16(conn), pdu)
}

func (t LogTracer) PacketSent(conn ConnHandle, frame []byte) {
	logger.Trace(t.prefix(), "tx conn=0x%04X %x", uint16(conn), frame)
}

func (t LogTracer) DecodeFailed(conn ConnHandle, pdu []byte, err error) {
	logger.Warn(t.prefix(), "conn=0x%04X error decoding attribute request %x: %v", uint16(conn), pdu, err)
}

func (t LogTracer) ProcessFailed(conn ConnHandle, req att.Request, err error) {
	logger.Warn(t.prefix(), "conn=0x%04X error processing %s: %v", uint16(conn), req, err)
}

func (t LogTracer) Dropped(conn ConnHandle, err error) {
	logger.Warn(t.prefix(), "conn=0x%04X packet dropped: %v", uint16(conn), err)
}

// Tracers fans every call out to each tracer in order
type Tracers []Tracer

func (ts Tracers) PacketReceived(conn ConnHandle, pdu []byte) {
	for _, t := range ts {
		t.PacketReceived(conn, pdu)
	}
}

func (ts Tracers) PacketSent(conn ConnHandle, frame []byte) {
	for _, t := range ts {
		t.PacketSent(conn, frame)
	}
}

func (ts Tracers) DecodeFailed(conn ConnHandle, pdu []byte, err error) {
	for _, t := range ts {
		t.DecodeFailed(conn, pdu, err)
	}
}

func (ts Tracers) ProcessFailed(conn ConnHandle, req att.Request, err error) {
	for _, t := range ts {
		t.ProcessFailed(conn, req, err)
	}
}

func (ts Tracers) Dropped(conn ConnHandle, err error) {
	for _, t := range ts {
		t.Dropped(conn, err)
	}
}
