package debug

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/user/bluehost/host"
	"github.com/user/bluehost/logger"
	"github.com/user/bluehost/util"
	"github.com/user/bluehost/wire/att"
	"github.com/user/bluehost/wire/gatt"
	"github.com/user/bluehost/wire/l2cap"
)

// Trace files, one JSON record per line
const (
	L2CAPFile  = "l2cap_packets.jsonl"
	ATTFile    = "att_packets.jsonl"
	ErrorsFile = "errors.jsonl"
)

// Tracer writes human-readable JSONL traces of the packets a GATT server
// handles. These files are WRITE-ONLY and never read by production code.
type Tracer struct {
	instance string
	traceDir string
	enabled  bool
	mu       sync.Mutex
}

var _ host.Tracer = (*Tracer)(nil)

// NewTracer creates a tracer writing under the trace directory of instance
func NewTracer(instance string, enabled bool) *Tracer {
	if !enabled {
		return &Tracer{enabled: false}
	}

	traceDir := util.GetTraceDir(instance)
	if err := os.MkdirAll(traceDir, 0755); err != nil {
		logger.Warn("debug", "trace directory %s: %v", traceDir, err)
		return &Tracer{enabled: false}
	}

	return &Tracer{
		instance: instance,
		traceDir: traceDir,
		enabled:  true,
	}
}

// Dir returns the directory the trace files are written to
func (d *Tracer) Dir() string {
	return d.traceDir
}

// PacketReceived logs an inbound ATT PDU to att_packets.jsonl
func (d *Tracer) PacketReceived(conn host.ConnHandle, pdu []byte) {
	if !d.enabled {
		return
	}

	fields := map[string]interface{}{
		"direction": "rx",
		"conn":      connString(conn),
		"raw_hex":   hex.EncodeToString(pdu),
	}
	if req, err := att.Decode(pdu); err == nil {
		for k, v := range requestFields(req) {
			fields[k] = v
		}
	} else if len(pdu) > 0 {
		fields["opcode"] = fmt.Sprintf("0x%02X", pdu[0])
		fields["opcode_name"] = att.OpcodeName(pdu[0])
	}
	d.append(ATTFile, fields)
}

// PacketSent logs an outbound frame to l2cap_packets.jsonl and its ATT
// payload to att_packets.jsonl
func (d *Tracer) PacketSent(conn host.ConnHandle, frame []byte) {
	if !d.enabled {
		return
	}

	p, err := l2cap.Decode(frame)
	if err != nil {
		d.append(ErrorsFile, map[string]interface{}{
			"kind":    "bad_frame",
			"conn":    connString(conn),
			"error":   err.Error(),
			"raw_hex": hex.EncodeToString(frame),
		})
		return
	}

	d.append(L2CAPFile, map[string]interface{}{
		"direction":    "tx",
		"conn":         connString(conn),
		"channel_id":   fmt.Sprintf("0x%04X", p.ChannelID),
		"channel_name": l2cap.ChannelName(p.ChannelID),
		"payload_len":  len(p.Payload),
		"payload_hex":  hex.EncodeToString(p.Payload),
	})
	if p.ChannelID == l2cap.ChannelATT && len(p.Payload) > 0 {
		d.append(ATTFile, responseFields(conn, p.Payload))
	}
}

// DecodeFailed logs a PDU that could not be decoded
func (d *Tracer) DecodeFailed(conn host.ConnHandle, pdu []byte, err error) {
	if !d.enabled {
		return
	}
	d.append(ErrorsFile, map[string]interface{}{
		"kind":    "decode",
		"conn":    connString(conn),
		"error":   err.Error(),
		"raw_hex": hex.EncodeToString(pdu),
	})
}

// ProcessFailed logs a request the server refused
func (d *Tracer) ProcessFailed(conn host.ConnHandle, req att.Request, err error) {
	if !d.enabled {
		return
	}
	fields := requestFields(req)
	fields["kind"] = "process"
	fields["conn"] = connString(conn)
	fields["error"] = err.Error()
	if code := att.GetErrorCode(err); code != 0 {
		fields["error_code"] = fmt.Sprintf("0x%02X", code)
		fields["error_name"] = att.ErrorNames[code]
	}
	d.append(ErrorsFile, fields)
}

// Dropped logs a packet discarded without processing
func (d *Tracer) Dropped(conn host.ConnHandle, err error) {
	if !d.enabled {
		return
	}
	d.append(ErrorsFile, map[string]interface{}{
		"kind":  "dropped",
		"conn":  connString(conn),
		"error": err.Error(),
	})
}

// DescribeRequest renders a decoded request as a protobuf Struct
func DescribeRequest(req att.Request) (*structpb.Struct, error) {
	return structpb.NewStruct(requestFields(req))
}

func (d *Tracer) append(filename string, fields map[string]interface{}) {
	fields["timestamp"] = time.Now().Format(time.RFC3339Nano)
	record, err := structpb.NewStruct(fields)
	if err != nil {
		logger.Warn("debug", "trace record: %v", err)
		return
	}
	line, err := protojson.Marshal(record)
	if err != nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(d.traceDir, filename), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return // best effort
	}
	defer f.Close()

	f.Write(append(line, '\n'))
}

func connString(conn host.ConnHandle) string {
	return fmt.Sprintf("0x%04X", uint16(conn))
}

func handleString(h uint16) string {
	return fmt.Sprintf("0x%04X", h)
}

// requestFields extracts the operands of a request by opcode
func requestFields(req att.Request) map[string]interface{} {
	data := map[string]interface{}{
		"opcode":      fmt.Sprintf("0x%02X", req.Opcode),
		"opcode_name": att.OpcodeName(req.Opcode),
	}

	switch req.Opcode {
	case att.OpExchangeMTURequest:
		data["client_rx_mtu"] = int(req.MTU)

	case att.OpFindInformationRequest:
		data["start_handle"] = handleString(req.StartHandle)
		data["end_handle"] = handleString(req.EndHandle)

	case att.OpFindByTypeValueRequest:
		data["start_handle"] = handleString(req.StartHandle)
		data["end_handle"] = handleString(req.EndHandle)
		data["attribute_type"] = gatt.UUID16(req.AttrType).String()
		data["value_hex"] = hex.EncodeToString(req.Value)

	case att.OpReadByTypeRequest, att.OpReadByGroupTypeRequest:
		data["start_handle"] = handleString(req.StartHandle)
		data["end_handle"] = handleString(req.EndHandle)
		data["type"] = gatt.UUID(req.Type).String()

	case att.OpReadRequest:
		data["handle"] = handleString(req.Handle)

	case att.OpReadBlobRequest:
		data["handle"] = handleString(req.Handle)
		data["offset"] = int(req.Offset)

	case att.OpReadMultipleRequest:
		handles := make([]interface{}, req.NumHandles())
		for i := range handles {
			handles[i] = handleString(req.HandleAt(i))
		}
		data["handles"] = handles

	case att.OpWriteRequest, att.OpWriteCommand:
		data["handle"] = handleString(req.Handle)
		data["value_len"] = len(req.Value)
		data["value_hex"] = hex.EncodeToString(req.Value)

	case att.OpPrepareWriteRequest:
		data["handle"] = handleString(req.Handle)
		data["offset"] = int(req.Offset)
		data["value_len"] = len(req.Value)
		data["value_hex"] = hex.EncodeToString(req.Value)

	case att.OpExecuteWriteRequest:
		data["flags"] = int(req.Flags)
	}

	return data
}

// responseFields describes an outbound ATT payload
func responseFields(conn host.ConnHandle, payload []byte) map[string]interface{} {
	data := map[string]interface{}{
		"direction":   "tx",
		"conn":        connString(conn),
		"opcode":      fmt.Sprintf("0x%02X", payload[0]),
		"opcode_name": att.OpcodeName(payload[0]),
		"raw_hex":     hex.EncodeToString(payload),
	}

	switch payload[0] {
	case att.OpErrorResponse:
		if len(payload) == 5 {
			data["request_opcode"] = fmt.Sprintf("0x%02X", payload[1])
			data["request_opcode_name"] = att.OpcodeName(payload[1])
			data["handle"] = handleString(uint16(payload[2]) | uint16(payload[3])<<8)
			data["error_code"] = fmt.Sprintf("0x%02X", payload[4])
			data["error_name"] = att.ErrorNames[payload[4]]
		}

	case att.OpExchangeMTUResponse:
		if len(payload) == 3 {
			data["server_rx_mtu"] = int(uint16(payload[1]) | uint16(payload[2])<<8)
		}

	case att.OpHandleValueNotification, att.OpHandleValueIndication:
		if len(payload) >= 3 {
			data["handle"] = handleString(uint16(payload[1]) | uint16(payload[2])<<8)
			data["value_len"] = len(payload) - 3
		}
	}

	return data
}
