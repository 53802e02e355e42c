package gatt

import (
	"encoding/binary"
	stderrors "errors"

	"github.com/pkg/errors"

	"github.com/user/bluehost/wire/att"
)

// ErrMalformedResponse is returned when a discovery response cannot be parsed
var ErrMalformedResponse = stderrors.New("gatt: malformed discovery response")

// DiscoveredService represents a discovered GATT service
type DiscoveredService struct {
	UUID            UUID
	StartHandle     uint16 // First handle in the service
	EndHandle       uint16 // Last handle in the service
	Characteristics []DiscoveredCharacteristic
}

// DiscoveredCharacteristic represents a discovered GATT characteristic
type DiscoveredCharacteristic struct {
	UUID              UUID
	Properties        uint8
	ValueHandle       uint16
	DeclarationHandle uint16
	Descriptors       []DiscoveredDescriptor
}

// DiscoveredDescriptor represents a discovered descriptor
type DiscoveredDescriptor struct {
	UUID   UUID
	Handle uint16
}

// ParseReadByGroupTypeResponse parses the body of a Read By Group Type
// Response (service discovery), the bytes after the opcode.
// Format: [Length: 1][Data: N * Length], each entry
// [StartHandle: 2][EndHandle: 2][UUID: 2 or 16]
func ParseReadByGroupTypeResponse(data []byte) ([]DiscoveredService, error) {
	if len(data) < 1 {
		return nil, errors.Wrap(ErrMalformedResponse, "read by group type response too short")
	}

	length := int(data[0])
	if length != 6 && length != 20 {
		return nil, errors.Wrapf(ErrMalformedResponse, "service entry length %d", length)
	}
	data = data[1:]
	if len(data) == 0 || len(data)%length != 0 {
		return nil, errors.Wrapf(ErrMalformedResponse, "%d bytes of %d byte service entries", len(data), length)
	}

	services := make([]DiscoveredService, 0, len(data)/length)
	for ; len(data) > 0; data = data[length:] {
		entry := data[:length]
		services = append(services, DiscoveredService{
			StartHandle: binary.LittleEndian.Uint16(entry[0:2]),
			EndHandle:   binary.LittleEndian.Uint16(entry[2:4]),
			UUID:        append(UUID(nil), entry[4:]...),
		})
	}
	return services, nil
}

// ParseReadByTypeResponse parses the body of a Read By Type Response
// carrying characteristic declarations.
// Format: [Length: 1][Data: N * Length], each entry
// [Handle: 2][Properties: 1][ValueHandle: 2][UUID: 2 or 16]
func ParseReadByTypeResponse(data []byte) ([]DiscoveredCharacteristic, error) {
	if len(data) < 1 {
		return nil, errors.Wrap(ErrMalformedResponse, "read by type response too short")
	}

	length := int(data[0])
	if length != 7 && length != 21 {
		return nil, errors.Wrapf(ErrMalformedResponse, "characteristic entry length %d", length)
	}
	data = data[1:]
	if len(data) == 0 || len(data)%length != 0 {
		return nil, errors.Wrapf(ErrMalformedResponse, "%d bytes of %d byte characteristic entries", len(data), length)
	}

	chars := make([]DiscoveredCharacteristic, 0, len(data)/length)
	for ; len(data) > 0; data = data[length:] {
		entry := data[:length]
		chars = append(chars, DiscoveredCharacteristic{
			DeclarationHandle: binary.LittleEndian.Uint16(entry[0:2]),
			Properties:        entry[2],
			ValueHandle:       binary.LittleEndian.Uint16(entry[3:5]),
			UUID:              append(UUID(nil), entry[5:]...),
		})
	}
	return chars, nil
}

// ParseFindInformationResponse parses the body of a Find Information
// Response (descriptor discovery).
// Format 0x01: entries of [Handle: 2][UUID: 2]
// Format 0x02: entries of [Handle: 2][UUID: 16]
func ParseFindInformationResponse(data []byte) ([]DiscoveredDescriptor, error) {
	if len(data) < 1 {
		return nil, errors.Wrap(ErrMalformedResponse, "find information response too short")
	}

	var entrySize int
	switch data[0] {
	case 0x01:
		entrySize = 4
	case 0x02:
		entrySize = 18
	default:
		return nil, errors.Wrapf(ErrMalformedResponse, "find information format 0x%02X", data[0])
	}
	data = data[1:]
	if len(data) == 0 || len(data)%entrySize != 0 {
		return nil, errors.Wrapf(ErrMalformedResponse, "%d bytes of %d byte descriptor entries", len(data), entrySize)
	}

	descs := make([]DiscoveredDescriptor, 0, len(data)/entrySize)
	for ; len(data) > 0; data = data[entrySize:] {
		descs = append(descs, DiscoveredDescriptor{
			Handle: binary.LittleEndian.Uint16(data[0:2]),
			UUID:   append(UUID(nil), data[2:entrySize]...),
		})
	}
	return descs, nil
}

// Discover runs primary service, characteristic and descriptor discovery
// against s the way a client on link b would, one request at a time
// within b's MTU.
func Discover(s *Server, b *Bearer) ([]DiscoveredService, error) {
	var services []DiscoveredService
	err := walk(s, b, 0x0001, 0xFFFF, att.OpReadByGroupTypeRequest, UUIDPrimaryService, func(body []byte) (uint16, error) {
		found, err := ParseReadByGroupTypeResponse(body)
		if err != nil {
			return 0, err
		}
		services = append(services, found...)
		return found[len(found)-1].EndHandle, nil
	})
	if err != nil {
		return nil, err
	}

	for i := range services {
		svc := &services[i]
		err := walk(s, b, svc.StartHandle, svc.EndHandle, att.OpReadByTypeRequest, UUIDCharacteristic, func(body []byte) (uint16, error) {
			found, err := ParseReadByTypeResponse(body)
			if err != nil {
				return 0, err
			}
			svc.Characteristics = append(svc.Characteristics, found...)
			return found[len(found)-1].DeclarationHandle, nil
		})
		if err != nil {
			return nil, err
		}

		for j := range svc.Characteristics {
			char := &svc.Characteristics[j]
			end := svc.EndHandle
			if j+1 < len(svc.Characteristics) {
				end = svc.Characteristics[j+1].DeclarationHandle - 1
			}
			if char.ValueHandle >= end {
				continue
			}
			err := walk(s, b, char.ValueHandle+1, end, att.OpFindInformationRequest, nil, func(body []byte) (uint16, error) {
				found, err := ParseFindInformationResponse(body)
				if err != nil {
					return 0, err
				}
				char.Descriptors = append(char.Descriptors, found...)
				return found[len(found)-1].Handle, nil
			})
			if err != nil {
				return nil, err
			}
		}
	}
	return services, nil
}

// walk repeats a ranged request from start, resuming after the last
// handle each response reports, until the range is exhausted or the
// server answers Attribute Not Found.
func walk(s *Server, b *Bearer, start, end uint16, opcode uint8, typ UUID, parse func(body []byte) (uint16, error)) error {
	for start <= end {
		resp, err := s.Process(b, att.Request{Opcode: opcode, StartHandle: start, EndHandle: end, Type: typ})
		if att.IsATTError(err, att.ErrAttributeNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if len(resp) < 1 || resp[0] != opcode+1 {
			return errors.Wrapf(ErrMalformedResponse, "unexpected response to %s", att.OpcodeName(opcode))
		}

		last, err := parse(resp[1:])
		if err != nil {
			return err
		}
		if last < start || last == 0xFFFF {
			return nil
		}
		start = last + 1
	}
	return nil
}
