package host

import (
	stderrors "errors"

	"github.com/pkg/errors"

	"github.com/user/bluehost/wire/l2cap"
)

// ErrInvalidConfig is returned by Config.Validate
var ErrInvalidConfig = stderrors.New("host: invalid config")

// MaxConnections is the largest connection count a Config may ask for
const MaxConnections = 64

// Config fixes the sizes of every pool and queue at construction
type Config struct {
	// MaxConnections is the number of connection slots
	MaxConnections int
	// ATTQueueDepth bounds the shared inbound ATT queue
	ATTQueueDepth int
	// OutboundQueueDepth bounds the shared outbound queue
	OutboundQueueDepth int
	// ChannelQueueDepth bounds each per-connection channel queue
	ChannelQueueDepth int
	// Packets is the number of packet buffers
	Packets int
	// PacketSize is the size of each packet buffer, L2CAP header included
	PacketSize int
}

// DefaultConfig returns bounds suited to a handful of links exchanging
// frames that fit one LE data packet.
func DefaultConfig() Config {
	return Config{
		MaxConnections:     4,
		ATTQueueDepth:      8,
		OutboundQueueDepth: 8,
		ChannelQueueDepth:  4,
		Packets:            16,
		PacketSize:         l2cap.HeaderLen + 251,
	}
}

// Validate checks every bound
func (c Config) Validate() error {
	bounds := []struct {
		name  string
		value int
	}{
		{"max connections", c.MaxConnections},
		{"att queue depth", c.ATTQueueDepth},
		{"outbound queue depth", c.OutboundQueueDepth},
		{"channel queue depth", c.ChannelQueueDepth},
		{"packets", c.Packets},
	}
	for _, b := range bounds {
		if b.value < 1 {
			return errors.Wrapf(ErrInvalidConfig, "%s must be at least 1, got %d", b.name, b.value)
		}
	}
	if c.MaxConnections > MaxConnections {
		return errors.Wrapf(ErrInvalidConfig, "max connections %d exceeds %d", c.MaxConnections, MaxConnections)
	}
	if least := l2cap.FrameLen(l2cap.MinMTU); c.PacketSize < least {
		return errors.Wrapf(ErrInvalidConfig, "packet size %d below %d", c.PacketSize, least)
	}
	return nil
}

// maxMTU is the largest ATT MTU whose frames still fit one packet
func (c Config) maxMTU() uint16 {
	n := c.PacketSize - l2cap.HeaderLen
	if n > l2cap.MaxMTU {
		n = l2cap.MaxMTU
	}
	return uint16(n)
}
