package scan

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = stderrors.New("scan: invalid config")

// Scan interval and window limits (0x0004 to 0xFFFF units of 625us)
const (
	MinScanInterval = 2500 * time.Microsecond
	MaxScanInterval = 40959375 * time.Microsecond
)

// PhySet selects the PHYs to scan on
type PhySet uint8

const (
	PhyM1        PhySet = 1 // 1Mbps
	PhyM2        PhySet = 2 // 2Mbps
	PhyM1M2      PhySet = 3
	PhyCoded     PhySet = 4 // 125kbps, S=8
	PhyM1Coded   PhySet = 5
	PhyM2Coded   PhySet = 6
	PhyM1M2Coded PhySet = 7
)

// Has reports whether every PHY in other is part of p
func (p PhySet) Has(other PhySet) bool {
	return p&other == other
}

// Valid reports whether p names at least one known PHY and nothing else
func (p PhySet) Valid() bool {
	return p >= PhyM1 && p <= PhyM1M2Coded
}

func (p PhySet) String() string {
	switch p {
	case PhyM1:
		return "1M"
	case PhyM2:
		return "2M"
	case PhyM1M2:
		return "1M+2M"
	case PhyCoded:
		return "Coded"
	case PhyM1Coded:
		return "1M+Coded"
	case PhyM2Coded:
		return "2M+Coded"
	case PhyM1M2Coded:
		return "1M+2M+Coded"
	default:
		return fmt.Sprintf("PhySet(%d)", uint8(p))
	}
}

// FilterEntry is one address on the filter accept list
type FilterEntry struct {
	Kind AddrKind
	Addr Addr
}

// Config describes a scan procedure
type Config struct {
	// Active scanning sends scan requests
	Active bool
	// FilterAcceptList restricts reports to these addresses when non-empty
	FilterAcceptList []FilterEntry
	PHYs             PhySet
	Interval         time.Duration
	Window           time.Duration
	// Timeout of zero scans until cancelled
	Timeout time.Duration
}

// DefaultConfig returns an active 1M scan with a 1s interval and window
func DefaultConfig() Config {
	return Config{
		Active:   true,
		PHYs:     PhyM1,
		Interval: time.Second,
		Window:   time.Second,
	}
}

// Validate checks the configuration against controller limits
func (c Config) Validate() error {
	if !c.PHYs.Valid() {
		return errors.Wrapf(ErrInvalidConfig, "phy set %d", uint8(c.PHYs))
	}
	if c.Interval < MinScanInterval || c.Interval > MaxScanInterval {
		return errors.Wrapf(ErrInvalidConfig, "interval %v outside [%v, %v]", c.Interval, MinScanInterval, MaxScanInterval)
	}
	if c.Window < MinScanInterval || c.Window > MaxScanInterval {
		return errors.Wrapf(ErrInvalidConfig, "window %v outside [%v, %v]", c.Window, MinScanInterval, MaxScanInterval)
	}
	if c.Window > c.Interval {
		return errors.Wrapf(ErrInvalidConfig, "window %v exceeds interval %v", c.Window, c.Interval)
	}
	if c.Timeout < 0 {
		return errors.Wrapf(ErrInvalidConfig, "negative timeout %v", c.Timeout)
	}
	return nil
}

// Accepts reports whether a report from addr passes the filter accept list
func (c Config) Accepts(kind AddrKind, addr Addr) bool {
	if len(c.FilterAcceptList) == 0 {
		return true
	}
	for _, e := range c.FilterAcceptList {
		if e.Kind == kind && e.Addr == addr {
			return true
		}
	}
	return false
}
