package lock

import (
	"fmt"
	"strings"
	"time"
)

// Mode is a lock mode. The numeric values match the CCAPI cc_lock_* constants
// and travel over the wire.
type Mode uint32

const (
	// ModeRead is a shared lock; any number of readers may hold it together.
	ModeRead Mode = iota

	// ModeWrite is an exclusive lock.
	ModeWrite

	// ModeUpgrade converts the requester's read lock into an exclusive lock
	// once it is the only reader.
	ModeUpgrade

	// ModeDowngrade converts the requester's exclusive lock into a shared one.
	ModeDowngrade
)

// String returns a human-readable name for the mode.
func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	case ModeUpgrade:
		return "upgrade"
	case ModeDowngrade:
		return "downgrade"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(m))
	}
}

// Valid reports whether m is one of the four recognized modes.
func (m Mode) Valid() bool {
	return m <= ModeDowngrade
}

// IsRead reports whether a lock of mode m is shared (Read or Downgrade).
func (m Mode) IsRead() bool {
	return m == ModeRead || m == ModeDowngrade
}

// IsWrite reports whether a lock of mode m is exclusive (Write or Upgrade).
func (m Mode) IsWrite() bool {
	return m == ModeWrite || m == ModeUpgrade
}

// ParseMode parses a mode name as printed by String.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "read":
		return ModeRead, nil
	case "write":
		return ModeWrite, nil
	case "upgrade":
		return ModeUpgrade, nil
	case "downgrade":
		return ModeDowngrade, nil
	default:
		return 0, fmt.Errorf("unknown lock mode %q", s)
	}
}

// Info is a point-in-time description of a lock, used by snapshots.
type Info struct {
	ID      string
	Object  string
	Mode    Mode
	Pending bool
	Client  string
	Since   time.Time
}
