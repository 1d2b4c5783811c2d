// Package flashll is the low-level flash driver: unlock/lock,
// erase sector, word-aligned write, error polling. It knows nothing of
// sectors' roles (filesystem, applet, defrag, program) — that belongs
// to internal/flash and internal/fs.
package flashll

import "errors"

// SectorInfo describes one physical sector: its index (used for the
// erase instruction), and its absolute byte range.
type SectorInfo struct {
	Num    int
	Start  uint32
	Length uint32
}

// ErrUnknown wraps a nonzero error-status-register value observed
// after a write or erase.
type ErrUnknown struct {
	Bits uint32
}

func (e *ErrUnknown) Error() string {
	return "flashll: device reported error bits"
}

// ErrOutOfBounds is returned when an address falls outside the device.
var ErrOutOfBounds = errors.New("flashll: address out of bounds")

// Device is the hardware-facing contract internal/flash builds on.
// Real hardware would implement this over memory-mapped flash control
// registers; cmd/cardsim implements it over an mmap'd flat file via
// golang.org/x/sys/unix.
type Device interface {
	// Sectors reports the fixed sector layout of the device.
	Sectors() []SectorInfo

	// Unlock enables programming/erase; Lock disables it again. Real
	// NOR flash requires this sequence around any write.
	Unlock()
	Lock()

	// ReadByte and ReadBytes never require Unlock.
	ReadByte(addr uint32) (byte, error)
	ReadBytes(addr uint32, n int) ([]byte, error)

	// WriteByte performs one word-granular program cycle covering addr.
	// NOR flash can only clear bits (1->0): the byte ends up as the AND
	// of its previous value and b, and a bit that reads 0 stays 0.
	WriteByte(addr uint32, b byte) error

	// Erase restores every byte of the sector to 0xFF.
	Erase(sector int) error

	// Sync busy-waits until any in-flight program/erase completes by
	// polling the hardware busy bit.
	Sync() error
}
