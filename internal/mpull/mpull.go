// Package mpull is the low-level MPU driver: enable the MPU, write
// one region (base/size/permissions/SRD), expressed in ARMv7-M's
// power-of-two MPU region terms.
package mpull

import "fmt"

// MinRegionSize is the smallest region the MPU can protect.
const MinRegionSize = 32

// RegionCount is the number of MPU regions available (ARMv7-M: 8).
const RegionCount = 8

// Region identifies one of the MPU's fixed region slots.
type Region int

// Fixed region assignment: every context sees the same five slots,
// only R6's base/size changes on a context switch.
const (
	RegionApplet    Region = 3 // R3: applet sector, RO, non-exec
	RegionSharedRW  Region = 4 // R4: shared-RW (incl. argbuf), non-exec
	RegionSharedRO  Region = 5 // R5: shared-RO, non-exec
	RegionCurrentRAM Region = 6 // R6: dynamic, current context RAM
	RegionProgram   Region = 7 // R7: program flash, RO, exec
)

// Controller is the hardware-facing MPU contract. A real target
// implements this over the MPU's memory-mapped control registers; the
// host build (HostController in this package) simulates it with
// a region table and software fault checking in place of an actual
// MemManage trap.
type Controller interface {
	// Setup enables the MPU with the default map: privileged mode gets
	// full RW access to all memory; unprivileged mode is denied by
	// default until regions are set.
	Setup()

	// SetRegion programs one region. Panics if size is not a power of
	// two, size < MinRegionSize, start is not size-aligned, or the
	// region would be both writable and executable — a caller that
	// violates any of these has a bug, not recoverable input.
	SetRegion(region Region, start uint32, size uint32, writable, executable bool, subRegionDisable *[8]bool)

	// CheckAccess reports whether addr..addr+n is permitted under the
	// current region map: a software stand-in for a MemManage fault.
	// Syscall argument validation does not call it; it uses
	// internal/context's IsReadable/IsWritable predicates.
	CheckAccess(addr uint32, n uint32, write bool) bool
}

func validateRegionParams(start, size uint32, writable, executable bool, subRegionDisable *[8]bool) {
	if size&(size-1) != 0 {
		panic(fmt.Sprintf("mpull: size %d is not a power of two", size))
	}
	if size < MinRegionSize {
		panic(fmt.Sprintf("mpull: size %d below minimum region size %d", size, MinRegionSize))
	}
	if start&(size-1) != 0 {
		panic(fmt.Sprintf("mpull: start %#x is not %d-aligned", start, size))
	}
	if writable && executable {
		panic("mpull: region cannot be both writable and executable")
	}
	if subRegionDisable != nil && size < 256 {
		panic("mpull: cannot use sub-region disable on regions smaller than 256 bytes")
	}
}
