package mpull

// regionState is the programmed state of one MPU region.
type regionState struct {
	enabled    bool
	start      uint32
	size       uint32
	writable   bool
	executable bool
}

// HostController simulates the MPU for cmd/cardsim and for tests: a
// plain table of region state plus a software CheckAccess, matching
// ARMv7-M's region-granularity semantics rather than a page table.
type HostController struct {
	privileged bool
	regions    [RegionCount]regionState
}

// NewHostController returns a controller starting in privileged mode,
// matching the CPU's reset state (privileged until C8's Drop is called).
func NewHostController() *HostController {
	return &HostController{privileged: true}
}

func (c *HostController) Setup() {
	for i := range c.regions {
		c.regions[i] = regionState{}
	}
}

func (c *HostController) SetRegion(region Region, start, size uint32, writable, executable bool, subRegionDisable *[8]bool) {
	validateRegionParams(start, size, writable, executable, subRegionDisable)
	c.regions[region] = regionState{
		enabled:    true,
		start:      start,
		size:       size,
		writable:   writable,
		executable: executable,
	}
}

// SetPrivileged flips the simulated privilege level; internal/privilege
// calls it from Drop() (once per boot) to go unprivileged, and from
// EnterException/ExitException around every syscall trap.
func (c *HostController) SetPrivileged(privileged bool) {
	c.privileged = privileged
}

// CheckAccess reports whether the access is permitted. Privileged mode
// is granted full RW access to all memory. Unprivileged, the range must
// lie inside one enabled region, and a write additionally requires that
// region to be writable (SetRegion never lets a region be both writable
// and executable).
func (c *HostController) CheckAccess(addr, n uint32, write bool) bool {
	if c.privileged {
		return true
	}
	end := addr + n
	if end < addr { // overflow
		return false
	}
	for _, r := range c.regions {
		if !r.enabled {
			continue
		}
		if addr < r.start || end > r.start+r.size {
			continue
		}
		if write && !r.writable {
			continue
		}
		return true
	}
	return false
}
