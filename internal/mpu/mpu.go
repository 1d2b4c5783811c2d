// Package mpu is the MPU region policy: the fixed assignment of
// regions R3/R4/R5/R7 plus the dynamic R6 window that tracks whichever
// context currently owns the CPU. Built on top of internal/mpull's
// raw per-region programming.
package mpu

import "securecore/internal/mpull"

// Layout fixes the boot-time memory map the policy programs into the
// static regions.
type Layout struct {
	AppletStart, AppletSize       uint32
	SharedRWStart, SharedRWSize   uint32
	SharedROStart, SharedROSize   uint32
	ProgramStart, ProgramSize     uint32
}

// Policy owns the region assignment atop a raw mpull.Controller.
type Policy struct {
	ctrl mpull.Controller
}

// New wraps ctrl with the fixed region policy.
func New(ctrl mpull.Controller) *Policy {
	return &Policy{ctrl: ctrl}
}

// Setup enables the MPU and programs every static region. R6 (the
// dynamic current-context window) is left disabled until the first
// SwitchUserland call.
func (p *Policy) Setup(layout Layout) {
	p.ctrl.Setup()
	p.ctrl.SetRegion(mpull.RegionApplet, layout.AppletStart, layout.AppletSize, false, false, nil)
	p.ctrl.SetRegion(mpull.RegionSharedRW, layout.SharedRWStart, layout.SharedRWSize, true, false, nil)
	p.ctrl.SetRegion(mpull.RegionSharedRO, layout.SharedROStart, layout.SharedROSize, false, false, nil)
	p.ctrl.SetRegion(mpull.RegionProgram, layout.ProgramStart, layout.ProgramSize, false, true, nil)
}

// SwitchUserland reprograms only R6, to the RAM window
// [begin, begin+size) of the context about to run.
func (p *Policy) SwitchUserland(begin, size uint32) {
	p.ctrl.SetRegion(mpull.RegionCurrentRAM, begin, size, true, false, nil)
}

// CheckAccess exposes the underlying controller's access check, used
// by host-build instrumentation that wants to cross-validate the
// context package's software predicate against the hardware-style MPU
// state.
func (p *Policy) CheckAccess(addr, n uint32, write bool) bool {
	return p.ctrl.CheckAccess(addr, n, write)
}
