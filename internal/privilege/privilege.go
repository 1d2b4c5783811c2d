// Package privilege is the privilege transition component: the
// one-time MSP-to-PSP, privileged-to-unprivileged drop performed once
// at the end of boot, plus the privileged window a syscall trap
// re-opens for the duration of its handler.
package privilege

import "sync/atomic"

// MPU is the subset of the MPU policy that privilege transitions need
// to keep in sync with the CPU's real privilege level.
type MPU interface {
	SetPrivileged(privileged bool)
}

// Controller tracks whether privileges have been dropped and whether
// the CPU is currently inside a syscall trap (where privileged code
// runs regardless of the dropped state).
type Controller struct {
	dropped     atomic.Bool
	inException atomic.Bool
	mpu         MPU
}

// New returns a Controller starting privileged, matching the CPU's
// reset state.
func New(mpu MPU) *Controller {
	return &Controller{mpu: mpu}
}

// Drop transitions from privileged thread-mode execution to
// unprivileged thread-mode execution. Must be called exactly once per
// boot, from thread mode — enforced here as a panic on a second call,
// since the hardware original panics on the equivalent MSP/stack-mode
// precondition violation.
func (c *Controller) Drop() {
	if !c.dropped.CompareAndSwap(false, true) {
		panic("privilege: Drop called more than once")
	}
	c.mpu.SetPrivileged(false)
}

// EnterException marks entry into the syscall trap handler, during
// which code runs privileged regardless of Drop having been called.
func (c *Controller) EnterException() {
	c.inException.Store(true)
	c.mpu.SetPrivileged(true)
}

// ExitException marks the trap handler's return to whatever privilege
// level Drop had most recently established.
func (c *Controller) ExitException() {
	c.inException.Store(false)
	c.mpu.SetPrivileged(!c.dropped.Load())
}

// IsPrivileged reports whether code is currently running privileged:
// true inside a trap handler, or before Drop has ever been called.
func (c *Controller) IsPrivileged() bool {
	return c.inException.Load() || !c.dropped.Load()
}
