// Package kernel is the privileged core's boot sequence: it brings up
// the filesystem, the MPU, the context table, and the syscall
// dispatcher in a fixed order, then drops privileges once and hands
// the running pieces back to the caller.
package kernel

import (
	"fmt"

	"securecore/internal/context"
	"securecore/internal/debug"
	"securecore/internal/flash"
	"securecore/internal/fs"
	"securecore/internal/mpu"
	"securecore/internal/mpull"
	"securecore/internal/privilege"
	"securecore/internal/syscall"
)

// Config describes everything Boot needs to wire a running instance:
// the flash device already opened by the caller, the memory layout
// passed straight through to internal/mpu, the RAM backing array the
// syscall dispatcher reads and writes through, and the context table
// to allocate.
type Config struct {
	Flash        *flash.Flash
	DefragSector fs.SectorID
	AppletSector fs.SectorID

	Layout mpu.Layout

	ProgramBegin, ProgramSize uint32

	// RAM is the flat backing array for every context window, the
	// shared regions, and the syscall dispatcher's read-inplace arena.
	RAM      []byte
	RAMBegin uint32

	// Ctx0Begin/Ctx0Size is context 0's fixed window (the kernel's own
	// running stack and heap); it is not carved out of RAM.
	Ctx0Begin, Ctx0Size uint32

	// Contexts is the full table including context 0 at index 0, in
	// the shape context.AllocateContexts expects.
	Contexts []context.AllocatableContext

	// UnprivilegedSink/PrivilegedSink back the debug console Boot
	// constructs. They are plain io.Writer sinks rather than a
	// ready-made *debug.Console because the console needs to query the
	// privilege.Controller Boot itself creates; Boot wires the three
	// together and the resulting Console is on the returned Kernel.
	UnprivilegedSink debug.Sink
	PrivilegedSink   debug.Sink

	// Reboot is invoked after a successful FsWriteApplet/FsEraseApplet,
	// the point at which a board build would reset the processor.
	// Defaults to a no-op if nil — a host build with no caller-supplied
	// reboot hook simply continues running, which is adequate for tests
	// that only need to observe that the hook would have fired.
	Reboot func()
}

// Kernel bundles every booted component a syscall trap or a host
// driver loop needs to reach.
type Kernel struct {
	Ctx       *context.Manager
	FS        *fs.FileSystem
	Syscalls  *syscall.Dispatcher
	Privilege *privilege.Controller
	Console   *debug.Console
	mpuCtrl   *mpull.HostController
}

// Boot brings up the privileged core: open the filesystem over the
// already-open flash device, program the MPU and switch context 0's
// own window to the full RAM range, allocate and install the context
// table, wire the syscall dispatcher so its fatal conditions funnel
// into Kernel.Fatal, then drop privileges exactly once. Boot never
// runs twice successfully in one process: context.Manager.Init's
// double-call panic makes a second Boot a bug, not a recoverable
// condition.
func Boot(cfg Config) (*Kernel, error) {
	fsys, err := fs.New(cfg.Flash, cfg.Flash.Sectors(), cfg.DefragSector, cfg.AppletSector)
	if err != nil {
		return nil, fmt.Errorf("kernel: filesystem init: %w", err)
	}

	ctrl := mpull.NewHostController()
	policy := mpu.New(ctrl)
	policy.Setup(cfg.Layout)
	policy.SwitchUserland(cfg.RAMBegin, nextPowerOfTwo(uint32(len(cfg.RAM))))

	ctxMgr := context.NewManager(policy, cfg.ProgramBegin, cfg.ProgramSize)
	meta := context.AllocateContexts(cfg.Contexts, cfg.Ctx0Begin, cfg.Ctx0Size, cfg.RAMBegin, uint32(len(cfg.RAM)))
	ctxMgr.Init(meta)

	priv := privilege.New(ctrl)
	console := debug.New(cfg.UnprivilegedSink, cfg.PrivilegedSink, priv)

	disp := syscall.NewDispatcher(ctxMgr, fsys, console, priv, cfg.RAM, cfg.RAMBegin)
	if cfg.Reboot != nil {
		disp.Reboot = cfg.Reboot
	} else {
		disp.Reboot = func() {}
	}

	priv.Drop()

	k := &Kernel{
		Ctx: ctxMgr, FS: fsys, Syscalls: disp, Privilege: priv,
		Console: console, mpuCtrl: ctrl,
	}
	disp.Fatal = k.Fatal

	console.Printf("boot complete: %d contexts, program flash at %#x/%#x", len(meta), cfg.ProgramBegin, cfg.ProgramSize)
	return k, nil
}

// Fatal is the chokepoint every unrecoverable syscall trap-handling
// condition reaches: Boot wires it as the syscall dispatcher's Fatal
// hook, so an unknown syscall number, a denied memory check, or a
// failed applet write all arrive here instead of unwinding out of
// Dispatch. It logs through the debug console and then blocks
// forever; a production board build would instead jump to the board's
// own fault handler and never return either.
func (k *Kernel) Fatal(err error) {
	k.Console.Printf("fatal: %v", err)
	select {}
}

func nextPowerOfTwo(x uint32) uint32 {
	if x == 0 {
		return 0
	}
	p := uint32(1)
	for p < x {
		p <<= 1
	}
	return p
}
