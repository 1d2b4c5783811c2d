// Command cardsim is the host-side emulator for the privileged core:
// it boots internal/kernel over a flat flash-image file and drives a
// small demonstration remote-call chain across the context table,
// logging every step through the privilege-aware debug console. It
// does not implement a CPU fetch-decode-execute loop, since this
// module has no instruction set of its own to interpret — it is the
// privileged runtime a real core's firmware would link against.
package main

import (
	"flag"
	"fmt"
	"os"

	"golang.org/x/term"

	"securecore/internal/context"
	"securecore/internal/debug"
	"securecore/internal/flash"
	"securecore/internal/flashll"
	"securecore/internal/fs"
	"securecore/internal/kernel"
	"securecore/internal/mpu"
	"securecore/internal/syscall"
)

const version = "1.0.0"

var (
	imagePath   = flag.String("image", "cardsim.img", "Path to the flash image file")
	sectorSize  = flag.Uint("sector-size", 4096, "Bytes per flash sector")
	sectors     = flag.Uint("sectors", 8, "Number of flash sectors (minimum 4: at least one data sector, one defrag sector, one applet sector)")
	trace       = flag.Bool("trace", false, "Enable the debug console (already enabled by default, so remote calls and results are logged with or without this flag)")
	showVersion = flag.Bool("version", false, "Show version and exit")
)

var savedTermState *term.State

func setupTerminal() error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil
	}
	state, err := term.GetState(int(os.Stdin.Fd()))
	if err != nil {
		return fmt.Errorf("failed to get terminal state: %w", err)
	}
	savedTermState = state
	if _, err := term.MakeRaw(int(os.Stdin.Fd())); err != nil {
		return fmt.Errorf("failed to set raw mode: %w", err)
	}
	return nil
}

func restoreTerminal() {
	if savedTermState != nil && term.IsTerminal(int(os.Stdin.Fd())) {
		term.Restore(int(os.Stdin.Fd()), savedTermState)
	}
}

// kern is set once by main after Boot returns; the demonstration
// context entry points close over it to issue nested remote calls.
var kern *kernel.Kernel

// remoteCall drives one full RemoteCall/RemoteResult round trip: issue
// the trap, run the target's registered entry point directly (this
// build's host-simulation substitute for a second machine stack — see
// internal/context's package doc), then deliver the result via the
// RemoteResult trap so internal/context's Push/Pop bookkeeping and
// internal/syscall's dispatcher both see the exact two-step protocol a
// real target would.
func remoteCall(target int, arg1, arg2 uint32) uint32 {
	caller := kern.Ctx.Current()
	kern.Syscalls.Dispatch(syscall.RemoteCall, uint32(target), arg1, arg2)
	entry := kern.Ctx.RemoteCallEnterFor(context.ID(target))
	result := entry(caller, arg1, arg2)
	return kern.Syscalls.Dispatch(syscall.RemoteResult, result, 0, 0)
}

func demoContexts() []context.AllocatableContext {
	return []context.AllocatableContext{
		{Entrypoint: func(caller context.ID, _, _ uint32) uint32 {
			kern.Console.Printf("remote call to ctx 0 from %d", caller)
			return 0
		}},
		{Entrypoint: func(caller context.ID, _, _ uint32) uint32 {
			kern.Console.Printf("remote call to ctx 1 from %d", caller)
			return 42
		}},
		{Entrypoint: func(caller context.ID, _, _ uint32) uint32 {
			kern.Console.Printf("remote call to ctx 2 from %d", caller)
			return remoteCall(1, 0, 0) + remoteCall(1, 0, 0)
		}},
		{Entrypoint: func(caller context.ID, x, _ uint32) uint32 {
			kern.Console.Printf("remote call to ctx 3 from %d, x=%d", caller, x)
			if x > 1 {
				return x * remoteCall(3, x-1, 0)
			}
			return 1
		}},
	}
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("cardsim v%s\n", version)
		os.Exit(0)
	}
	if *sectors < 4 {
		fmt.Fprintln(os.Stderr, "cardsim: -sectors must be at least 4")
		os.Exit(1)
	}

	infos := make([]flashll.SectorInfo, *sectors)
	for i := range infos {
		infos[i] = flashll.SectorInfo{Num: i, Start: uint32(i) * uint32(*sectorSize), Length: uint32(*sectorSize)}
	}
	dev, err := flashll.OpenHostDevice(*imagePath, infos)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cardsim: %v\n", err)
		os.Exit(1)
	}
	defer dev.Close()

	fl, err := flash.New(dev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cardsim: %v\n", err)
		os.Exit(1)
	}
	defer fl.Release()

	if err := setupTerminal(); err != nil {
		fmt.Fprintf(os.Stderr, "cardsim: %v\n", err)
		os.Exit(1)
	}
	defer restoreTerminal()

	defragSector := fs.SectorID(*sectors - 2)
	appletSector := fs.SectorID(*sectors - 1)
	ramSize := uint32(1) << 16
	ram := make([]byte, ramSize)

	cfg := kernel.Config{
		Flash:        fl,
		DefragSector: defragSector,
		AppletSector: appletSector,
		Layout: mpu.Layout{
			AppletStart: 0, AppletSize: *sectorSize / 4,
			SharedRWStart: *sectorSize / 4, SharedRWSize: *sectorSize / 4,
			SharedROStart: *sectorSize / 2, SharedROSize: *sectorSize / 4,
			ProgramStart: 0x8000000, ProgramSize: 0x40000,
		},
		ProgramBegin:     0x8000000,
		ProgramSize:      0x40000,
		RAM:              ram,
		RAMBegin:         0x20000000,
		Ctx0Begin:        0x20000000,
		Ctx0Size:         0x2000,
		Contexts:         demoContexts(),
		UnprivilegedSink: os.Stdout,
		PrivilegedSink:   os.Stderr,
	}
	k, err := kernel.Boot(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cardsim: boot failed: %v\n", err)
		os.Exit(1)
	}
	kern = k

	if *trace {
		debug.Enable()
	}

	kern.Console.Printf("cardsim ready: %d sectors of %d bytes at %s", *sectors, *sectorSize, *imagePath)
	result := remoteCall(1, 0, 0)
	kern.Console.Printf("remote call to ctx 1 returned %d", result)
	result = remoteCall(2, 0, 0)
	kern.Console.Printf("remote call to ctx 2 returned %d", result)
	result = remoteCall(3, 6, 0)
	kern.Console.Printf("6! via ctx 3 = %d", result)
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "cardsim boots the privileged core runtime over a flash-image file\nand runs a small demonstration remote-call chain across its context table.\n\n")
	fmt.Fprintf(os.Stderr, "Options:\n")
	flag.PrintDefaults()
}
