// Package syscall is the syscall dispatcher and table: the single
// entry point privileged code calls on every trap, argument
// validation against the current context's memory window, and the
// fixed, ABI-numbered table of 18 handlers.
//
// Handlers operate on a flat simulated address space (Dispatcher.ram)
// rather than real pointers, the host-build counterpart of the
// target's single physical RAM: context windows, the shared regions,
// and the read-inplace arena are all sub-ranges of it, addressed the
// same way a real MCU's linker script would lay them out.
package syscall

import (
	"encoding/binary"
	"errors"
	"fmt"

	"securecore/internal/context"
	"securecore/internal/debug"
	"securecore/internal/filename"
	"securecore/internal/flash"
	"securecore/internal/fs"
)

// Number is one of the 18 ABI-fixed syscall numbers. These must never
// be renumbered; RemoteResult = 1 is additionally hardcoded in the
// cross-context return stub.
type Number int

const (
	RemoteCall Number = iota
	RemoteResult
	Test
	UsartOutput
	FsExists
	FsRead
	FsReadInplace
	FsWrite
	FsErase
	FsRead1b
	FsRead2b
	FsRead4b
	FsLength
	FsWriteApplet
	FsEraseApplet
	FsWrite1b
	FsWrite2b
	FsWrite4b
	numSyscalls
)

// FromInt validates a raw trap argument against the table.
func FromInt(n int) (Number, bool) {
	if n < 0 || n >= int(numSyscalls) {
		return 0, false
	}
	return Number(n), true
}

// handlerFunc is a table entry. The bool return reports whether the
// dispatcher should overwrite the caller's return-value register:
// false means no — used by RemoteCall, whose effect is a context
// switch rather than a value, and by FsWriteApplet/FsEraseApplet,
// which end in Reboot. RemoteResult returns true: the value it
// delivers is the result of the RemoteCall it completes.
type handlerFunc func(d *Dispatcher, arg1, arg2, arg3 uint32) (uint32, bool)

var table = [numSyscalls]handlerFunc{
	RemoteCall:    sysRemoteCall,
	RemoteResult:  sysRemoteResult,
	Test:          sysTest,
	UsartOutput:   sysUsartOutput,
	FsExists:      sysFsExists,
	FsRead:        sysFsRead,
	FsReadInplace: sysFsReadInplace,
	FsWrite:       sysFsWrite,
	FsErase:       sysFsErase,
	FsRead1b:      sysFsRead1bAt,
	FsRead2b:      sysFsRead2bAt,
	FsRead4b:      sysFsRead4bAt,
	FsLength:      sysFsLength,
	FsWriteApplet: sysFsWriteApplet,
	FsEraseApplet: sysFsEraseApplet,
	FsWrite1b:     sysFsWrite1bAt,
	FsWrite2b:     sysFsWrite2bAt,
	FsWrite4b:     sysFsWrite4bAt,
}

// Privilege is the subset of internal/privilege's Controller the
// dispatcher needs to open a privileged window for the duration of a
// trap.
type Privilege interface {
	EnterException()
	ExitException()
}

const inplaceArenaSize = 4096

// Dispatcher is the single entry point for every syscall trap.
type Dispatcher struct {
	Ctx     *context.Manager
	FS      *fs.FileSystem
	Console *debug.Console
	Priv    Privilege
	Reboot  func()

	// Fatal, when set, turns a handler panic (an invalid syscall
	// number, a denied memory or filename check, a failed applet
	// write) into a call to Fatal(err) instead of letting it unwind
	// past Dispatch, so every unrecoverable trap-handling condition
	// funnels through one place. Left nil, Dispatch panics as usual;
	// that is what this package's own tests rely on.
	Fatal func(error)

	ram     []byte
	ramBase uint32

	inplace     []byte
	inplaceBase uint32
	inplaceOff  int
}

// NewDispatcher wires a dispatcher over a flat RAM region
// [ramBase, ramBase+len(ram)). A fixed-size slab at the end of ram is
// reserved for the FsReadInplace arena.
func NewDispatcher(ctx *context.Manager, fsys *fs.FileSystem, console *debug.Console, priv Privilege, ram []byte, ramBase uint32) *Dispatcher {
	if len(ram) <= inplaceArenaSize {
		panic("syscall: ram region too small to reserve an inplace arena")
	}
	split := len(ram) - inplaceArenaSize
	return &Dispatcher{
		Ctx: ctx, FS: fsys, Console: console, Priv: priv,
		ram: ram[:split], ramBase: ramBase,
		inplace: ram[split:], inplaceBase: ramBase + uint32(split),
	}
}

// Dispatch runs the handler for num in a privileged window: open the
// window, look up the handler, run it, close the window again. If
// Fatal is set, a handler panic is recovered and handed to Fatal
// instead of propagating past Dispatch.
func (d *Dispatcher) Dispatch(num Number, arg1, arg2, arg3 uint32) (result uint32) {
	d.Priv.EnterException()
	defer d.Priv.ExitException()

	if d.Fatal != nil {
		defer func() {
			if r := recover(); r != nil {
				d.Fatal(fmt.Errorf("syscall: %v", r))
			}
		}()
	}

	handler := table[num]
	if handler == nil {
		panic(fmt.Sprintf("syscall: invalid syscall number %d", num))
	}
	res, deliver := handler(d, arg1, arg2, arg3)
	if !deliver {
		return 0
	}
	return res
}

func (d *Dispatcher) bytes(addr, n uint32) []byte {
	off := addr - d.ramBase
	return d.ram[off : off+n]
}

func (d *Dispatcher) writeU32(addr, v uint32) {
	binary.LittleEndian.PutUint32(d.bytes(addr, 4), v)
}

func (d *Dispatcher) readU16(addr uint32) uint16 { return binary.LittleEndian.Uint16(d.bytes(addr, 2)) }
func (d *Dispatcher) writeU16(addr uint32, v uint16) {
	binary.LittleEndian.PutUint16(d.bytes(addr, 2), v)
}

// retrieveTag reads the `[taglen:u8][bytes;<=32]` buffer at tagaddr,
// asserting readability and the taglen<32 ABI invariant.
func (d *Dispatcher) retrieveTag(tagaddr uint32) []byte {
	if !d.Ctx.IsReadable(tagaddr, 33) {
		panic("syscall: tag buffer not readable from current context")
	}
	buf := d.bytes(tagaddr, 33)
	if buf[0] >= filename.MaxTagLen {
		panic("syscall: tag length must be < 32")
	}
	return buf[1 : 1+int(buf[0])]
}

// PassTag builds the `[taglen:u8][bytes]` wire buffer a caller writes
// into shared memory before trapping.
func PassTag(tag []byte) [33]byte {
	var out [33]byte
	out[0] = byte(len(tag))
	copy(out[1:], tag)
	return out
}

func (d *Dispatcher) storeInplace(data []byte) uint32 {
	if d.inplaceOff+len(data) > len(d.inplace) {
		d.inplaceOff = 0
	}
	off := d.inplaceOff
	copy(d.inplace[off:], data)
	d.inplaceOff += len(data)
	return d.inplaceBase + uint32(off)
}

// resetInplace invalidates every outstanding FsReadInplace pointer:
// the arena is reused from the start on the next read, so any address
// handed out before an applet install or erase must not be trusted
// afterward.
func (d *Dispatcher) resetInplace() { d.inplaceOff = 0 }

// flashErrorCode packs a flash-layer error into the high-bit-tagged
// wire format callers expect from a failed flash-backed syscall.
func flashErrorCode(err error) uint32 {
	switch {
	case errors.Is(err, flash.ErrLocked):
		return 0x40000000 | 1
	case errors.Is(err, flash.ErrOutOfBounds):
		return 0x40000000 | 2
	}
	var ue *flash.UnknownError
	if errors.As(err, &ue) {
		return 0x40000000 | (^uint32(0xF0000000) & ue.Bits)
	}
	return 0x40000000
}

// fsErrorCode packs an fs-layer error into its own high-bit-tagged
// wire format. An IO error wrapping a flash error keeps the flash
// error's 0x40000000 tag and ORs 0x80000000 on top of it rather than
// replacing the tag — a caller can see both layers in one code.
func fsErrorCode(err error) uint32 {
	switch {
	case errors.Is(err, fs.ErrOutOfFlash):
		return 0x80000000 | 1
	case errors.Is(err, fs.ErrNoSuchTag):
		return 0x80000000 | 2
	case errors.Is(err, fs.ErrInvalidLengthForTag):
		return 0x80000000 | 3
	}
	var ioe *fs.IOError
	if errors.As(err, &ioe) {
		return 0x80000000 | flashErrorCode(ioe.Err)
	}
	return 0x80000000
}

func sysRemoteCall(d *Dispatcher, arg1, arg2, arg3 uint32) (uint32, bool) {
	target := context.ID(arg1)
	d.Ctx.Push(target)
	return 0, false
}

func sysRemoteResult(d *Dispatcher, arg1, arg2, arg3 uint32) (uint32, bool) {
	d.Ctx.Pop()
	return arg1, true
}

func sysTest(d *Dispatcher, arg1, arg2, arg3 uint32) (uint32, bool) {
	return 42, true
}

func sysUsartOutput(d *Dispatcher, arg1, arg2, arg3 uint32) (uint32, bool) {
	ptr, length := arg1, arg2
	if !d.Ctx.IsReadable(ptr, length) {
		panic("syscall: usart output buffer not readable from current context")
	}
	d.Console.Printf("%s", string(d.bytes(ptr, length)))
	return 0, true
}

func sysFsExists(d *Dispatcher, arg1, arg2, arg3 uint32) (uint32, bool) {
	ptr, length := arg1, arg2
	if !d.Ctx.IsReadable(ptr, length) {
		panic("syscall: tag buffer not readable from current context")
	}
	tag := d.bytes(ptr, length)
	if !filename.CanRead(int(d.Ctx.Current()), tag) {
		panic("syscall: filename policy denied read")
	}
	if d.FS.HasTag(tag) {
		return 1, true
	}
	return 0, true
}

func sysFsRead(d *Dispatcher, tagaddr, bufptr, buflen uint32) (uint32, bool) {
	if !d.Ctx.IsWritable(bufptr, buflen) {
		panic("syscall: read buffer not writable from current context")
	}
	tag := d.retrieveTag(tagaddr)
	if !filename.CanRead(int(d.Ctx.Current()), tag) {
		panic("syscall: filename policy denied read")
	}
	data, err := d.FS.Read(tag)
	if err != nil {
		return fsErrorCode(err), true
	}
	n := len(data)
	if uint32(n) > buflen {
		n = int(buflen)
	}
	copy(d.bytes(bufptr, buflen)[:n], data[:n])
	return 0, true
}

func sysFsReadInplace(d *Dispatcher, tagaddr, dataptrret, datalenret uint32) (uint32, bool) {
	if !d.Ctx.IsWritable(dataptrret, 4) || !d.Ctx.IsWritable(datalenret, 4) {
		panic("syscall: read-inplace out params not writable from current context")
	}
	tag := d.retrieveTag(tagaddr)
	if !filename.CanRead(int(d.Ctx.Current()), tag) {
		panic("syscall: filename policy denied read")
	}
	data, err := d.FS.Read(tag)
	if err != nil {
		return fsErrorCode(err), true
	}
	addr := d.storeInplace(data)
	d.writeU32(dataptrret, addr)
	d.writeU32(datalenret, uint32(len(data)))
	return 0, true
}

func sysFsWrite(d *Dispatcher, tagaddr, bufptr, buflen uint32) (uint32, bool) {
	if !d.Ctx.IsReadable(bufptr, buflen) {
		panic("syscall: write buffer not readable from current context")
	}
	tag := d.retrieveTag(tagaddr)
	if !filename.CanWrite(int(d.Ctx.Current()), tag) || filename.IsApplet(tag) {
		panic("syscall: filename policy denied write")
	}
	if err := d.FS.Write(tag, d.bytes(bufptr, buflen)); err != nil {
		return fsErrorCode(err), true
	}
	return 0, true
}

func sysFsWriteApplet(d *Dispatcher, tagaddr, bufptr, buflen uint32) (uint32, bool) {
	if !d.Ctx.IsReadable(bufptr, buflen) {
		panic("syscall: write buffer not readable from current context")
	}
	tag := d.retrieveTag(tagaddr)
	if !filename.CanWrite(int(d.Ctx.Current()), tag) || !filename.IsApplet(tag) {
		panic("syscall: filename policy denied applet write")
	}
	if err := d.FS.WriteApplet(tag, d.bytes(bufptr, buflen)); err != nil {
		panic(fmt.Sprintf("syscall: unable to write applet: %v", err))
	}
	d.resetInplace()
	d.Reboot()
	return 0, false
}

func sysFsErase(d *Dispatcher, ptr, length, _ uint32) (uint32, bool) {
	if !d.Ctx.IsReadable(ptr, length) {
		panic("syscall: tag buffer not readable from current context")
	}
	tag := d.bytes(ptr, length)
	if !filename.CanWrite(int(d.Ctx.Current()), tag) || filename.IsApplet(tag) {
		panic("syscall: filename policy denied erase")
	}
	if err := d.FS.Erase(tag); err != nil {
		return fsErrorCode(err), true
	}
	return 0, true
}

func sysFsEraseApplet(d *Dispatcher, ptr, length, _ uint32) (uint32, bool) {
	if !d.Ctx.IsReadable(ptr, length) {
		panic("syscall: tag buffer not readable from current context")
	}
	tag := d.bytes(ptr, length)
	if !filename.CanWrite(int(d.Ctx.Current()), tag) || !filename.IsApplet(tag) {
		panic("syscall: filename policy denied applet erase")
	}
	if err := d.FS.Erase(tag); err != nil {
		panic(fmt.Sprintf("syscall: unable to erase applet: %v", err))
	}
	d.resetInplace()
	d.Reboot()
	return 0, false
}

func sysFsLength(d *Dispatcher, ptr, length, lenret uint32) (uint32, bool) {
	if !d.Ctx.IsReadable(ptr, length) || !d.Ctx.IsWritable(lenret, 4) {
		panic("syscall: length arguments not accessible from current context")
	}
	tag := d.bytes(ptr, length)
	if !filename.CanRead(int(d.Ctx.Current()), tag) {
		panic("syscall: filename policy denied read")
	}
	data, err := d.FS.Read(tag)
	if err != nil {
		return fsErrorCode(err), true
	}
	d.writeU32(lenret, uint32(len(data)))
	return 0, true
}

func sysFsRead1bAt(d *Dispatcher, tagaddr, offset, retaddr uint32) (uint32, bool) {
	if !d.Ctx.IsWritable(retaddr, 1) {
		panic("syscall: return address not writable from current context")
	}
	tag := d.retrieveTag(tagaddr)
	if !filename.CanRead(int(d.Ctx.Current()), tag) {
		panic("syscall: filename policy denied read")
	}
	data, err := d.FS.Read(tag)
	if err != nil {
		return fsErrorCode(err), true
	}
	d.bytes(retaddr, 1)[0] = data[offset]
	return 0, true
}

// sysFsRead2bAt and sysFsRead4bAt take offset in N-byte words (the
// trap receives the raw word index unmultiplied); the write
// counterparts below take offset already in bytes, because their
// calling convention pre-multiplies by the element size before
// trapping while the read side does not. An asymmetric ABI, not a bug.
func sysFsRead2bAt(d *Dispatcher, tagaddr, offset, retaddr uint32) (uint32, bool) {
	if retaddr&1 != 0 {
		panic("syscall: return address must be 2-byte aligned")
	}
	if !d.Ctx.IsWritable(retaddr, 2) {
		panic("syscall: return address not writable from current context")
	}
	tag := d.retrieveTag(tagaddr)
	if !filename.CanRead(int(d.Ctx.Current()), tag) {
		panic("syscall: filename policy denied read")
	}
	data, err := d.FS.Read(tag)
	if err != nil {
		return fsErrorCode(err), true
	}
	byteOff := offset * 2
	d.writeU16(retaddr, binary.LittleEndian.Uint16(data[byteOff:byteOff+2]))
	return 0, true
}

func sysFsRead4bAt(d *Dispatcher, tagaddr, offset, retaddr uint32) (uint32, bool) {
	if retaddr&3 != 0 {
		panic("syscall: return address must be 4-byte aligned")
	}
	if !d.Ctx.IsWritable(retaddr, 4) {
		panic("syscall: return address not writable from current context")
	}
	tag := d.retrieveTag(tagaddr)
	if !filename.CanRead(int(d.Ctx.Current()), tag) {
		panic("syscall: filename policy denied read")
	}
	data, err := d.FS.Read(tag)
	if err != nil {
		return fsErrorCode(err), true
	}
	byteOff := offset * 4
	d.writeU32(retaddr, binary.LittleEndian.Uint32(data[byteOff:byteOff+4]))
	return 0, true
}

func sysFsWrite1bAt(d *Dispatcher, tagaddr, offset, data uint32) (uint32, bool) {
	tag := d.retrieveTag(tagaddr)
	if !filename.CanWrite(int(d.Ctx.Current()), tag) {
		panic("syscall: filename policy denied write")
	}
	if err := d.FS.EditAt(tag, int(offset), []byte{byte(data)}); err != nil {
		return fsErrorCode(err), true
	}
	return 0, true
}

func sysFsWrite2bAt(d *Dispatcher, tagaddr, offset, data uint32) (uint32, bool) {
	tag := d.retrieveTag(tagaddr)
	if !filename.CanWrite(int(d.Ctx.Current()), tag) {
		panic("syscall: filename policy denied write")
	}
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, uint16(data))
	if err := d.FS.EditAt(tag, int(offset), buf); err != nil {
		return fsErrorCode(err), true
	}
	return 0, true
}

func sysFsWrite4bAt(d *Dispatcher, tagaddr, offset, data uint32) (uint32, bool) {
	tag := d.retrieveTag(tagaddr)
	if !filename.CanWrite(int(d.Ctx.Current()), tag) {
		panic("syscall: filename policy denied write")
	}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, data)
	if err := d.FS.EditAt(tag, int(offset), buf); err != nil {
		return fsErrorCode(err), true
	}
	return 0, true
}
