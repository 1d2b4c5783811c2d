package syscall

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"testing"

	"securecore/internal/context"
	"securecore/internal/debug"
	"securecore/internal/filename"
	"securecore/internal/flash"
	"securecore/internal/flashll"
	"securecore/internal/fs"
	"securecore/internal/mpu"
	"securecore/internal/mpull"
	"securecore/internal/privilege"
)

const ramBase = 0x20000000

// testRig wires a Dispatcher over a real fs.FileSystem/flash pair and a
// userland context whose window is the whole simulated ram array, so
// every syscall-argument byte offset used in tests is trivially both
// readable and writable.
type testRig struct {
	d        *Dispatcher
	ctx      *context.Manager
	rebooted bool
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	const sectorSize = 128
	infos := []flashll.SectorInfo{
		{Num: 0, Start: 0, Length: sectorSize},
		{Num: 1, Start: sectorSize, Length: sectorSize},
		{Num: 2, Start: 2 * sectorSize, Length: sectorSize},
		{Num: 3, Start: 3 * sectorSize, Length: sectorSize},
	}
	dev, err := flashll.OpenHostDevice(filepath.Join(t.TempDir(), "flash.img"), infos)
	if err != nil {
		t.Fatalf("OpenHostDevice: %v", err)
	}
	t.Cleanup(func() { dev.Close() })

	fl, err := flash.New(dev)
	if err != nil {
		t.Fatalf("flash.New: %v", err)
	}
	t.Cleanup(fl.Release)

	fsys, err := fs.New(fl, fl.Sectors(), 2, 3)
	if err != nil {
		t.Fatalf("fs.New: %v", err)
	}

	ctrl := mpull.NewHostController()
	policy := mpu.New(ctrl)
	ram := make([]byte, 1<<16)
	policy.Setup(mpu.Layout{
		AppletStart: 0, AppletSize: 256,
		SharedRWStart: 256, SharedRWSize: 256,
		SharedROStart: 512, SharedROSize: 256,
		ProgramStart: 0x8000000, ProgramSize: 0x10000,
	})
	ctx := context.NewManager(policy, 0x8000000, 0x10000)
	ctx.Init([]context.Metadata{
		{Begin: ramBase, Size: uint32(len(ram))},
		{Begin: ramBase, Size: uint32(len(ram))},
	})
	ctx.SwitchUserland(context.ID(1))

	priv := privilege.New(ctrl)
	var unpriv, privSink bytes.Buffer
	console := debug.New(&unpriv, &privSink, priv)

	rig := &testRig{ctx: ctx}
	rig.d = NewDispatcher(ctx, fsys, console, priv, ram, ramBase)
	rig.d.Reboot = func() { rig.rebooted = true }
	return rig
}

func (r *testRig) putTag(addr uint32, tag []byte) {
	buf := PassTag(tag)
	copy(r.d.ram[addr-ramBase:], buf[:])
}

func (r *testRig) putBytes(addr uint32, data []byte) {
	copy(r.d.ram[addr-ramBase:], data)
}

func (r *testRig) getBytes(addr uint32, n int) []byte {
	return append([]byte(nil), r.d.ram[addr-ramBase:addr-ramBase+uint32(n)]...)
}

func (r *testRig) getU32(addr uint32) uint32 {
	return binary.LittleEndian.Uint32(r.d.ram[addr-ramBase : addr-ramBase+4])
}

const (
	tagAddr  = ramBase + 0x100
	bufAddr  = ramBase + 0x200
	retAddr  = ramBase + 0x300
	ret2Addr = ramBase + 0x310
)

func TestWriteReadRoundTripThroughSyscalls(t *testing.T) {
	r := newTestRig(t)
	tag, _ := filename.StaticField(1, 2)
	r.putTag(tagAddr, tag)
	r.putBytes(bufAddr, []byte("hello"))

	code := r.d.Dispatch(FsWrite, tagAddr, bufAddr, 5)
	if code != 0 {
		t.Fatalf("FsWrite returned error code %#x", code)
	}

	code = r.d.Dispatch(FsRead, tagAddr, retAddr, 5)
	if code != 0 {
		t.Fatalf("FsRead returned error code %#x", code)
	}
	if got := r.getBytes(retAddr, 5); string(got) != "hello" {
		t.Fatalf("FsRead result = %q, want %q", got, "hello")
	}
}

func TestFsExistsReflectsWriteAndErase(t *testing.T) {
	r := newTestRig(t)
	tag, _ := filename.StaticField(1, 3)
	r.putBytes(tagAddr, tag)

	if got := r.d.Dispatch(FsExists, tagAddr, uint32(len(tag)), 0); got != 0 {
		t.Fatalf("FsExists before write = %d, want 0", got)
	}

	r.putTag(tagAddr+64, tag)
	r.putBytes(bufAddr, []byte("x"))
	if code := r.d.Dispatch(FsWrite, tagAddr+64, bufAddr, 1); code != 0 {
		t.Fatalf("FsWrite error %#x", code)
	}
	if got := r.d.Dispatch(FsExists, tagAddr, uint32(len(tag)), 0); got != 1 {
		t.Fatalf("FsExists after write = %d, want 1", got)
	}

	if code := r.d.Dispatch(FsErase, tagAddr, uint32(len(tag)), 0); code != 0 {
		t.Fatalf("FsErase error %#x", code)
	}
	if got := r.d.Dispatch(FsExists, tagAddr, uint32(len(tag)), 0); got != 0 {
		t.Fatalf("FsExists after erase = %d, want 0", got)
	}
}

func TestFsReadMissingTagReturnsNoSuchTagCode(t *testing.T) {
	r := newTestRig(t)
	tag, _ := filename.StaticField(9, 9)
	r.putTag(tagAddr, tag)

	code := r.d.Dispatch(FsRead, tagAddr, retAddr, 16)
	if code != 0x80000000|2 {
		t.Fatalf("error code = %#x, want NoSuchTag (0x80000002)", code)
	}
}

func TestFsWrite2bAtAndRead2bAtRoundTrip(t *testing.T) {
	r := newTestRig(t)
	tag, _ := filename.StaticField(1, 4)
	r.putTag(tagAddr, tag)
	r.putBytes(bufAddr, []byte{0, 0, 0, 0})

	if code := r.d.Dispatch(FsWrite, tagAddr, bufAddr, 4); code != 0 {
		t.Fatalf("FsWrite error %#x", code)
	}

	// word offset 1 => byte offset 2, matches the doubled arg the
	// library-level write_2b_at wrapper would have passed.
	if code := r.d.Dispatch(FsWrite2b, tagAddr, 2, 0xBEEF); code != 0 {
		t.Fatalf("FsWrite2b error %#x", code)
	}
	if code := r.d.Dispatch(FsRead2b, tagAddr, 1, retAddr); code != 0 {
		t.Fatalf("FsRead2b error %#x", code)
	}
	if got := r.d.readU16(retAddr); got != 0xBEEF {
		t.Fatalf("FsRead2b result = %#x, want 0xBEEF", got)
	}
}

func TestFsLengthReportsDataSize(t *testing.T) {
	r := newTestRig(t)
	tag, _ := filename.StaticField(1, 5)
	r.putTag(tagAddr, tag)
	r.putBytes(bufAddr, []byte("0123456789"))
	if code := r.d.Dispatch(FsWrite, tagAddr, bufAddr, 10); code != 0 {
		t.Fatalf("FsWrite error %#x", code)
	}

	r.putBytes(tagAddr+64, tag)
	if code := r.d.Dispatch(FsLength, tagAddr+64, uint32(len(tag)), retAddr); code != 0 {
		t.Fatalf("FsLength error %#x", code)
	}
	if got := r.getU32(retAddr); got != 10 {
		t.Fatalf("FsLength result = %d, want 10", got)
	}
}

func TestWriteDeniedForWrongContext(t *testing.T) {
	r := newTestRig(t)
	// AppletField tag for context 0, while context 1 is current.
	tag, _ := filename.AppletFieldTag(0, 1, 2, 3)
	r.putTag(tagAddr, tag)
	r.putBytes(bufAddr, []byte("x"))

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic: filename policy should deny cross-context write")
		}
	}()
	r.d.Dispatch(FsWrite, tagAddr, bufAddr, 1)
}

func TestWriteAppletRejectsNonAppletTag(t *testing.T) {
	r := newTestRig(t)
	tag, _ := filename.StaticField(1, 1)
	r.putTag(tagAddr, tag)
	r.putBytes(bufAddr, []byte("x"))

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic: FsWriteApplet should reject a non-applet tag")
		}
	}()
	r.d.Dispatch(FsWriteApplet, tagAddr, bufAddr, 1)
}

func TestDispatchRoutesPanicToFatalHook(t *testing.T) {
	r := newTestRig(t)
	var caught error
	r.d.Fatal = func(err error) { caught = err }

	tag, _ := filename.StaticField(1, 1) // not an applet tag
	r.putTag(tagAddr, tag)
	r.putBytes(bufAddr, []byte("x"))

	got := r.d.Dispatch(FsWriteApplet, tagAddr, bufAddr, 1)
	if caught == nil {
		t.Fatal("expected Fatal hook to be called instead of Dispatch panicking")
	}
	if got != 0 {
		t.Fatalf("Dispatch result after a recovered panic = %d, want 0", got)
	}
}

func TestRemoteCallAndResultSwitchCurrentContext(t *testing.T) {
	r := newTestRig(t)
	r.ctx.SwitchUserland(context.ID(0))

	r.d.Dispatch(RemoteCall, 1, 0, 0)
	if r.ctx.Current() != context.ID(1) {
		t.Fatalf("after RemoteCall, current = %d, want 1", r.ctx.Current())
	}

	got := r.d.Dispatch(RemoteResult, 99, 0, 0)
	if got != 99 {
		t.Fatalf("RemoteResult delivered %d, want 99", got)
	}
	if r.ctx.Current() != context.ID(0) {
		t.Fatalf("after RemoteResult, current = %d, want 0", r.ctx.Current())
	}
}
