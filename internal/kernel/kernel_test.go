package kernel

import (
	"bytes"
	"path/filepath"
	"testing"

	"securecore/internal/context"
	"securecore/internal/flash"
	"securecore/internal/flashll"
	"securecore/internal/mpu"
)

func newTestConfig(t *testing.T) (Config, *bytes.Buffer) {
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

	var console bytes.Buffer
	cfg := Config{
		Flash:        fl,
		DefragSector: 2,
		AppletSector: 3,
		Layout: mpu.Layout{
			AppletStart: 0, AppletSize: 256,
			SharedRWStart: 256, SharedRWSize: 256,
			SharedROStart: 512, SharedROSize: 256,
			ProgramStart: 0x8000000, ProgramSize: 0x10000,
		},
		ProgramBegin: 0x8000000,
		ProgramSize:  0x10000,
		RAM:          make([]byte, 1<<16),
		RAMBegin:     0x20000000,
		Ctx0Begin:    0x1000,
		Ctx0Size:     0x1000,
		Contexts: []context.AllocatableContext{
			{},
			{Entrypoint: func(caller context.ID, a1, a2 uint32) uint32 { return a1 + a2 }},
		},
		UnprivilegedSink: &console,
		PrivilegedSink:   &console,
	}
	return cfg, &console
}

func TestBootWiresEveryComponent(t *testing.T) {
	cfg, console := newTestConfig(t)

	k, err := Boot(cfg)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if k.Ctx == nil || k.FS == nil || k.Syscalls == nil || k.Privilege == nil {
		t.Fatal("Boot left a component nil")
	}
	if k.Privilege.IsPrivileged() {
		t.Error("Boot should have dropped privileges by the time it returns")
	}
	if console.Len() == 0 {
		t.Error("Boot should have logged a boot-complete message")
	}
}

func TestBootPanicsOnBadContextConfiguration(t *testing.T) {
	cfg, _ := newTestConfig(t)
	cfg.Contexts = []context.AllocatableContext{{}} // fewer than 2: boot-config bug
	defer func() {
		if recover() == nil {
			t.Fatal("expected Boot to panic on an under-specified context table")
		}
	}()
	Boot(cfg)
}
