package privilege

import "testing"

type fakeMPU struct{ privileged bool }

func (m *fakeMPU) SetPrivileged(p bool) { m.privileged = p }

func TestStartsPrivileged(t *testing.T) {
	mpu := &fakeMPU{}
	c := New(mpu)
	if !c.IsPrivileged() {
		t.Error("controller should start privileged")
	}
}

func TestDropTransitionsToUnprivileged(t *testing.T) {
	mpu := &fakeMPU{}
	c := New(mpu)
	c.Drop()
	if c.IsPrivileged() {
		t.Error("controller should be unprivileged after Drop")
	}
	if mpu.privileged {
		t.Error("mpu should have been told to drop privilege")
	}
}

func TestDropPanicsOnSecondCall(t *testing.T) {
	c := New(&fakeMPU{})
	c.Drop()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on second Drop")
		}
	}()
	c.Drop()
}

func TestEnterExceptionIsPrivilegedEvenAfterDrop(t *testing.T) {
	mpu := &fakeMPU{}
	c := New(mpu)
	c.Drop()

	c.EnterException()
	if !c.IsPrivileged() {
		t.Error("should be privileged while inside an exception")
	}
	if !mpu.privileged {
		t.Error("mpu should be privileged while inside an exception")
	}

	c.ExitException()
	if c.IsPrivileged() {
		t.Error("should return to unprivileged after exiting the exception")
	}
	if mpu.privileged {
		t.Error("mpu should return to unprivileged after exiting the exception")
	}
}

func TestExitExceptionBeforeDropStaysPrivileged(t *testing.T) {
	mpu := &fakeMPU{}
	c := New(mpu)
	c.EnterException()
	c.ExitException()
	if !c.IsPrivileged() {
		t.Error("should remain privileged if Drop was never called")
	}
}
