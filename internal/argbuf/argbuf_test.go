package argbuf

import "testing"

func TestSetGetRoundTrip(t *testing.T) {
	b := New(16)
	b.Set([]byte("hello"))
	if b.Len() != 5 {
		t.Fatalf("Len = %d, want 5", b.Len())
	}
	dst := make([]byte, 5)
	b.Get(dst)
	if string(dst) != "hello" {
		t.Fatalf("Get = %q, want %q", dst, "hello")
	}
	if b.Len() != 0 {
		t.Fatalf("Len after Get = %d, want 0", b.Len())
	}
}

func TestSetPanicsWhenAlreadyStaged(t *testing.T) {
	b := New(16)
	b.Set([]byte("a"))
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double Set")
		}
	}()
	b.Set([]byte("b"))
}

func TestSetPanicsOnOverflow(t *testing.T) {
	b := New(4)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on oversized Set")
		}
	}()
	b.Set([]byte("too long"))
}

func TestGetPanicsWhenEmpty(t *testing.T) {
	b := New(16)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on Get with nothing staged")
		}
	}()
	b.Get(make([]byte, 1))
}

func TestGetPanicsOnLengthMismatch(t *testing.T) {
	b := New(16)
	b.Set([]byte("abc"))
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on mismatched Get length")
		}
	}()
	b.Get(make([]byte, 2))
}
