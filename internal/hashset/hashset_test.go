package hashset

import "testing"

type record struct {
	tag []byte
	val int
}

type recordKeyer struct{}

func (recordKeyer) Key(r record) []byte { return r.tag }

func TestInsertGetTake(t *testing.T) {
	tests := []struct {
		name string
		ops  func(s *HashSet[record]) error
	}{
		{
			name: "insert then get",
			ops: func(s *HashSet[record]) error {
				if !s.Insert(record{[]byte("a"), 1}) {
					t.Fatal("insert should succeed")
				}
				v, ok := s.Get([]byte("a"))
				if !ok || v.val != 1 {
					t.Fatalf("Get = %v, %v", v, ok)
				}
				return nil
			},
		},
		{
			name: "insert does not overwrite",
			ops: func(s *HashSet[record]) error {
				s.Insert(record{[]byte("a"), 1})
				if s.Insert(record{[]byte("a"), 2}) {
					t.Fatal("second insert with same key should report false")
				}
				v, _ := s.Get([]byte("a"))
				if v.val != 1 {
					t.Fatalf("expected original value to survive, got %v", v.val)
				}
				return nil
			},
		},
		{
			name: "take removes",
			ops: func(s *HashSet[record]) error {
				s.Insert(record{[]byte("a"), 1})
				v, ok := s.Take([]byte("a"))
				if !ok || v.val != 1 {
					t.Fatalf("Take = %v, %v", v, ok)
				}
				if _, ok := s.Get([]byte("a")); ok {
					t.Fatal("key should be gone after Take")
				}
				return nil
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New[record](recordKeyer{}, 8)
			tt.ops(s)
		})
	}
}

func TestNewPanicsOnZeroBuckets(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on zero buckets")
		}
	}()
	New[record](recordKeyer{}, 0)
}

func TestLenAndAll(t *testing.T) {
	s := New[record](recordKeyer{}, 4)
	for _, tag := range []string{"a", "b", "c", "d", "e"} {
		s.Insert(record{[]byte(tag), len(tag)})
	}
	if s.Len() != 5 {
		t.Fatalf("Len = %d, want 5", s.Len())
	}
	seen := 0
	s.All(func(record) bool {
		seen++
		return true
	})
	if seen != 5 {
		t.Fatalf("All visited %d, want 5", seen)
	}
}
