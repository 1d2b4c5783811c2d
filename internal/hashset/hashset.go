// Package hashset implements a small open-hash set with a pluggable
// rolling byte hasher over a bucket table of growable slices.
package hashset

// Keyer produces the bytes a value hashes and compares on. Filesystem
// file records hash and compare by tag only (see internal/fs), which is
// why lookups take a key type distinct from the stored value type.
type Keyer[T any] interface {
	Key(v T) []byte
}

// HashSet is a bucketed open-hash set. Buckets are plain slices rather
// than linked lists: bucket counts are small and fixed (FilesBuckets
// in internal/fs), so linear scan within a bucket is cheap and avoids
// per-entry allocation.
type HashSet[T any] struct {
	keyer   Keyer[T]
	buckets [][]T
}

// New creates a HashSet with the given number of buckets. Panics if
// buckets is zero.
func New[T any](keyer Keyer[T], buckets int) *HashSet[T] {
	if buckets == 0 {
		panic("hashset: buckets must be nonzero")
	}
	return &HashSet[T]{
		keyer:   keyer,
		buckets: make([][]T, buckets),
	}
}

// hash is a rolling multiplicative hash: state = state*101 + byte,
// starting from zero, over every byte of key.
func hash(key []byte) uint64 {
	var state uint64
	for _, b := range key {
		state = state*101 + uint64(b)
	}
	return state
}

func (s *HashSet[T]) bucketIndex(key []byte) int {
	return int(hash(key) % uint64(len(s.buckets)))
}

// Get returns the stored value whose key equals key, if any.
func (s *HashSet[T]) Get(key []byte) (T, bool) {
	bucket := s.buckets[s.bucketIndex(key)]
	for _, v := range bucket {
		if bytesEqual(s.keyer.Key(v), key) {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// Insert adds v unless a value with the same key is already present, in
// which case it is a no-op and Insert reports false (not overwritten).
func (s *HashSet[T]) Insert(v T) bool {
	idx := s.bucketIndex(s.keyer.Key(v))
	for _, existing := range s.buckets[idx] {
		if bytesEqual(s.keyer.Key(existing), s.keyer.Key(v)) {
			return false
		}
	}
	s.buckets[idx] = append(s.buckets[idx], v)
	return true
}

// Remove deletes the value with the given key, if present, by swapping
// it with the bucket's last element (order within a bucket is never
// meaningful).
func (s *HashSet[T]) Remove(key []byte) bool {
	_, ok := s.Take(key)
	return ok
}

// Take removes and returns the value with the given key, if present.
func (s *HashSet[T]) Take(key []byte) (T, bool) {
	idx := s.bucketIndex(key)
	bucket := s.buckets[idx]
	for i, v := range bucket {
		if bytesEqual(s.keyer.Key(v), key) {
			last := len(bucket) - 1
			bucket[i] = bucket[last]
			s.buckets[idx] = bucket[:last]
			return v, true
		}
	}
	var zero T
	return zero, false
}

// Len returns the number of stored values.
func (s *HashSet[T]) Len() int {
	n := 0
	for _, bucket := range s.buckets {
		n += len(bucket)
	}
	return n
}

// All calls fn for every stored value, in unspecified order. Iteration
// stops early if fn returns false.
func (s *HashSet[T]) All(fn func(T) bool) {
	for _, bucket := range s.buckets {
		for _, v := range bucket {
			if !fn(v) {
				return
			}
		}
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
