package chain

import "github.com/phemap/groupkey/pkg/wire"

// Mock is a LinkSource test double that returns the same constant link
// for every call, regardless of id or call count. This matches the
// concrete end-to-end scenarios in spec section 8, which mock next_link
// as a single constant (0xef0000ac by convention) to make wire traces
// reproducible by hand.
type Mock struct {
	value wire.Link
}

// NewMock returns a Mock that always yields value.
func NewMock(value wire.Link) *Mock {
	return &Mock{value: value}
}

// NextLink implements LinkSource.
func (m *Mock) NextLink(wire.Id) wire.Link {
	return m.value
}

// Set changes the constant returned by subsequent calls.
func (m *Mock) Set(value wire.Link) {
	m.value = value
}

// Sequence is a LinkSource test double that returns successive values
// from a fixed per-id slice, looping back to the start when exhausted.
// Use this to exercise protocol steps that consume more than one
// distinct link per id within a single test.
type Sequence struct {
	values map[wire.Id][]wire.Link
	cursor map[wire.Id]int
}

// NewSequence creates a Sequence seeded with per-id link lists.
func NewSequence(values map[wire.Id][]wire.Link) *Sequence {
	return &Sequence{
		values: values,
		cursor: make(map[wire.Id]int),
	}
}

// NextLink implements LinkSource.
func (s *Sequence) NextLink(id wire.Id) wire.Link {
	vals := s.values[id]
	if len(vals) == 0 {
		return 0
	}
	i := s.cursor[id] % len(vals)
	s.cursor[id] = i + 1
	return vals[i]
}

// MockRNG is an RNG test double that returns the same constant value for
// every call, matching the concrete scenarios in spec section 8 (rng
// mocked to 0x00cafe00 by convention).
type MockRNG struct {
	value uint32
}

// NewMockRNG returns a MockRNG that always yields value.
func NewMockRNG(value uint32) *MockRNG {
	return &MockRNG{value: value}
}

// Next implements RNG.
func (m *MockRNG) Next() uint32 {
	return m.value
}

// Set changes the constant returned by subsequent calls.
func (m *MockRNG) Set(value uint32) {
	m.value = value
}

// QueueRNG is an RNG test double that returns successive values from a
// fixed queue, then repeats the last value once exhausted. Useful for
// tests that need session_nonce and secret_token to differ across
// consecutive rng() draws (e.g. the join/leave laws in spec section 8).
type QueueRNG struct {
	values []uint32
	cursor int
}

// NewQueueRNG creates a QueueRNG seeded with values.
func NewQueueRNG(values ...uint32) *QueueRNG {
	return &QueueRNG{values: values}
}

// Next implements RNG.
func (q *QueueRNG) Next() uint32 {
	if len(q.values) == 0 {
		return 0
	}
	if q.cursor >= len(q.values) {
		return q.values[len(q.values)-1]
	}
	v := q.values[q.cursor]
	q.cursor++
	return v
}
