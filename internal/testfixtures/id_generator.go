package testfixtures

import (
	"fmt"
	"sync"
)

// IDGenerator produces deterministic booking and activity identifiers.
type IDGenerator struct {
	mu      sync.Mutex
	prefix  string
	counter uint64
}

// NewIDGenerator constructs a generator that yields identifiers with the given
// prefix. When prefix is empty, "id" is used.
func NewIDGenerator(prefix string) *IDGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &IDGenerator{prefix: prefix}
}

// Next returns the next identifier in the sequence.
func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("%s-%d", g.prefix, g.counter)
}

// NextFunc exposes Next as a function suitable for dependency injection.
func (g *IDGenerator) NextFunc() func() string {
	if g == nil {
		return func() string { return "" }
	}
	return g.Next
}

// SetCounter overrides the internal counter, enabling deterministic resets.
func (g *IDGenerator) SetCounter(counter uint64) {
	g.mu.Lock()
	g.counter = counter
	g.mu.Unlock()
}

// CodeSequence is a deterministic application.CodeGenerator. Reference codes
// are "UTMSEQ" plus a six digit counter and check-in codes count up from
// 100001. Queued codes are returned first.
type CodeSequence struct {
	mu         sync.Mutex
	references []string
	checkIns   []string
	refCount   uint64
	codeCount  uint64
}

// NewCodeSequence returns a sequence with no queued codes.
func NewCodeSequence() *CodeSequence {
	return &CodeSequence{}
}

// QueueReferenceCodes makes the next reference codes equal codes, in order.
func (s *CodeSequence) QueueReferenceCodes(codes ...string) {
	s.mu.Lock()
	s.references = append(s.references, codes...)
	s.mu.Unlock()
}

// QueueCheckInCodes makes the next check-in codes equal codes, in order.
func (s *CodeSequence) QueueCheckInCodes(codes ...string) {
	s.mu.Lock()
	s.checkIns = append(s.checkIns, codes...)
	s.mu.Unlock()
}

// ReferenceCode returns the next reference code.
func (s *CodeSequence) ReferenceCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.references) > 0 {
		code := s.references[0]
		s.references = s.references[1:]
		return code
	}
	s.refCount++
	return fmt.Sprintf("UTMSEQ%06d", s.refCount)
}

// CheckInCode returns the next check-in code.
func (s *CodeSequence) CheckInCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.checkIns) > 0 {
		code := s.checkIns[0]
		s.checkIns = s.checkIns[1:]
		return code
	}
	s.codeCount++
	return fmt.Sprintf("%06d", 100000+s.codeCount)
}
