// Package idgen produces globally unique document ids.
package idgen

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Generator produces globally unique ids.
type Generator interface {
	NewID() string
}

// UUID generates random (version 4) UUIDs.
type UUID struct{}

// NewID implements Generator.
func (UUID) NewID() string {
	return uuid.NewString()
}

// Sequence generates predictable ids ("prefix-1", "prefix-2", ...).
// It is meant for tests and fixtures.
type Sequence struct {
	Prefix string

	mu sync.Mutex
	n  int
}

// NewID implements Generator.
func (s *Sequence) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	prefix := s.Prefix
	if prefix == "" {
		prefix = "id"
	}
	return fmt.Sprintf("%s-%d", prefix, s.n)
}
