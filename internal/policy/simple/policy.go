// Package simple contains a permissive policy implementation.
package simple

import "context"

// Policy admits every fetch and every headless promotion. Useful for tests
// and local runs where rate limiting is disabled.
type Policy struct{}

// New creates a new Policy.
func New() *Policy {
	return &Policy{}
}

// Wait never blocks.
func (Policy) Wait(_ context.Context, _ string) error {
	return nil
}

// AllowHeadless always returns true.
func (Policy) AllowHeadless(_ string, _ string) bool {
	return true
}
