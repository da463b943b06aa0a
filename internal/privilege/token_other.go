//go:build !windows

package privilege

type tokenAdjuster struct{}

// NewTokenAdjuster returns an adjuster that always fails; token privileges
// are a Windows concept.
func NewTokenAdjuster() Adjuster { return tokenAdjuster{} }

func (tokenAdjuster) Enable(string) error { return ErrUnsupported }
