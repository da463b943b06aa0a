//go:build !windows

package purge

type ntSetter struct{}

// NewNtSetter returns a setter that reports STATUS_NOT_SUPPORTED; kernel
// memory lists are a Windows facility.
func NewNtSetter() Setter { return ntSetter{} }

func (ntSetter) SetMemoryList(Command) uint32 { return StatusNotSupported }
