//go:build !windows

package reclaim

type osTrimmer struct{}

// NewOSTrimmer returns a trimmer that refuses every process; working-set
// trimming is a Windows facility.
func NewOSTrimmer() Trimmer { return osTrimmer{} }

func (osTrimmer) Open(int32, Access) (Handle, error) { return 0, ErrUnsupported }
func (osTrimmer) EmptyWorkingSet(Handle) error       { return ErrUnsupported }
func (osTrimmer) Close(Handle) error                 { return nil }
