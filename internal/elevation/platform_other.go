//go:build !windows

package elevation

import "os"

type posixPlatform struct{}

// DefaultPlatform treats effective uid 0 as administrator. Relaunching is
// left to sudo.
func DefaultPlatform() Platform { return posixPlatform{} }

func (posixPlatform) IsAdministrator() (bool, error) { return os.Geteuid() == 0, nil }

func (posixPlatform) Relaunch(string, []string) error { return ErrUnsupported }
