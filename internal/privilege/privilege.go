// Package privilege enables named security privileges on the current
// process token ahead of kernel memory-list operations.
package privilege

import (
	"errors"
	"log/slog"

	"github.com/loykin/sysmaint/internal/metrics"
)

// Privileges requested before a kernel memory purge.
const (
	ProfileSingleProcess = "SeProfileSingleProcessPrivilege"
	IncreaseQuota        = "SeIncreaseQuotaPrivilege"
	SystemEnvironment    = "SeSystemEnvironmentPrivilege"
	Debug                = "SeDebugPrivilege"
)

// PurgeSet is the fixed set enabled by a memory pass.
var PurgeSet = []string{ProfileSingleProcess, IncreaseQuota, SystemEnvironment, Debug}

// ErrUnsupported is returned on platforms without token privileges.
var ErrUnsupported = errors.New("token privileges not supported on this platform")

// Request is one named privilege and whether enabling it succeeded.
type Request struct {
	Name    string
	Enabled bool
	Err     error
}

// Adjuster enables one privilege on the current process token.
type Adjuster interface {
	Enable(name string) error
}

// Manager enables privileges, logging failures without treating them as fatal.
type Manager struct {
	adj Adjuster
	log *slog.Logger
}

// NewManager returns a manager; a nil adjuster selects the platform token API.
func NewManager(adj Adjuster, log *slog.Logger) *Manager {
	if adj == nil {
		adj = NewTokenAdjuster()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{adj: adj, log: log}
}

// EnablePrivilege reports whether name is now enabled on the token.
func (m *Manager) EnablePrivilege(name string) bool {
	return m.enable(name).Enabled
}

func (m *Manager) enable(name string) Request {
	err := m.adj.Enable(name)
	r := Request{Name: name, Enabled: err == nil, Err: err}
	metrics.SetPrivilege(name, r.Enabled)
	if err != nil {
		m.log.Debug("privilege not enabled", "privilege", name, "error", err)
	}
	return r
}

// EnableAll attempts every name, in order, regardless of earlier failures.
func (m *Manager) EnableAll(names ...string) []Request {
	out := make([]Request, 0, len(names))
	for _, n := range names {
		out = append(out, m.enable(n))
	}
	return out
}

// AnyEnabled reports whether at least one request succeeded.
func AnyEnabled(reqs []Request) bool {
	for _, r := range reqs {
		if r.Enabled {
			return true
		}
	}
	return false
}
