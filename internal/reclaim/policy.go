package reclaim

import (
	"os"
	"strings"
	"time"
)

// MiB is one mebibyte.
const MiB = 1024 * 1024

// Default selection thresholds.
const (
	DefaultMinWorkingSet = 10 * MiB
	DefaultMinAge        = 5 * time.Second
)

// DefaultCritical lists process names that are never trimmed: kernel, idle,
// desktop manager, session/logon, security subsystem, service control
// manager, generic service hosts, audio and console hosts.
var DefaultCritical = []string{
	"system", "idle", "dwm", "winlogon", "csrss", "lsass", "smss",
	"services", "wininit", "audiodg", "conhost", "svchost",
}

// Exclusion is the reason a snapshot is not eligible for trimming.
type Exclusion int

const (
	Eligible Exclusion = iota
	ExcludedSelf
	ExcludedNoName
	ExcludedCritical
	ExcludedSystemPath
	ExcludedSmall
	ExcludedYoung
)

func (e Exclusion) String() string {
	switch e {
	case Eligible:
		return "eligible"
	case ExcludedSelf:
		return "self"
	case ExcludedNoName:
		return "no-name"
	case ExcludedCritical:
		return "critical"
	case ExcludedSystemPath:
		return "system-path"
	case ExcludedSmall:
		return "small"
	case ExcludedYoung:
		return "young"
	}
	return "unknown"
}

// Policy decides which processes a reclamation pass may trim.
type Policy struct {
	SelfPID       int32
	Critical      map[string]struct{}
	SystemRoot    string // OS installation directory; empty disables the path rule
	MinWorkingSet uint64
	MinAge        time.Duration
	Now           func() time.Time
}

// NewPolicy builds a policy for the current process with the default
// thresholds. extraCritical adds names to the critical set.
func NewPolicy(extraCritical ...string) *Policy {
	p := &Policy{
		SelfPID:       int32(os.Getpid()),
		Critical:      make(map[string]struct{}, len(DefaultCritical)+len(extraCritical)),
		SystemRoot:    systemRoot(),
		MinWorkingSet: DefaultMinWorkingSet,
		MinAge:        DefaultMinAge,
		Now:           time.Now,
	}
	for _, n := range DefaultCritical {
		p.Critical[normalizeName(n)] = struct{}{}
	}
	for _, n := range extraCritical {
		if n = normalizeName(n); n != "" {
			p.Critical[n] = struct{}{}
		}
	}
	return p
}

// IsEligible reports whether s may be trimmed.
func (p *Policy) IsEligible(s ProcessSnapshot) bool {
	return p.Exclusion(s) == Eligible
}

// Exclusion evaluates the exclusion rules in order and returns the first
// that matches, or Eligible.
func (p *Policy) Exclusion(s ProcessSnapshot) Exclusion {
	if s.PID == p.SelfPID {
		return ExcludedSelf
	}
	name := normalizeName(s.Name)
	if name == "" {
		return ExcludedNoName
	}
	if _, ok := p.Critical[name]; ok {
		return ExcludedCritical
	}
	if p.SystemRoot != "" && s.ExePath != "" && underDir(s.ExePath, p.SystemRoot) {
		return ExcludedSystemPath
	}
	if s.WorkingSet < p.MinWorkingSet {
		return ExcludedSmall
	}
	// an unreadable start time does not exclude
	if !s.StartTime.IsZero() && p.now().Sub(s.StartTime) < p.MinAge {
		return ExcludedYoung
	}
	return Eligible
}

func (p *Policy) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

func normalizeName(n string) string {
	n = strings.ToLower(strings.TrimSpace(n))
	return strings.TrimSuffix(n, ".exe")
}

// underDir reports whether path lies inside dir, comparing case-insensitively
// and treating both slash styles as separators.
func underDir(path, dir string) bool {
	norm := func(s string) string {
		s = strings.ToLower(strings.ReplaceAll(s, "/", `\`))
		return strings.TrimRight(s, `\`)
	}
	p, d := norm(path), norm(dir)
	if d == "" {
		return false
	}
	return p == d || strings.HasPrefix(p, d+`\`)
}

func systemRoot() string {
	if v := os.Getenv("SystemRoot"); v != "" {
		return v
	}
	return os.Getenv("windir")
}
