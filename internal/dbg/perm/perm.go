// Package perm models what the operating environment lets a debugger do.
//
// On macOS three independent signals decide whether live debugging is
// possible: System Integrity Protection, the debugger entitlement on our
// own binary, and the developer-mode authorization for the invoking user.
// They are boot-time/session-wide properties, so the checker queries the
// environment once and serves the snapshot afterwards.
package perm

import (
	"fmt"
	"strings"
	"sync"
)

// Tier ranks the operation classes currently permitted. The tiers form a
// lattice: Full implies Analysis implies ReadOnly.
type Tier int

const (
	ReadOnly Tier = iota
	Analysis
	Full
)

func (t Tier) String() string {
	switch t {
	case ReadOnly:
		return "read-only"
	case Analysis:
		return "analysis"
	case Full:
		return "full"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// CanParse reports whether static binary parsing is permitted. It holds for
// every tier.
func (t Tier) CanParse() bool { return true }

// CanDisassemble reports whether instruction decoding is permitted.
func (t Tier) CanDisassemble() bool { return t >= Analysis }

// CanDebug reports whether live process control is permitted.
func (t Tier) CanDebug() bool { return t >= Full }

// Status is a read-only snapshot of the raw environment signals.
type Status struct {
	SIPEnabled       bool
	DeveloperMode    bool
	DebugEntitlement bool
}

// CanParse is true for every environment.
func (s Status) CanParse() bool { return true }

// CanDisassemble is true for every environment.
func (s Status) CanDisassemble() bool { return true }

// CanDebug requires both the debugger entitlement and developer-mode
// authorization.
func (s Status) CanDebug() bool { return s.DebugEntitlement && s.DeveloperMode }

// Tier derives the capability tier from the snapshot.
func (s Status) Tier() Tier {
	if s.CanDebug() {
		return Full
	}
	return Analysis
}

// Environment answers the raw signal queries. A fake implementation is
// substituted in tests.
type Environment interface {
	SIPEnabled() (bool, error)
	DeveloperModeEnabled() (bool, error)
	HasDebugEntitlement() (bool, error)
}

// Checker caches a Status snapshot for the process lifetime. Refresh
// re-queries the environment.
type Checker struct {
	env Environment

	mu     sync.Mutex
	cached *Status
}

func NewChecker(env Environment) *Checker {
	return &Checker{env: env}
}

// Status returns the cached snapshot, querying the environment on first
// use. Signals that cannot be determined default to their most restrictive
// value.
func (c *Checker) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached == nil {
		s := c.query()
		c.cached = &s
	}
	return *c.cached
}

// Refresh drops the cached snapshot and queries the environment again.
func (c *Checker) Refresh() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.query()
	c.cached = &s
	return s
}

func (c *Checker) query() Status {
	var s Status
	if sip, err := c.env.SIPEnabled(); err == nil {
		s.SIPEnabled = sip
	} else {
		s.SIPEnabled = true
	}
	if dev, err := c.env.DeveloperModeEnabled(); err == nil {
		s.DeveloperMode = dev
	}
	if ent, err := c.env.HasDebugEntitlement(); err == nil {
		s.DebugEntitlement = ent
	}
	return s
}

// Paths SIP refuses to let a debugger touch, with a carve-out for the
// user-writable /usr/local subtree.
var protectedPrefixes = []string{
	"/System/",
	"/usr/",
	"/bin/",
	"/sbin/",
}

const localPrefix = "/usr/local/"

// DebugBlockedReason reports why attaching to a target at path would be
// refused, or "" if no policy applies. The returned text is advisory; the
// boolean checks on Status are authoritative.
func (c *Checker) DebugBlockedReason(path string) string {
	s := c.Status()
	if !s.DebugEntitlement {
		return "this binary is missing the com.apple.security.cs.debugger entitlement"
	}
	if !s.DeveloperMode {
		return "developer mode is disabled for this session (run: DevToolsSecurity -enable)"
	}
	if s.SIPEnabled && underProtectedPath(path) {
		return fmt.Sprintf("%s is protected by System Integrity Protection", path)
	}
	return ""
}

// SIPBlocksPath reports whether System Integrity Protection forbids
// debugging the binary at path.
func (c *Checker) SIPBlocksPath(path string) bool {
	return c.Status().SIPEnabled && underProtectedPath(path)
}

func underProtectedPath(path string) bool {
	if strings.HasPrefix(path, localPrefix) {
		return false
	}
	for _, p := range protectedPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Signal is one independently-surfaced environment check with remediation
// guidance. Guidance never gates control flow.
type Signal struct {
	Name        string
	OK          bool
	Remediation string
}

// Signals expands the snapshot into the three independent checks required
// for live debugging, each with its own remediation text.
func Signals(s Status) []Signal {
	return []Signal{
		{
			Name:        "system integrity protection",
			OK:          !s.SIPEnabled,
			Remediation: "SIP is enabled; debugging system binaries outside /usr/local will be refused",
		},
		{
			Name:        "debugger entitlement",
			OK:          s.DebugEntitlement,
			Remediation: "re-sign the debugger with the com.apple.security.cs.debugger entitlement",
		},
		{
			Name:        "developer mode",
			OK:          s.DeveloperMode,
			Remediation: "enable developer mode: sudo DevToolsSecurity -enable",
		},
	}
}
