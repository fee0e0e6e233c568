// Package knowledge holds the facts agents discover about their targets.
// Inserts are idempotent and report whether the fact was new, which callers
// use to decide whether a discovery is worth broadcasting.
package knowledge

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Port is an open port observed on a target
type Port struct {
	Port         int       `json:"port"`
	Service      string    `json:"service"`
	AgentID      string    `json:"agent_id"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Directory is a web path that answered with a status code
type Directory struct {
	Path         string    `json:"path"`
	StatusCode   int       `json:"status_code"`
	AgentID      string    `json:"agent_id"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Subdomain is a host name found under a target domain
type Subdomain struct {
	Name         string    `json:"name"`
	AgentID      string    `json:"agent_id"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Vulnerability is a weakness recorded against a target
type Vulnerability struct {
	Kind         string    `json:"kind"`
	Detail       string    `json:"detail"`
	Severity     string    `json:"severity"`
	AgentID      string    `json:"agent_id"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Summary is a point-in-time copy of everything known about one target
type Summary struct {
	Target          string          `json:"target"`
	Ports           []Port          `json:"ports"`
	Directories     []Directory     `json:"directories"`
	Subdomains      []Subdomain     `json:"subdomains"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
}

// Stats counts facts across all targets
type Stats struct {
	Targets         int `json:"targets"`
	Ports           int `json:"ports"`
	Directories     int `json:"directories"`
	Subdomains      int `json:"subdomains"`
	Vulnerabilities int `json:"vulnerabilities"`
}

// targetEntry stores facts for one target. Slices keep insertion order,
// the index maps provide dedup.
type targetEntry struct {
	mu            sync.RWMutex
	ports         map[int]int // port -> index in portList
	portList      []Port
	dirs          map[string]struct{}
	dirList       []Directory
	subdomains    map[string]struct{}
	subdomainList []Subdomain
	vulns         map[string]struct{}
	vulnList      []Vulnerability
}

func newTargetEntry() *targetEntry {
	return &targetEntry{
		ports:      make(map[int]int),
		dirs:       make(map[string]struct{}),
		subdomains: make(map[string]struct{}),
		vulns:      make(map[string]struct{}),
	}
}

// Base is the shared knowledge base. Writes lock only the affected target.
type Base struct {
	mu      sync.RWMutex
	targets map[string]*targetEntry
	now     func() time.Time
}

// New creates an empty knowledge base
func New() *Base {
	return &Base{
		targets: make(map[string]*targetEntry),
		now:     time.Now,
	}
}

// entry returns the entry for target, creating it on first use
func (b *Base) entry(target string) *targetEntry {
	b.mu.RLock()
	e, ok := b.targets[target]
	b.mu.RUnlock()
	if ok {
		return e
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok = b.targets[target]; ok {
		return e
	}
	e = newTargetEntry()
	b.targets[target] = e
	return e
}

// lookup returns the entry for target without creating it
func (b *Base) lookup(target string) (*targetEntry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.targets[target]
	return e, ok
}

// AddPort records an open port. A later call with a service fills in a
// previously unknown one but still reports the port as already known.
func (b *Base) AddPort(target string, port int, service, agentID string) bool {
	e := b.entry(target)
	e.mu.Lock()
	defer e.mu.Unlock()

	if idx, ok := e.ports[port]; ok {
		if e.portList[idx].Service == "" && service != "" {
			e.portList[idx].Service = service
		}
		return false
	}

	e.ports[port] = len(e.portList)
	e.portList = append(e.portList, Port{
		Port:         port,
		Service:      service,
		AgentID:      agentID,
		DiscoveredAt: b.now(),
	})
	return true
}

// AddDirectory records a discovered path
func (b *Base) AddDirectory(target, path string, statusCode int, agentID string) bool {
	e := b.entry(target)
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.dirs[path]; ok {
		return false
	}
	e.dirs[path] = struct{}{}
	e.dirList = append(e.dirList, Directory{
		Path:         path,
		StatusCode:   statusCode,
		AgentID:      agentID,
		DiscoveredAt: b.now(),
	})
	return true
}

// AddSubdomain records a subdomain; names compare case-insensitively
func (b *Base) AddSubdomain(target, name, agentID string) bool {
	key := strings.ToLower(strings.TrimSuffix(name, "."))
	if key == "" {
		return false
	}

	e := b.entry(target)
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.subdomains[key]; ok {
		return false
	}
	e.subdomains[key] = struct{}{}
	e.subdomainList = append(e.subdomainList, Subdomain{
		Name:         key,
		AgentID:      agentID,
		DiscoveredAt: b.now(),
	})
	return true
}

// AddVulnerability records a vulnerability keyed by kind and detail
func (b *Base) AddVulnerability(target, kind, detail, severity, agentID string) bool {
	key := kind + "\x00" + detail

	e := b.entry(target)
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.vulns[key]; ok {
		return false
	}
	e.vulns[key] = struct{}{}
	e.vulnList = append(e.vulnList, Vulnerability{
		Kind:         kind,
		Detail:       detail,
		Severity:     severity,
		AgentID:      agentID,
		DiscoveredAt: b.now(),
	})
	return true
}

// TargetSummary returns a copy of everything known about target.
// Unknown targets yield an empty summary, never nil slices.
func (b *Base) TargetSummary(target string) Summary {
	s := Summary{
		Target:          target,
		Ports:           []Port{},
		Directories:     []Directory{},
		Subdomains:      []Subdomain{},
		Vulnerabilities: []Vulnerability{},
	}

	e, ok := b.lookup(target)
	if !ok {
		return s
	}

	e.mu.RLock()
	s.Ports = append(s.Ports, e.portList...)
	s.Directories = append(s.Directories, e.dirList...)
	s.Subdomains = append(s.Subdomains, e.subdomainList...)
	s.Vulnerabilities = append(s.Vulnerabilities, e.vulnList...)
	e.mu.RUnlock()

	sort.SliceStable(s.Ports, func(i, j int) bool {
		return s.Ports[i].Port < s.Ports[j].Port
	})
	return s
}

// Targets lists every target that has been written to
func (b *Base) Targets() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	targets := make([]string, 0, len(b.targets))
	for t := range b.targets {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	return targets
}

// Stats returns fact counts across all targets
func (b *Base) Stats() Stats {
	b.mu.RLock()
	entries := make([]*targetEntry, 0, len(b.targets))
	for _, e := range b.targets {
		entries = append(entries, e)
	}
	b.mu.RUnlock()

	st := Stats{Targets: len(entries)}
	for _, e := range entries {
		e.mu.RLock()
		st.Ports += len(e.portList)
		st.Directories += len(e.dirList)
		st.Subdomains += len(e.subdomainList)
		st.Vulnerabilities += len(e.vulnList)
		e.mu.RUnlock()
	}
	return st
}
