package agent

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/gabe/swarm/internal/coord"
)

var (
	batchPattern   = regexp.MustCompile(`\{[^{}]*"RUN [^{}]*\}`)
	runLinePattern = regexp.MustCompile(`(?m)\bRUN\s+(.+?)\s*$`)
	writePattern   = regexp.MustCompile(`(?s)<write>(.*?)</write>`)

	nmapPortPattern  = regexp.MustCompile(`(\d+)/(?:tcp|udp)\s+open\s+(\S+)`)
	gobusterPattern  = regexp.MustCompile(`(/\S*)\s+\(Status:\s*(\d+)`)
	dirbPattern      = regexp.MustCompile(`\+\s+\S*?://[^/\s]+(/\S*)\s+\(CODE:(\d+)`)
	ffufPattern      = regexp.MustCompile(`(?m)^(\S+)\s+\[Status:\s*(\d+)`)
	hostLabelPattern = `(?:[a-zA-Z0-9][-a-zA-Z0-9]*\.)+`
)

// ParseCommands extracts the commands a response asks this agent to run,
// without their RUN prefix. A JSON batch keyed by agent number wins; the
// entry for number is used when present, otherwise every batch entry in key
// order. Without a batch, the first RUN line is used.
func ParseCommands(response string, number int) []string {
	if cmds, ok := parseBatch(response, number); ok {
		return cmds
	}
	m := runLinePattern.FindStringSubmatch(response)
	if m == nil {
		return nil
	}
	if cmd := cleanCommand(m[1]); cmd != "" {
		return []string{cmd}
	}
	return nil
}

func parseBatch(response string, number int) ([]string, bool) {
	for _, raw := range batchPattern.FindAllString(response, -1) {
		var batch map[string]string
		if err := json.Unmarshal([]byte(raw), &batch); err != nil {
			continue
		}

		if own, ok := batch[strconv.Itoa(number)]; ok {
			if cmd := stripRun(own); cmd != "" {
				return []string{cmd}, true
			}
			return nil, true
		}

		keys := make([]string, 0, len(batch))
		for k := range batch {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			a, errA := strconv.Atoi(keys[i])
			b, errB := strconv.Atoi(keys[j])
			if errA == nil && errB == nil {
				return a < b
			}
			return keys[i] < keys[j]
		})

		var cmds []string
		for _, k := range keys {
			if cmd := stripRun(batch[k]); cmd != "" {
				cmds = append(cmds, cmd)
			}
		}
		return cmds, true
	}
	return nil, false
}

func stripRun(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "RUN ") {
		return ""
	}
	return cleanCommand(s[len("RUN "):])
}

func cleanCommand(s string) string {
	return strings.Trim(strings.TrimSpace(s), "`")
}

// ParseFindings returns the trimmed, non-empty contents of every <write> block
func ParseFindings(response string) []string {
	var out []string
	for _, m := range writePattern.FindAllStringSubmatch(response, -1) {
		if f := strings.TrimSpace(m[1]); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Observation is one structured fact pulled from tool output
type Observation struct {
	Kind      coord.DiscoveryKind
	Port      int
	Service   string
	Path      string
	Status    int
	Subdomain string
}

// Key is the fact's identity as shared on the bus
func (o Observation) Key() string {
	switch o.Kind {
	case coord.DiscoveryPort:
		return strconv.Itoa(o.Port)
	case coord.DiscoveryDirectory:
		return o.Path
	default:
		return o.Subdomain
	}
}

// Detail is the extra context shared alongside the key
func (o Observation) Detail() string {
	switch o.Kind {
	case coord.DiscoveryPort:
		return o.Service
	case coord.DiscoveryDirectory:
		return strconv.Itoa(o.Status)
	default:
		return ""
	}
}

// ParseObservations extracts ports, paths and subdomains from the output of
// the scanners it knows. Output of any other command yields nothing.
func ParseObservations(command, output, target string) []Observation {
	lower := strings.ToLower(command)
	var out []Observation

	if strings.Contains(lower, "nmap") {
		for _, m := range nmapPortPattern.FindAllStringSubmatch(output, -1) {
			port, err := strconv.Atoi(m[1])
			if err != nil || port <= 0 || port > 65535 {
				continue
			}
			out = append(out, Observation{Kind: coord.DiscoveryPort, Port: port, Service: m[2]})
		}
	}

	switch {
	case strings.Contains(lower, "gobuster"):
		out = appendPaths(out, gobusterPattern, output)
	case strings.Contains(lower, "dirb"):
		out = appendPaths(out, dirbPattern, output)
	case strings.Contains(lower, "ffuf"):
		out = appendPaths(out, ffufPattern, output)
	}

	if (strings.Contains(lower, "subfinder") || strings.Contains(lower, "amass")) && target != "" {
		re := regexp.MustCompile(`\b(` + hostLabelPattern + regexp.QuoteMeta(target) + `)\b`)
		seen := make(map[string]bool)
		for _, m := range re.FindAllStringSubmatch(output, -1) {
			name := strings.ToLower(m[1])
			if seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, Observation{Kind: coord.DiscoverySubdomain, Subdomain: name})
		}
	}
	return out
}

func appendPaths(out []Observation, re *regexp.Regexp, output string) []Observation {
	for _, m := range re.FindAllStringSubmatch(output, -1) {
		status, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		path := m[1]
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		out = append(out, Observation{Kind: coord.DiscoveryDirectory, Path: path, Status: status})
	}
	return out
}
