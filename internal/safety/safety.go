// Package safety holds the command predicates applied before execution.
// Both predicates are pure: they never touch the filesystem or network.
package safety

import (
	"sort"
	"strings"

	"github.com/gabe/swarm/internal/coord"
)

// Category names
const (
	CategoryRecon    = "network_recon"
	CategoryWeb      = "web_scanning"
	CategoryVuln     = "vuln_scanning"
	CategoryAnalysis = "analysis"
	CategorySystem   = "system_info"
	CategoryDev      = "dev_tools"
	CategoryOSINT    = "osint"
	CategoryExtra    = "extra"
	CategoryUnknown  = "unknown"
)

// DefaultTools is the built-in allow-list grouped by category
var DefaultTools = map[string][]string{
	CategoryRecon: {
		"nmap", "rustscan", "masscan", "naabu", "nping", "fping", "arp-scan",
		"dnsrecon", "dnsenum", "dnsmap", "dnsx", "massdns", "puredns", "shuffledns",
		"amass", "subfinder", "assetfinder", "findomain", "httprobe", "httpx",
		"waybackurls", "gau", "gospider", "katana", "whois", "dig", "nslookup", "host",
	},
	CategoryWeb: {
		"nikto", "sqlmap", "dirb", "gobuster", "wfuzz", "ffuf", "feroxbuster",
		"whatweb", "webanalyze", "wafw00f", "wpscan", "joomscan", "droopescan",
		"cmseek", "nuclei", "curl", "wget", "sslscan", "testssl.sh",
	},
	CategoryVuln: {
		"trivy", "grype", "semgrep", "checkov", "tfsec", "terrascan", "lynis",
		"searchsploit",
	},
	CategoryAnalysis: {
		"strings", "file", "binwalk", "exiftool", "readelf", "objdump", "nm",
		"radare2", "r2", "yara", "sha256sum", "md5sum", "xxd", "hexdump",
	},
	CategorySystem: {
		"uname", "whoami", "hostname", "id", "ip", "ifconfig", "netstat", "ss",
		"ps", "lsof", "ls", "cat", "head", "tail", "wc", "echo",
	},
	CategoryDev: {
		"git", "jq", "sed", "awk", "grep", "sort", "uniq", "cut", "tr", "base64",
	},
	CategoryOSINT: {
		"recon-ng", "theharvester", "shodan", "censys", "asn",
	},
}

// ForbiddenPatterns are matched case-insensitively anywhere in a command
var ForbiddenPatterns = []string{
	"rm -rf",
	"mkfs",
	"dd if=/dev/zero",
	"chmod 777 /",
	"chown root /",
	"kill -9 1",
	"reboot",
	"shutdown",
	"halt",
	"init 0",
	"telinit 0",
	":(){:|:&};:",
	"while true;",
	"$(",
}

// Checker answers whether a command may run
type Checker struct {
	patterns   []string
	byCategory map[string][]string
	category   map[string]string
}

// New creates a checker from the built-in lists plus extra tools and patterns
func New(extraTools, extraPatterns []string) *Checker {
	c := &Checker{
		byCategory: make(map[string][]string),
		category:   make(map[string]string),
	}

	for _, p := range ForbiddenPatterns {
		c.patterns = append(c.patterns, strings.ToLower(p))
	}
	for _, p := range extraPatterns {
		if p = strings.TrimSpace(p); p != "" {
			c.patterns = append(c.patterns, strings.ToLower(p))
		}
	}

	cats := make([]string, 0, len(DefaultTools))
	for cat := range DefaultTools {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	for _, cat := range cats {
		for _, tool := range DefaultTools[cat] {
			c.add(cat, tool)
		}
	}
	for _, tool := range extraTools {
		c.add(CategoryExtra, tool)
	}
	return c
}

// add registers tool under cat; the first category a tool appears in wins
func (c *Checker) add(cat, tool string) {
	tool = strings.ToLower(strings.TrimSpace(tool))
	if tool == "" {
		return
	}
	if _, ok := c.category[tool]; ok {
		return
	}
	c.category[tool] = cat
	c.byCategory[cat] = append(c.byCategory[cat], tool)
}

// IsDangerous reports whether command contains a forbidden pattern
func (c *Checker) IsDangerous(command string) bool {
	lower := strings.ToLower(command)
	for _, p := range c.patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// IsAllowed reports whether the command's primary tool is on the allow-list
func (c *Checker) IsAllowed(command string) bool {
	tool := coord.PrimaryTool(strings.TrimPrefix(strings.TrimSpace(command), "RUN "))
	if tool == "" {
		return false
	}
	_, ok := c.category[tool]
	return ok
}

// CategoryOf returns the category of a tool or command, or CategoryUnknown
func (c *Checker) CategoryOf(tool string) string {
	if cat, ok := c.category[coord.PrimaryTool(tool)]; ok {
		return cat
	}
	return CategoryUnknown
}

// ToolsByCategory returns a copy of the allow-list, each list sorted
func (c *Checker) ToolsByCategory() map[string][]string {
	out := make(map[string][]string, len(c.byCategory))
	for cat, tools := range c.byCategory {
		cp := append([]string(nil), tools...)
		sort.Strings(cp)
		out[cat] = cp
	}
	return out
}
