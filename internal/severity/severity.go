// Package severity classifies finding text into severity buckets.
// Classification is a swappable Policy so the agent loop never hardcodes keywords.
package severity

import "strings"

// Level is a finding severity bucket
type Level string

const (
	Critical Level = "Critical"
	High     Level = "High"
	Medium   Level = "Medium"
	Low      Level = "Low"
	Info     Level = "Info"
)

// Order lists every level from most to least severe
var Order = []Level{Critical, High, Medium, Low, Info}

// Policy maps free-form finding text to a level
type Policy func(text string) Level

// Rule is one entry of an ordered keyword policy
type Rule struct {
	Level    Level
	Keywords []string
}

// DefaultRules are checked top to bottom; the first rule with a matching keyword wins
var DefaultRules = []Rule{
	{Level: Critical, Keywords: []string{"critical", "remote code execution", "rce", "sql injection", "authentication bypass"}},
	{Level: High, Keywords: []string{"high", "vulnerability", "exploit", "exposed", "sensitive"}},
	{Level: Medium, Keywords: []string{"medium", "misconfiguration", "weak", "outdated"}},
	{Level: Low, Keywords: []string{"low", "information disclosure", "warning"}},
}

// Default is the keyword policy built from DefaultRules
var Default = KeywordPolicy(DefaultRules)

// KeywordPolicy builds a case-insensitive substring policy. Text matching no rule is Info.
func KeywordPolicy(rules []Rule) Policy {
	// Copy so callers can't mutate the policy after construction
	compiled := make([]Rule, len(rules))
	for i, r := range rules {
		kws := make([]string, len(r.Keywords))
		for j, kw := range r.Keywords {
			kws[j] = strings.ToLower(kw)
		}
		compiled[i] = Rule{Level: r.Level, Keywords: kws}
	}

	return func(text string) Level {
		lower := strings.ToLower(text)
		for _, r := range compiled {
			for _, kw := range r.Keywords {
				if strings.Contains(lower, kw) {
					return r.Level
				}
			}
		}
		return Info
	}
}

// IsSevere reports whether a level should also be tracked as a vulnerability
func IsSevere(l Level) bool {
	return l == Critical || l == High
}

// Rank returns a sort key, lower is more severe
func Rank(l Level) int {
	for i, o := range Order {
		if o == l {
			return i
		}
	}
	return len(Order)
}

// Summary counts findings per level
type Summary map[Level]int

// NewSummary returns a summary with every bucket present at zero
func NewSummary() Summary {
	s := make(Summary, len(Order))
	for _, l := range Order {
		s[l] = 0
	}
	return s
}

// Add increments the bucket for l
func (s Summary) Add(l Level) {
	s[l]++
}

// Total returns the number of findings across all buckets
func (s Summary) Total() int {
	n := 0
	for _, c := range s {
		n += c
	}
	return n
}
