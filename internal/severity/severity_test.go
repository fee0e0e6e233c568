package severity

import "testing"

func TestDefaultPolicy(t *testing.T) {
	tests := []struct {
		text string
		want Level
	}{
		{"Remote Code Execution via upload form", Critical},
		{"SQL injection in login parameter", Critical},
		{"Exposed .git directory", High},
		{"Outdated nginx 1.14 detected", Medium},
		{"Server banner information disclosure", Low},
		{"Port 22 open running OpenSSH", Info},
	}

	for _, tt := range tests {
		if got := Default(tt.text); got != tt.want {
			t.Errorf("Default(%q): expected %s, got %s", tt.text, tt.want, got)
		}
	}
}

func TestKeywordPolicyOrder(t *testing.T) {
	// "critical" outranks "low" even when both appear
	if got := Default("low impact but critical path"); got != Critical {
		t.Errorf("expected Critical, got %s", got)
	}
}

func TestKeywordPolicyCustomRules(t *testing.T) {
	rules := []Rule{{Level: Medium, Keywords: []string{"TLS"}}}
	p := KeywordPolicy(rules)

	// Mutating the input afterwards must not change the policy
	rules[0].Keywords[0] = "nothing"

	if got := p("weak tls ciphers"); got != Medium {
		t.Errorf("expected Medium, got %s", got)
	}
	if got := p("critical"); got != Info {
		t.Errorf("expected Info for unknown keyword set, got %s", got)
	}
}

func TestSummary(t *testing.T) {
	s := NewSummary()
	if len(s) != len(Order) {
		t.Fatalf("expected %d buckets, got %d", len(Order), len(s))
	}

	s.Add(High)
	s.Add(High)
	s.Add(Info)

	if s[High] != 2 {
		t.Errorf("expected 2 high, got %d", s[High])
	}
	if s.Total() != 3 {
		t.Errorf("expected total 3, got %d", s.Total())
	}
}

func TestRankAndSevere(t *testing.T) {
	if Rank(Critical) >= Rank(Low) {
		t.Error("critical should rank before low")
	}
	if !IsSevere(High) || IsSevere(Medium) {
		t.Error("only critical and high are severe")
	}
}
