package agent

import (
	"reflect"
	"testing"

	"github.com/gabe/swarm/internal/coord"
)

func TestParseCommands(t *testing.T) {
	tests := []struct {
		name     string
		response string
		number   int
		want     []string
	}{
		{
			name:     "single run line",
			response: "Let's start.\nRUN nmap -sV 10.0.0.1\nThen we'll see.",
			number:   1,
			want:     []string{"nmap -sV 10.0.0.1"},
		},
		{
			name:     "first run line wins",
			response: "RUN whois example.com\nRUN dig example.com",
			number:   1,
			want:     []string{"whois example.com"},
		},
		{
			name:     "backticks stripped",
			response: "RUN `curl -I http://example.com`",
			number:   1,
			want:     []string{"curl -I http://example.com"},
		},
		{
			name:     "batch entry for own number",
			response: `{"1": "RUN nmap -p- host", "2": "RUN gobuster dir -u http://host"}`,
			number:   2,
			want:     []string{"gobuster dir -u http://host"},
		},
		{
			name:     "batch without own number runs all in key order",
			response: `{"10": "RUN whatweb host", "2": "RUN nikto -h host"}`,
			number:   3,
			want:     []string{"nikto -h host", "whatweb host"},
		},
		{
			name:     "no commands",
			response: "I need to think about this.",
			number:   1,
			want:     nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseCommands(tt.response, tt.number)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestParseFindings(t *testing.T) {
	resp := "Summary\n<write>High: admin panel exposed</write>\n<write>  </write>\n<write>\nLow: banner leak\n</write>"
	got := ParseFindings(resp)
	want := []string{"High: admin panel exposed", "Low: banner leak"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestParseObservationsNmap(t *testing.T) {
	out := `PORT    STATE  SERVICE
22/tcp  open   ssh
80/tcp  open   http
443/tcp closed https
53/udp  open   domain`
	obs := ParseObservations("nmap -sV 10.0.0.1", out, "10.0.0.1")
	if len(obs) != 3 {
		t.Fatalf("expected 3 open ports, got %d", len(obs))
	}
	if obs[0].Kind != coord.DiscoveryPort || obs[0].Port != 22 || obs[0].Service != "ssh" {
		t.Errorf("unexpected first observation %+v", obs[0])
	}
	if obs[0].Key() != "22" || obs[0].Detail() != "ssh" {
		t.Errorf("unexpected key/detail %s/%s", obs[0].Key(), obs[0].Detail())
	}
}

func TestParseObservationsPaths(t *testing.T) {
	tests := []struct {
		name    string
		command string
		output  string
		path    string
		status  int
	}{
		{"gobuster", "gobuster dir -u http://host -w list", "/admin                (Status: 301) [Size: 0]", "/admin", 301},
		{"dirb", "dirb http://host", "+ http://host/backup (CODE:200|SIZE:1234)", "/backup", 200},
		{"ffuf", "ffuf -u http://host/FUZZ -w list", "login                   [Status: 200, Size: 512, Words: 20]", "/login", 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := ParseObservations(tt.command, tt.output, "host")
			if len(obs) != 1 {
				t.Fatalf("expected 1 observation, got %d", len(obs))
			}
			if obs[0].Kind != coord.DiscoveryDirectory || obs[0].Path != tt.path || obs[0].Status != tt.status {
				t.Errorf("unexpected observation %+v", obs[0])
			}
		})
	}
}

func TestParseObservationsSubdomains(t *testing.T) {
	out := "api.example.com\nwww.example.com\nAPI.example.com\nunrelated.org\n"
	obs := ParseObservations("subfinder -d example.com", out, "example.com")
	if len(obs) != 2 {
		t.Fatalf("expected 2 subdomains, got %d", len(obs))
	}
	if obs[0].Subdomain != "api.example.com" || obs[1].Subdomain != "www.example.com" {
		t.Errorf("unexpected subdomains %+v", obs)
	}
}

func TestParseObservationsIgnoresOtherTools(t *testing.T) {
	if obs := ParseObservations("whois example.com", "22/tcp open ssh", "example.com"); len(obs) != 0 {
		t.Errorf("expected no observations, got %+v", obs)
	}
}
