// Package storage persists findings, executions, conversations and events.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabe/swarm/internal/agent"
	"github.com/gabe/swarm/internal/severity"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS findings (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id     TEXT NOT NULL,
	agent_number INTEGER NOT NULL,
	target       TEXT NOT NULL,
	category     TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL,
	severity     TEXT NOT NULL,
	created_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_findings_agent ON findings(agent_id);
CREATE INDEX IF NOT EXISTS idx_findings_severity ON findings(severity);

CREATE TABLE IF NOT EXISTS executions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id    TEXT NOT NULL,
	command     TEXT NOT NULL,
	result      TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_agent ON executions(agent_id);

CREATE TABLE IF NOT EXISTS conversations (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id   TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	iteration  INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_agent ON conversations(agent_id, iteration);
`

// Store is the sqlite database behind an operation
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// FindingFilter defines filtering options for listing findings
type FindingFilter struct {
	AgentID  string
	Target   string
	Severity severity.Level
	Limit    int // 0 = no limit
}

// Open opens or creates the database at path
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	for _, pragma := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA synchronous=NORMAL;"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveFinding inserts a finding
func (s *Store) SaveFinding(f agent.Finding) error {
	ts := f.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	_, err := s.db.Exec(
		`INSERT INTO findings (agent_id, agent_number, target, category, content, severity, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.AgentID, f.AgentNumber, f.Target, f.Category, f.Content, string(f.Severity), ts.UTC())
	if err != nil {
		return fmt.Errorf("failed to save finding: %w", err)
	}
	return nil
}

// SaveExecution inserts one executed command
func (s *Store) SaveExecution(agentID string, e agent.Execution) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	_, err := s.db.Exec(
		`INSERT INTO executions (agent_id, command, result, duration_ms, created_at) VALUES (?, ?, ?, ?, ?)`,
		agentID, e.Command, e.Result, e.Duration.Milliseconds(), ts.UTC())
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}
	return nil
}

// SaveConversation inserts one side of an oracle exchange
func (s *Store) SaveConversation(agentID, role, content string, iteration int) error {
	_, err := s.db.Exec(
		`INSERT INTO conversations (agent_id, role, content, iteration, created_at) VALUES (?, ?, ?, ?, ?)`,
		agentID, role, content, iteration, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// ListFindings returns findings matching the filter, oldest first
func (s *Store) ListFindings(filter FindingFilter) ([]agent.Finding, error) {
	var (
		where []string
		args  []any
	)
	if filter.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, filter.AgentID)
	}
	if filter.Target != "" {
		where = append(where, "target = ?")
		args = append(args, filter.Target)
	}
	if filter.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, string(filter.Severity))
	}

	q := "SELECT agent_id, agent_number, target, category, content, severity, created_at FROM findings"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	defer rows.Close()

	var out []agent.Finding
	for rows.Next() {
		var (
			f   agent.Finding
			sev string
		)
		if err := rows.Scan(&f.AgentID, &f.AgentNumber, &f.Target, &f.Category, &f.Content, &sev, &f.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		f.Severity = severity.Level(sev)
		out = append(out, f)
	}
	return out, rows.Err()
}

// SeverityCounts counts stored findings per severity
func (s *Store) SeverityCounts() (severity.Summary, error) {
	rows, err := s.db.Query("SELECT severity, COUNT(*) FROM findings GROUP BY severity")
	if err != nil {
		return nil, fmt.Errorf("failed to count findings: %w", err)
	}
	defer rows.Close()

	summary := severity.NewSummary()
	for rows.Next() {
		var (
			sev string
			n   int
		)
		if err := rows.Scan(&sev, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		summary[severity.Level(sev)] = n
	}
	return summary, rows.Err()
}

// ExecutionCount returns how many commands agentID ran, or all agents when empty
func (s *Store) ExecutionCount(agentID string) (int, error) {
	q := "SELECT COUNT(*) FROM executions"
	var args []any
	if agentID != "" {
		q += " WHERE agent_id = ?"
		args = append(args, agentID)
	}
	var n int
	if err := s.db.QueryRow(q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}
	return n, nil
}

// Conversation returns an agent's exchanges in order as role/content pairs
func (s *Store) Conversation(agentID string) ([][2]string, error) {
	rows, err := s.db.Query(
		"SELECT role, content FROM conversations WHERE agent_id = ? ORDER BY iteration, id", agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation: %w", err)
	}
	defer rows.Close()

	var out [][2]string
	for rows.Next() {
		var pair [2]string
		if err := rows.Scan(&pair[0], &pair[1]); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		out = append(out, pair)
	}
	return out, rows.Err()
}
