// Package transcript persists completed agent runs in a SQLite database
// for later review and replay.
package transcript

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mkeller/taskpilot/internal/llm"
)

// RunRecord is one persisted agent run.
type RunRecord struct {
	ID            string         `json:"id"`
	Instruction   string         `json:"instruction"`
	Model         string         `json:"model"`
	Turns         int            `json:"turns"`
	MaxTurns      int            `json:"max_turns"`
	InputTokens   int            `json:"input_tokens"`
	OutputTokens  int            `json:"output_tokens"`
	Truncated     bool           `json:"truncated"`
	ExhaustReason string         `json:"exhaust_reason,omitempty"`
	ToolsCalled   map[string]int `json:"tools_called,omitempty"`
	Messages      []llm.Message  `json:"messages,omitempty"`
	ResultContent string         `json:"result_content"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   time.Time      `json:"completed_at"`
	DurationMs    int64          `json:"duration_ms"`
	Error         string         `json:"error,omitempty"`
}

// Store persists run records. It owns the table but not the connection;
// callers open the database and pass it in.
type Store struct {
	db *sql.DB
}

// NewStore creates a run store on the given database connection and
// creates the runs table if it does not already exist.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("transcript store migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id             TEXT PRIMARY KEY,
			instruction    TEXT NOT NULL,
			model          TEXT NOT NULL,
			turns          INTEGER NOT NULL,
			max_turns      INTEGER NOT NULL,
			input_tokens   INTEGER NOT NULL,
			output_tokens  INTEGER NOT NULL,
			truncated      BOOLEAN NOT NULL DEFAULT 0,
			exhaust_reason TEXT,
			tools_called   TEXT,
			messages       TEXT,
			result_content TEXT,
			started_at     TEXT NOT NULL,
			completed_at   TEXT NOT NULL,
			duration_ms    INTEGER NOT NULL,
			error          TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_runs_started
			ON runs(started_at DESC);
		CREATE INDEX IF NOT EXISTS idx_runs_model
			ON runs(model);
	`)
	return err
}

// Record inserts a run record into the database.
func (s *Store) Record(rec *RunRecord) error {
	toolsJSON, err := json.Marshal(rec.ToolsCalled)
	if err != nil {
		return fmt.Errorf("marshal tools_called: %w", err)
	}

	msgsJSON, err := json.Marshal(rec.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (
			id, instruction, model, turns, max_turns,
			input_tokens, output_tokens, truncated, exhaust_reason,
			tools_called, messages, result_content,
			started_at, completed_at, duration_ms, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Instruction, rec.Model,
		rec.Turns, rec.MaxTurns,
		rec.InputTokens, rec.OutputTokens,
		rec.Truncated, rec.ExhaustReason,
		string(toolsJSON), string(msgsJSON),
		rec.ResultContent,
		rec.StartedAt.Format(time.RFC3339Nano),
		rec.CompletedAt.Format(time.RFC3339Nano),
		rec.DurationMs, rec.Error,
	)
	return err
}

// Get retrieves a single run record by ID.
func (s *Store) Get(id string) (*RunRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, instruction, model, turns, max_turns,
			input_tokens, output_tokens, truncated, exhaust_reason,
			tools_called, messages, result_content,
			started_at, completed_at, duration_ms, error
		FROM runs WHERE id = ?`, id)
	return scanInto(row)
}

// List returns run records ordered newest-first. If limit is 0, all
// records are returned.
func (s *Store) List(limit int) ([]*RunRecord, error) {
	query := `
		SELECT id, instruction, model, turns, max_turns,
			input_tokens, output_tokens, truncated, exhaust_reason,
			tools_called, messages, result_content,
			started_at, completed_at, duration_ms, error
		FROM runs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*RunRecord
	for rows.Next() {
		rec, err := scanInto(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows for shared scanning logic.
type scanner interface {
	Scan(dest ...any) error
}

func scanInto(s scanner) (*RunRecord, error) {
	var rec RunRecord
	var exhaustReason, toolsJSON, msgsJSON, resultContent, errStr sql.NullString
	var startedAt, completedAt string

	err := s.Scan(
		&rec.ID, &rec.Instruction, &rec.Model,
		&rec.Turns, &rec.MaxTurns,
		&rec.InputTokens, &rec.OutputTokens,
		&rec.Truncated, &exhaustReason,
		&toolsJSON, &msgsJSON, &resultContent,
		&startedAt, &completedAt,
		&rec.DurationMs, &errStr,
	)
	if err != nil {
		return nil, err
	}

	rec.ExhaustReason = exhaustReason.String
	rec.ResultContent = resultContent.String
	rec.Error = errStr.String

	rec.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	rec.CompletedAt, _ = time.Parse(time.RFC3339Nano, completedAt)

	if toolsJSON.Valid && toolsJSON.String != "" {
		_ = json.Unmarshal([]byte(toolsJSON.String), &rec.ToolsCalled)
	}
	if msgsJSON.Valid && msgsJSON.String != "" {
		_ = json.Unmarshal([]byte(msgsJSON.String), &rec.Messages)
	}

	return &rec, nil
}

// ExtractToolsCalled scans a message history and returns a map of tool
// names to invocation counts.
func ExtractToolsCalled(messages []llm.Message) map[string]int {
	counts := make(map[string]int)
	for _, msg := range messages {
		if msg.Role != "assistant" {
			continue
		}
		for _, b := range msg.ToolUses() {
			counts[b.Name]++
		}
	}
	if len(counts) == 0 {
		return nil
	}
	return counts
}
