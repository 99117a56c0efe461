// Package postgres persists answered questions and their chat transcripts.
// The archive is write-mostly: the answering pipeline never reads from it.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/querypilot/querypilot/internal/chat"
)

// DBConfig holds the connection settings for the archive database. The
// archive sees a handful of short writes per answered question, so a small
// fixed-size pool is enough.
type DBConfig struct {
	DSN             string
	MaxConns        int
	ConnMaxLifetime time.Duration
}

func Open(ctx context.Context, cfg DBConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("archive dsn is required")
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open archive db: %w", err)
	}

	conns := cfg.MaxConns
	if conns <= 0 {
		conns = 4
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping archive db: %w", err)
	}

	return db, nil
}

// AnswerRecord is one terminal answer outcome as stored in the archive.
type AnswerRecord struct {
	AnswerID string
	Question string
	SQL      string
	Refused  bool
	Repairs  int
	RowCount int
	AskedAt  time.Time
}

type Archive struct {
	db *sql.DB
}

func NewArchive(db *sql.DB) *Archive {
	return &Archive{db: db}
}

// EnsureSchema creates the archive tables when they do not exist yet.
func (a *Archive) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS answer (
	answer_id TEXT PRIMARY KEY,
	question TEXT NOT NULL,
	sql_text TEXT NOT NULL,
	refused BOOLEAN NOT NULL,
	repairs INT NOT NULL,
	row_count INT NOT NULL,
	asked_at TIMESTAMPTZ NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE TABLE IF NOT EXISTS answer_transcript (
	answer_id TEXT NOT NULL REFERENCES answer (answer_id),
	seq INT NOT NULL,
	entry_time TIMESTAMPTZ NOT NULL,
	conversation_json JSONB NOT NULL,
	PRIMARY KEY (answer_id, seq)
)`,
	}
	for _, statement := range statements {
		if _, err := a.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("ensure archive schema: %w", err)
		}
	}
	return nil
}

func (a *Archive) SaveAnswer(ctx context.Context, record AnswerRecord) error {
	_, err := a.db.ExecContext(ctx, `
INSERT INTO answer (answer_id, question, sql_text, refused, repairs, row_count, asked_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		record.AnswerID,
		record.Question,
		record.SQL,
		record.Refused,
		record.Repairs,
		record.RowCount,
		record.AskedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save answer %q: %w", record.AnswerID, err)
	}
	return nil
}

// SaveTranscript stores the conversation history for an answered question,
// one row per history entry, preserving insertion order.
func (a *Archive) SaveTranscript(ctx context.Context, answerID string, entries []chat.HistoryEntry) error {
	for seq, entry := range entries {
		conversation, err := json.Marshal(entry.Conversation)
		if err != nil {
			return fmt.Errorf("marshal transcript entry %d: %w", seq, err)
		}
		_, err = a.db.ExecContext(ctx, `
INSERT INTO answer_transcript (answer_id, seq, entry_time, conversation_json)
VALUES ($1, $2, $3, $4::jsonb)`,
			answerID,
			seq,
			entry.Timestamp.UTC(),
			string(conversation),
		)
		if err != nil {
			return fmt.Errorf("save transcript entry %d for %q: %w", seq, answerID, err)
		}
	}
	return nil
}

// RecentAnswers returns the most recently recorded answers, newest first.
func (a *Archive) RecentAnswers(ctx context.Context, limit int) ([]AnswerRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.db.QueryContext(ctx, `
SELECT answer_id, question, sql_text, refused, repairs, row_count, asked_at
FROM answer
ORDER BY asked_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent answers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []AnswerRecord
	for rows.Next() {
		var record AnswerRecord
		if err := rows.Scan(
			&record.AnswerID,
			&record.Question,
			&record.SQL,
			&record.Refused,
			&record.Repairs,
			&record.RowCount,
			&record.AskedAt,
		); err != nil {
			return nil, fmt.Errorf("scan answer row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answer rows: %w", err)
	}
	return records, nil
}
