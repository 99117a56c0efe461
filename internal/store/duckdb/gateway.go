package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/store"
)

// bannedVerbs is a coarse lexical gate, not a parser. It can over-reject (a
// verb inside a string literal or identifier) and under-reject (verbs
// expressed through synonyms); it is a guardrail, not a sandbox.
var bannedVerbs = []string{
	"DROP", "DELETE", "TRUNCATE", "ALTER", "INSERT", "UPDATE", "CREATE", "REPLACE", "MERGE",
}

// Gateway executes read-only SQL against the Olist DuckDB database file. A
// fresh connection is opened per execution and closed on every exit path.
type Gateway struct {
	path   string
	logger *slog.Logger

	// open is swapped in tests to avoid a real database file.
	open func() (*sql.DB, error)
}

func NewGateway(path string, logger *slog.Logger) (*Gateway, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("dataset path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{path: strings.TrimSpace(path), logger: logger}
	g.open = func() (*sql.DB, error) {
		db, err := sql.Open("duckdb", g.path+"?access_mode=read_only")
		if err != nil {
			return nil, fmt.Errorf("open dataset %q: %w", g.path, err)
		}
		return db, nil
	}
	return g, nil
}

// Execute runs query against the dataset at the given repair iteration.
// It fails with store.ErrInvalidInput for blank query text,
// store.ErrRetryLimitExceeded when iteration exceeds store.MaxRepairs, and
// store.ErrForbiddenOperation when the denylist matches; in that case the
// engine is never contacted. Engine-level failures are logged with the full
// query text and returned as *store.ExecutionError; repair is the caller's
// concern.
func (g *Gateway) Execute(ctx context.Context, query string, iteration int) (store.Result, error) {
	if strings.TrimSpace(query) == "" {
		g.logger.Error("rejected blank query text")
		return store.Result{}, store.ErrInvalidInput
	}
	if iteration > store.MaxRepairs {
		g.logger.Error("query retry limit exceeded", slog.Int("iteration", iteration))
		return store.Result{}, store.ErrRetryLimitExceeded
	}
	if err := safetyCheck(query); err != nil {
		g.logger.Error("query failed safety check", slog.String("query", query), slog.Any("error", err))
		return store.Result{}, err
	}

	db, err := g.open()
	if err != nil {
		g.logger.Error("failed to open dataset", slog.Any("error", err))
		return store.Result{}, &store.ExecutionError{Query: query, Err: err}
	}
	defer func() { _ = db.Close() }()

	g.logger.Info("executing query", slog.String("query", query), slog.Int("iteration", iteration))
	start := time.Now()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		g.logger.Error("query execution failed", slog.String("query", query), slog.Any("error", err))
		return store.Result{}, &store.ExecutionError{Query: query, Err: err}
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		g.logger.Error("query columns failed", slog.String("query", query), slog.Any("error", err))
		return store.Result{}, &store.ExecutionError{Query: query, Err: err}
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			g.logger.Error("row scan failed", slog.String("query", query), slog.Any("error", err))
			return store.Result{}, &store.ExecutionError{Query: query, Err: err}
		}
		resultRows = append(resultRows, values)
	}
	if err := rows.Err(); err != nil {
		g.logger.Error("row iteration failed", slog.String("query", query), slog.Any("error", err))
		return store.Result{}, &store.ExecutionError{Query: query, Err: err}
	}

	observability.ObserveQueryDuration(time.Since(start))
	g.logger.Info("query executed", slog.Int("rows", len(resultRows)), slog.Duration("elapsed", time.Since(start)))
	return store.Result{Columns: columns, Rows: resultRows}, nil
}

func safetyCheck(query string) error {
	upper := strings.ToUpper(query)
	for _, verb := range bannedVerbs {
		if strings.Contains(upper, verb) {
			return fmt.Errorf("%w: %s", store.ErrForbiddenOperation, verb)
		}
	}
	return nil
}
