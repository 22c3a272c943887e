// File: internal/audit/store.go

// Package audit persists the invocation trail to PostgreSQL. Every completed
// agent invocation becomes one row, with the coordinator's key findings
// copied alongside it for cross-referencing against source documents.
package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/diligence-cli/api/schemas"
)

// DBPool abstracts pgxpool.Pool so the store can be tested against a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store is the PostgreSQL-backed audit trail.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping audit database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("audit"),
	}, nil
}

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS agent_invocations (
		id UUID PRIMARY KEY,
		run_id TEXT NOT NULL DEFAULT '',
		agent_name TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		query TEXT NOT NULL,
		success BOOLEAN NOT NULL,
		status TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ NOT NULL,
		elapsed_ms BIGINT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS invocation_findings (
		invocation_id UUID NOT NULL REFERENCES agent_invocations(id),
		category TEXT NOT NULL,
		severity TEXT NOT NULL,
		finding TEXT NOT NULL,
		source_agent TEXT NOT NULL DEFAULT ''
	);
`

// EnsureSchema creates the audit tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}

const insertInvocationSQL = `
	INSERT INTO agent_invocations
		(id, run_id, agent_name, agent_id, query, success, status, message, started_at, elapsed_ms)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
`

// RecordInvocation appends one invocation and its findings in a single
// transaction, so a partially written record never appears in the trail.
func (s *Store) RecordInvocation(ctx context.Context, rec schemas.InvocationRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	id := uuid.New()
	_, err = tx.Exec(ctx, insertInvocationSQL,
		id, rec.RunID, rec.AgentName, string(rec.AgentID), rec.Query,
		rec.Success, string(rec.Status), rec.Message,
		rec.StartedAt.UTC(), rec.Elapsed.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert invocation: %w", err)
	}

	if len(rec.Findings) > 0 {
		rows := make([][]interface{}, len(rec.Findings))
		for i, f := range rec.Findings {
			rows[i] = []interface{}{id, f.Category, string(f.Severity), f.Finding, f.SourceAgent}
		}
		copied, err := tx.CopyFrom(
			ctx,
			pgx.Identifier{"invocation_findings"},
			[]string{"invocation_id", "category", "severity", "finding", "source_agent"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("failed to copy findings: %w", err)
		}
		if int(copied) != len(rec.Findings) {
			return fmt.Errorf("mismatch in copied findings count: expected %d, got %d", len(rec.Findings), copied)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// InvocationsByRun returns the invocations of one run in execution order.
func (s *Store) InvocationsByRun(ctx context.Context, runID string) ([]schemas.InvocationRecord, error) {
	query := `
		SELECT agent_name, agent_id, query, success, status, message, started_at
		FROM agent_invocations
		WHERE run_id = $1
		ORDER BY started_at ASC;
	`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query invocations: %w", err)
	}
	defer rows.Close()

	var recs []schemas.InvocationRecord
	for rows.Next() {
		var (
			rec             schemas.InvocationRecord
			agentID, status string
		)
		if err := rows.Scan(&rec.AgentName, &agentID, &rec.Query, &rec.Success, &status, &rec.Message, &rec.StartedAt); err != nil {
			return nil, fmt.Errorf("failed to scan invocation row: %w", err)
		}
		rec.RunID = runID
		rec.AgentID = schemas.AgentID(agentID)
		rec.Status = schemas.ResultStatus(status)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return recs, nil
}
