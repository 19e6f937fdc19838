// Package postgres implements the case gateway on PostgreSQL using a pgx pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/intake/internal/core"
)

// Config holds pool settings.
type Config struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Store is a core.CaseGateway backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects a pool and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(pool), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const schema = `
CREATE TABLE IF NOT EXISTS imports (
    id            UUID PRIMARY KEY,
    file_name     TEXT NOT NULL,
    total_rows    INTEGER NOT NULL,
    status        TEXT NOT NULL CHECK (status IN ('PROCESSING', 'COMPLETED', 'FAILED')),
    success_count INTEGER NOT NULL DEFAULT 0,
    failure_count INTEGER NOT NULL DEFAULT 0,
    created_by    TEXT NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS cases (
    id             UUID PRIMARY KEY,
    import_id      UUID NOT NULL REFERENCES imports(id),
    case_id        TEXT NOT NULL UNIQUE,
    applicant_name TEXT NOT NULL,
    dob            DATE NOT NULL,
    email          TEXT,
    phone          TEXT,
    category       TEXT NOT NULL,
    priority       TEXT NOT NULL,
    created_by     TEXT NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_cases_import ON cases(import_id);

CREATE TABLE IF NOT EXISTS case_history (
    id         BIGSERIAL PRIMARY KEY,
    case_id    TEXT NOT NULL,
    action     TEXT NOT NULL,
    detail     TEXT,
    operator   TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_case_history_case ON case_history(case_id);
`

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// CreateImport implements core.CaseGateway.
func (s *Store) CreateImport(ctx context.Context, rec core.ImportRecord) (string, error) {
	if err := core.CheckImportRecord(rec); err != nil {
		return "", err
	}
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO imports (id, file_name, total_rows, status, created_by)
		VALUES ($1, $2, $3, $4, $5)`,
		toPgUUID(id), rec.FileName, rec.TotalRows, string(core.ImportProcessing), core.CreatedBy(ctx, rec.CreatedBy),
	)
	if err != nil {
		return "", fmt.Errorf("insert import: %w", err)
	}
	return id.String(), nil
}

// UpdateImport implements core.CaseGateway.
func (s *Store) UpdateImport(ctx context.Context, id string, upd core.ImportUpdate) error {
	if !upd.Status.Valid() {
		return fmt.Errorf("invalid import status %q", upd.Status)
	}
	pgID, err := parseUUID(id)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE imports
		SET status = $2, success_count = $3, failure_count = $4, updated_at = now()
		WHERE id = $1`,
		pgID, string(upd.Status), upd.SuccessCount, upd.FailureCount,
	)
	if err != nil {
		return fmt.Errorf("update import: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrImportNotFound
	}
	return nil
}

// GetImport returns a stored import record.
func (s *Store) GetImport(ctx context.Context, id string) (core.Import, error) {
	pgID, err := parseUUID(id)
	if err != nil {
		return core.Import{}, err
	}

	var (
		imp    core.Import
		status string
	)
	err = s.pool.QueryRow(ctx, `
		SELECT file_name, total_rows, status, success_count, failure_count, created_by, created_at, updated_at
		FROM imports WHERE id = $1`, pgID,
	).Scan(&imp.FileName, &imp.TotalRows, &status, &imp.SuccessCount, &imp.FailureCount,
		&imp.CreatedBy, &imp.CreatedAt, &imp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Import{}, core.ErrImportNotFound
	}
	if err != nil {
		return core.Import{}, fmt.Errorf("get import: %w", err)
	}
	imp.ID = id
	imp.Status = core.ImportStatus(status)
	return imp, nil
}

// CreateCases implements core.CaseGateway. Every row is inserted under its
// own savepoint so a rejected row does not undo the rest of the batch.
func (s *Store) CreateCases(ctx context.Context, importID string, cases []core.CasePayload) ([]core.BatchResult, error) {
	if err := core.CheckBatch(cases); err != nil {
		return nil, err
	}
	pgID, err := parseUUID(importID)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var owner string
	err = tx.QueryRow(ctx, `SELECT created_by FROM imports WHERE id = $1`, pgID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrImportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup import: %w", err)
	}
	operator := core.CreatedBy(ctx, owner)

	results := make([]core.BatchResult, len(cases))
	for i, c := range cases {
		results[i] = core.BatchResult{CaseID: c.CaseID}
		if msg := core.CheckPayload(c); msg != "" {
			results[i].Error = msg
			continue
		}

		savepoint := fmt.Sprintf("sp_%d", i)
		if _, err := tx.Exec(ctx, "SAVEPOINT "+savepoint); err != nil {
			return nil, fmt.Errorf("create savepoint: %w", err)
		}

		createdID, err := insertCase(ctx, tx, pgID, c, operator)
		if err != nil {
			if _, rbErr := tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
				return nil, fmt.Errorf("rollback savepoint: %w", rbErr)
			}
			results[i].Error = rowError(err)
			if !isUniqueViolation(err) {
				slog.Warn("case insert failed", "import_id", importID, "case_id", c.CaseID, "error", err)
			}
			continue
		}

		if _, err := tx.Exec(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
			return nil, fmt.Errorf("release savepoint: %w", err)
		}
		results[i].Success = true
		results[i].CreatedID = createdID
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return results, nil
}

func insertCase(ctx context.Context, tx pgx.Tx, importID pgtype.UUID, c core.CasePayload, operator string) (string, error) {
	id := uuid.New()
	_, err := tx.Exec(ctx, `
		INSERT INTO cases (id, import_id, case_id, applicant_name, dob, email, phone, category, priority, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		toPgUUID(id), importID, c.CaseID, c.ApplicantName, toPgDate(c.DOB),
		toPgText(c.Email), toPgText(c.Phone), c.Category, c.Priority, operator,
	)
	if err != nil {
		return "", err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO case_history (case_id, action, detail, operator)
		VALUES ($1, $2, $3, $4)`,
		c.CaseID, core.ActionCreated, "Created from import "+uuidString(importID), operator,
	)
	if err != nil {
		return "", fmt.Errorf("insert history: %w", err)
	}
	return id.String(), nil
}

// CaseHistory returns a case's history, oldest first.
func (s *Store) CaseHistory(ctx context.Context, caseID string) ([]core.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT case_id, action, COALESCE(detail, ''), operator, created_at
		FROM case_history
		WHERE case_id = $1
		ORDER BY created_at, id`, caseID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.HistoryEntry, error) {
		var e core.HistoryEntry
		err := row.Scan(&e.CaseID, &e.Action, &e.Detail, &e.Operator, &e.CreatedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}
	if len(entries) == 0 {
		return nil, core.ErrCaseNotFound
	}
	return entries, nil
}

// rowError turns an insert failure into the per-row message returned to the caller.
func rowError(err error) string {
	if isUniqueViolation(err) {
		return core.DuplicateCaseMessage
	}
	return core.MapError(err).Message
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ core.CaseGateway = (*Store)(nil)
