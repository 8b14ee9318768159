package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/nftmarket/service/pipeline"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// ErrSubmissionNotFound is returned when no submission has the requested id.
var ErrSubmissionNotFound = errors.New("submission not found")

// Store provides database operations for the service.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the tables the store needs if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// ListSubmissionsParams filters and pages ListSubmissions. Empty filters match
// everything.
type ListSubmissionsParams struct {
	Action string
	State  string
	Limit  int32
	Offset int32
}

const submissionColumns = `id, action, intent_key, state, failure_kind, hash, error, created_at, updated_at`

// RecordSubmission inserts a submission or replaces the stored one with the
// same id. It satisfies pipeline.Journal.
func (s *Store) RecordSubmission(ctx context.Context, sub pipeline.Submission) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO submissions (`+submissionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			failure_kind = EXCLUDED.failure_kind,
			hash = EXCLUDED.hash,
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at`,
		sub.ID,
		sub.Action,
		sub.IntentKey,
		string(sub.State),
		pgtextFromString(string(sub.FailureKind)),
		pgtextFromString(sub.Hash),
		pgtextFromString(sub.Error),
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record submission %s: %w", sub.ID, err)
	}
	return nil
}

// GetSubmission retrieves a submission by id.
func (s *Store) GetSubmission(ctx context.Context, id string) (*pipeline.Submission, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id)
	sub, err := scanSubmission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSubmissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get submission %s: %w", id, err)
	}
	return sub, nil
}

// ListSubmissions returns submissions newest first.
func (s *Store) ListSubmissions(ctx context.Context, params ListSubmissionsParams) ([]*pipeline.Submission, error) {
	if params.Limit <= 0 {
		params.Limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions
		WHERE ($1 = '' OR action = $1)
		  AND ($2 = '' OR state = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`,
		params.Action, params.State, params.Limit, params.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	defer rows.Close()

	subs := []*pipeline.Submission{}
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	return subs, nil
}

// UpdateSubmissionOutcome stores the final outcome of a submission found by
// a later recheck.
func (s *Store) UpdateSubmissionOutcome(ctx context.Context, id string, state pipeline.State, kind pipeline.FailureKind, errMsg string) (*pipeline.Submission, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE submissions
		SET state = $2, failure_kind = $3, error = $4, updated_at = $5
		WHERE id = $1
		RETURNING `+submissionColumns,
		id,
		string(state),
		pgtextFromString(string(kind)),
		pgtextFromString(errMsg),
		time.Now().UTC(),
	)
	sub, err := scanSubmission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSubmissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update submission %s: %w", id, err)
	}
	return sub, nil
}

// CountSubmissionsByState returns the number of submissions per state.
func (s *Store) CountSubmissionsByState(ctx context.Context) (map[pipeline.State]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT state, COUNT(*) FROM submissions GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count submissions: %w", err)
	}
	defer rows.Close()

	counts := map[pipeline.State]int64{}
	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[pipeline.State(state)] = n
	}
	return counts, rows.Err()
}

// scanSubmission reads one row selected with submissionColumns.
func scanSubmission(row pgx.Row) (*pipeline.Submission, error) {
	var (
		id                     pgtype.UUID
		sub                    pipeline.Submission
		state                  string
		failureKind, hash, msg pgtype.Text
	)
	if err := row.Scan(&id, &sub.Action, &sub.IntentKey, &state, &failureKind, &hash, &msg, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, err
	}
	sub.ID = uuidString(id)
	sub.State = pipeline.State(state)
	sub.FailureKind = pipeline.FailureKind(failureKind.String)
	sub.Hash = hash.String
	sub.Error = msg.String
	return &sub, nil
}

func pgtextFromString(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

func uuidString(u pgtype.UUID) string {
	if !u.Valid {
		return ""
	}
	b := u.Bytes
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
