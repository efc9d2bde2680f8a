package logs

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Store handles the append-only automation_logs table.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append writes a new log row. Rows are immutable once written; the single
// exception is Resolve moving a queued row to its terminal outcome.
func (s *Store) Append(ctx context.Context, e *Entry) error {
	if !e.Outcome.Valid() {
		return ErrInvalidOutcome
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO automation_logs
		(id, rule_id, channel_id, commenter_id, commenter_username, comment_text,
		 commented_at, outcome, failure_reason, response_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9,''), $10)`,
		e.ID, e.RuleID, e.ChannelID, e.CommenterID, e.CommenterUsername, e.CommentText,
		e.CommentedAt, e.Outcome, e.FailureReason, e.ResponseMs)
	return err
}

// Resolve moves a queued row to a terminal outcome. The WHERE clause guards
// immutability: a row already in a terminal state is never rewritten.
func (s *Store) Resolve(ctx context.Context, id uuid.UUID, outcome Outcome, failureReason string, responseMs int64) error {
	if !outcome.Terminal() {
		return ErrInvalidOutcome
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE automation_logs
		SET outcome=$1, failure_reason=NULLIF($2,''), response_ms=$3
		WHERE id = $4 AND outcome = 'queued'`,
		outcome, failureReason, responseMs, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotQueued
	}
	return nil
}

// Find returns rows for a rule, newest first, with the unpaginated total
// count for the caller's pagination controls.
func (s *Store) Find(ctx context.Context, q Query) (*Page, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 || q.PageSize > 200 {
		q.PageSize = 50
	}

	where := `rule_id = $1`
	args := []interface{}{q.RuleID}
	if q.Outcome != "" {
		if !q.Outcome.Valid() {
			return nil, ErrInvalidOutcome
		}
		where += ` AND outcome = $2`
		args = append(args, q.Outcome)
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM automation_logs WHERE `+where, args...).Scan(&total); err != nil {
		return nil, err
	}

	offset := (q.Page - 1) * q.PageSize
	limitClause := fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	listArgs := append(args, q.PageSize, offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, rule_id, channel_id, commenter_id, commenter_username, comment_text,
		 commented_at, outcome, COALESCE(failure_reason,''), COALESCE(response_ms,0), created_at
		FROM automation_logs WHERE `+where+limitClause, listArgs...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page := &Page{TotalCount: total}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.RuleID, &e.ChannelID, &e.CommenterID, &e.CommenterUsername,
			&e.CommentText, &e.CommentedAt, &e.Outcome, &e.FailureReason, &e.ResponseMs,
			&e.CreatedAt); err != nil {
			return nil, err
		}
		page.Rows = append(page.Rows, e)
	}
	return page, rows.Err()
}

// CountByOutcome returns how many rows a rule has settled in the given
// outcome, used by the maintenance sweep and stats reconciliation.
func (s *Store) CountByOutcome(ctx context.Context, ruleID uuid.UUID, outcome Outcome) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM automation_logs WHERE rule_id = $1 AND outcome = $2`,
		ruleID, outcome).Scan(&n)
	return n, err
}

