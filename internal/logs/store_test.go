package logs

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppend_RejectsUnknownOutcome(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	e := Entry{RuleID: uuid.New(), Outcome: Outcome("bounced")}
	assert.ErrorIs(t, NewStore(db).Append(context.Background(), &e), ErrInvalidOutcome)
}

func TestAppend_AssignsID(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO automation_logs`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	e := Entry{
		RuleID:      uuid.New(),
		ChannelID:   uuid.New(),
		CommenterID: "u-1",
		Outcome:     OutcomeSent,
		CommentedAt: time.Now(),
	}
	require.NoError(t, NewStore(db).Append(context.Background(), &e))
	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolve_OnlyQueuedRowsTransition(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	id := uuid.New()
	// Zero rows affected means the row was already terminal (or absent).
	mock.ExpectExec(`UPDATE automation_logs\s+SET outcome=\$1.+WHERE id = \$4 AND outcome = 'queued'`).
		WithArgs(string(OutcomeSent), "", int64(120), id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = NewStore(db).Resolve(context.Background(), id, OutcomeSent, "", 120)
	assert.ErrorIs(t, err, ErrNotQueued)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolve_RejectsNonTerminalTarget(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	err = NewStore(db).Resolve(context.Background(), uuid.New(), OutcomeQueued, "", 0)
	assert.ErrorIs(t, err, ErrInvalidOutcome)
}

func TestFind_PaginatesAndFilters(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	ruleID := uuid.New()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM automation_logs WHERE rule_id = \$1 AND outcome = \$2`).
		WithArgs(ruleID, string(OutcomeFailed)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "rule_id", "channel_id", "commenter_id", "commenter_username",
		"comment_text", "commented_at", "outcome", "failure_reason", "response_ms", "created_at",
	}).AddRow(uuid.New(), ruleID, uuid.New(), "u-1", "sam",
		"price?", now, string(OutcomeFailed), "permanent: blocked", int64(0), now)
	mock.ExpectQuery(`FROM automation_logs WHERE rule_id = \$1 AND outcome = \$2 ORDER BY created_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs(ruleID, string(OutcomeFailed), 2, 2).
		WillReturnRows(rows)

	page, err := NewStore(db).Find(context.Background(), Query{
		RuleID:   ruleID,
		Outcome:  OutcomeFailed,
		Page:     2,
		PageSize: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 7, page.TotalCount)
	require.Len(t, page.Rows, 1)
	assert.Equal(t, "permanent: blocked", page.Rows[0].FailureReason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFind_RejectsInvalidOutcomeFilter(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewStore(db).Find(context.Background(), Query{RuleID: uuid.New(), Outcome: "misfired"})
	assert.ErrorIs(t, err, ErrInvalidOutcome)
}

func TestOutcomeClassification(t *testing.T) {
	for _, o := range []Outcome{OutcomeSent, OutcomeFailed, OutcomeDeduped, OutcomeRateLimited, OutcomeKeywordFiltered} {
		assert.True(t, o.Valid(), o)
		assert.True(t, o.Terminal(), o)
	}
	assert.True(t, OutcomeQueued.Valid())
	assert.False(t, OutcomeQueued.Terminal())
	assert.False(t, Outcome("bounced").Valid())
}
