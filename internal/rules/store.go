package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// StatField names a single runtime counter column for atomic increments.
type StatField string

const (
	StatTriggered StatField = "total_triggered"
	StatSent      StatField = "total_sent"
	StatFailed    StatField = "total_failed"
	StatDeduped   StatField = "total_deduped"
)

// Store handles CRUD for the automation_rules table.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const ruleColumns = `id, channel_id, COALESCE(media_id,''), name, status, trigger_type,
	keywords, exclude_keywords, template, attachments, delay_seconds,
	dedup_enabled, dedup_window_hours, daily_limit,
	total_triggered, total_sent, total_failed, total_deduped, created_at, updated_at`

func scanRule(row interface{ Scan(...interface{}) error }) (*Rule, error) {
	var r Rule
	var mediaID string
	var keywordsJSON, excludeJSON, attachmentsJSON []byte
	err := row.Scan(&r.ID, &r.ChannelID, &mediaID, &r.Name, &r.Status, &r.TriggerType,
		&keywordsJSON, &excludeJSON, &r.Template, &attachmentsJSON, &r.DelaySeconds,
		&r.DedupEnabled, &r.DedupWindowHours, &r.DailyLimit,
		&r.Stats.TotalTriggered, &r.Stats.TotalSent, &r.Stats.TotalFailed, &r.Stats.TotalDeduped,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.MediaID = mediaID
	json.Unmarshal(keywordsJSON, &r.Keywords)
	json.Unmarshal(excludeJSON, &r.ExcludeKeywords)
	json.Unmarshal(attachmentsJSON, &r.Attachments)
	return &r, nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Rule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM automation_rules WHERE id = $1`, id)
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListActiveByChannel returns the active rules in scope for a channel,
// media-specific rules first so the matcher sees most-specific ordering.
func (s *Store) ListActiveByChannel(ctx context.Context, channelID uuid.UUID) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM automation_rules
		WHERE channel_id = $1 AND status = 'active'
		ORDER BY (media_id IS NULL), created_at`, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRules(rows)
}

// ListByChannel returns every rule for a channel regardless of status.
func (s *Store) ListByChannel(ctx context.Context, channelID uuid.UUID) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM automation_rules
		WHERE channel_id = $1 ORDER BY created_at`, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRules(rows)
}

func collectRules(rows *sql.Rows) ([]Rule, error) {
	var out []Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Store) Create(ctx context.Context, r *Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	keywordsJSON, _ := json.Marshal(r.Keywords)
	excludeJSON, _ := json.Marshal(r.ExcludeKeywords)
	attachmentsJSON, _ := json.Marshal(r.Attachments)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO automation_rules
		(id, channel_id, media_id, name, status, trigger_type, keywords, exclude_keywords,
		 template, attachments, delay_seconds, dedup_enabled, dedup_window_hours, daily_limit)
		VALUES ($1, $2, NULLIF($3,''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		r.ID, r.ChannelID, r.MediaID, r.Name, r.Status, r.TriggerType, keywordsJSON, excludeJSON,
		r.Template, attachmentsJSON, r.DelaySeconds, r.DedupEnabled, r.DedupWindowHours, r.DailyLimit)
	return err
}

func (s *Store) Update(ctx context.Context, r *Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	keywordsJSON, _ := json.Marshal(r.Keywords)
	excludeJSON, _ := json.Marshal(r.ExcludeKeywords)
	attachmentsJSON, _ := json.Marshal(r.Attachments)
	res, err := s.db.ExecContext(ctx,
		`UPDATE automation_rules SET
		media_id=NULLIF($1,''), name=$2, status=$3, trigger_type=$4, keywords=$5,
		exclude_keywords=$6, template=$7, attachments=$8, delay_seconds=$9,
		dedup_enabled=$10, dedup_window_hours=$11, daily_limit=$12, updated_at=NOW()
		WHERE id = $13`,
		r.MediaID, r.Name, r.Status, r.TriggerType, keywordsJSON,
		excludeJSON, r.Template, attachmentsJSON, r.DelaySeconds,
		r.DedupEnabled, r.DedupWindowHours, r.DailyLimit, r.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM automation_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrStat atomically bumps one runtime counter. The read-modify-write
// happens in SQL so concurrent pipelines never lose increments.
func (s *Store) IncrStat(ctx context.Context, id uuid.UUID, field StatField) error {
	switch field {
	case StatTriggered, StatSent, StatFailed, StatDeduped:
	default:
		return fmt.Errorf("unknown stat field %q", field)
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE automation_rules SET %s = %s + 1, updated_at = NOW() WHERE id = $1`, field, field),
		id)
	return err
}
