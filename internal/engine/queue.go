package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/dmflow/internal/rules"
)

// QueuedItem is a parked pipeline instance waiting out its rule's
// delay-before-send. It carries the full context needed to resume: the event
// and the rule snapshot taken at match time, so a later rule edit (or pause)
// does not rewrite an already-queued decision.
type QueuedItem struct {
	ID       uuid.UUID
	LogID    uuid.UUID
	Rule     rules.Rule
	Event    CommentEvent
	ResumeAt time.Time
}

// QueueStore persists queued pipeline instances so delays survive restarts.
type QueueStore struct {
	db *sql.DB
}

func NewQueueStore(db *sql.DB) *QueueStore {
	return &QueueStore{db: db}
}

func (s *QueueStore) Enqueue(ctx context.Context, item *QueuedItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	ruleJSON, err := json.Marshal(item.Rule)
	if err != nil {
		return fmt.Errorf("enqueue rule snapshot: %w", err)
	}
	eventJSON, err := json.Marshal(item.Event)
	if err != nil {
		return fmt.Errorf("enqueue event snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO automation_queue (id, log_id, rule_snapshot, event_snapshot, resume_at)
		VALUES ($1, $2, $3, $4, $5)`,
		item.ID, item.LogID, ruleJSON, eventJSON, item.ResumeAt)
	return err
}

// Due returns items whose resume time has passed, oldest first. The delay is
// a floor, never a ceiling: an item is only ever returned at or after its
// resume_at.
func (s *QueueStore) Due(ctx context.Context, now time.Time, limit int) ([]QueuedItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, log_id, rule_snapshot, event_snapshot, resume_at
		FROM automation_queue WHERE resume_at <= $1
		ORDER BY resume_at LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []QueuedItem
	for rows.Next() {
		var item QueuedItem
		var ruleJSON, eventJSON []byte
		if err := rows.Scan(&item.ID, &item.LogID, &ruleJSON, &eventJSON, &item.ResumeAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(ruleJSON, &item.Rule); err != nil {
			return nil, fmt.Errorf("queue item %s rule snapshot: %w", item.ID, err)
		}
		if err := json.Unmarshal(eventJSON, &item.Event); err != nil {
			return nil, fmt.Errorf("queue item %s event snapshot: %w", item.ID, err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Delete removes a resolved item.
func (s *QueueStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM automation_queue WHERE id = $1`, id)
	return err
}

// Orphaned returns items whose owning rule no longer exists; the maintenance
// sweep fails these out instead of letting them resume against nothing.
func (s *QueueStore) Orphaned(ctx context.Context, limit int) ([]QueuedItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT q.id, q.log_id, q.rule_snapshot, q.event_snapshot, q.resume_at
		FROM automation_queue q
		LEFT JOIN automation_rules r ON r.id = (q.rule_snapshot->>'id')::uuid
		WHERE r.id IS NULL
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []QueuedItem
	for rows.Next() {
		var item QueuedItem
		var ruleJSON, eventJSON []byte
		if err := rows.Scan(&item.ID, &item.LogID, &ruleJSON, &eventJSON, &item.ResumeAt); err != nil {
			return nil, err
		}
		json.Unmarshal(ruleJSON, &item.Rule)
		json.Unmarshal(eventJSON, &item.Event)
		items = append(items, item)
	}
	return items, rows.Err()
}
