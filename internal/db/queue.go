package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/synkahealth/synka-client/internal/models"
)

// QueueStore is the durable outbox of pending mutations.
//
// Entries are appended with an auto-incrementing id and drained
// oldest-first, which gives per-entity FIFO ordering: a delete issued
// after an update can never be applied ahead of it. The store owns
// entry lifetime; the sync engine only reads, bumps retry counts, or
// removes.
type QueueStore struct {
	db *DB
}

// NewQueueStore creates a new QueueStore.
func NewQueueStore(db *DB) *QueueStore {
	return &QueueStore{db: db}
}

// Add appends a mutation to the end of the queue and returns its id.
// The payload is a snapshot taken at enqueue time, not a live
// reference.
func (s *QueueStore) Add(entityType models.EntityType, entityID string, action models.Action, payload json.RawMessage) (int64, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	res, err := s.db.Exec(`
		INSERT INTO sync_queue (entity_type, entity_id, action, payload, created_at, retry_count)
		VALUES (?, ?, ?, ?, ?, 0)`,
		string(entityType), entityID, string(action), string(payload), time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue %s %s: %w", action, entityID, err)
	}
	return res.LastInsertId()
}

// GetPending returns pending entries oldest-first. A limit of 0 means
// no limit.
func (s *QueueStore) GetPending(limit int) ([]*models.QueueEntry, error) {
	query := "SELECT id, entity_type, entity_id, action, payload, created_at, retry_count, last_error FROM sync_queue ORDER BY id"
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending queue entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// scanQueueEntry scans one queue row.
func scanQueueEntry(row interface{ Scan(...interface{}) error }) (*models.QueueEntry, error) {
	var e models.QueueEntry
	var entityType, action, payload string
	var lastError sql.NullString
	err := row.Scan(&e.ID, &entityType, &e.EntityID, &action, &payload,
		&e.CreatedAt, &e.RetryCount, &lastError)
	if err != nil {
		return nil, err
	}
	e.EntityType = models.EntityType(entityType)
	e.Action = models.Action(action)
	e.Payload = json.RawMessage(payload)
	e.LastError = lastError.String
	return &e, nil
}

// Remove deletes an entry by queue id. Removing an absent id is not an
// error.
func (s *QueueStore) Remove(id int64) error {
	if _, err := s.db.Exec("DELETE FROM sync_queue WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to remove queue entry %d: %w", id, err)
	}
	return nil
}

// UpdateRetry increments the retry count and records the last error.
// Action, entity id and payload are never mutated in place.
func (s *QueueStore) UpdateRetry(id int64, lastError string) error {
	_, err := s.db.Exec(
		"UPDATE sync_queue SET retry_count = retry_count + 1, last_error = ? WHERE id = ?",
		lastError, id)
	if err != nil {
		return fmt.Errorf("failed to update retry for queue entry %d: %w", id, err)
	}
	return nil
}

// RemoveByEntityID purges every queued operation for one entity. Used
// during identity reconciliation and deletes so stale entries cannot
// resurrect a superseded id.
func (s *QueueStore) RemoveByEntityID(entityType models.EntityType, entityID string) error {
	_, err := s.db.Exec(
		"DELETE FROM sync_queue WHERE entity_type = ? AND entity_id = ?",
		string(entityType), entityID)
	if err != nil {
		return fmt.Errorf("failed to remove queue entries for %s %s: %w", entityType, entityID, err)
	}
	return nil
}

// Count returns the number of queued entries.
func (s *QueueStore) Count() (int, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM sync_queue").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count queue entries: %w", err)
	}
	return count, nil
}

// HasEntity reports whether any queued operation references the entity.
func (s *QueueStore) HasEntity(entityType models.EntityType, entityID string) (bool, error) {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM sync_queue WHERE entity_type = ? AND entity_id = ?",
		string(entityType), entityID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check queue for %s %s: %w", entityType, entityID, err)
	}
	return count > 0, nil
}

// RemoveFailed purges all entries whose retry count has reached the
// ceiling and returns how many were removed. Operator-triggered
// cleanup; the drain handles the ceiling inline.
func (s *QueueStore) RemoveFailed(maxRetries int) (int, error) {
	res, err := s.db.Exec("DELETE FROM sync_queue WHERE retry_count >= ?", maxRetries)
	if err != nil {
		return 0, fmt.Errorf("failed to remove failed queue entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Clear removes all entries.
func (s *QueueStore) Clear() error {
	if _, err := s.db.Exec("DELETE FROM sync_queue"); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	return nil
}
