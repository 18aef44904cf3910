// Package db provides unit tests for the durable sync queue.
package db

import (
	"encoding/json"
	"testing"

	"github.com/synkahealth/synka-client/internal/models"
	"github.com/synkahealth/synka-client/internal/uuid"
)

func TestQueueAddAndGetPending(t *testing.T) {
	q := NewQueueStore(setupTestDB(t))

	id := uuid.New()
	payload := json.RawMessage(`{"name":"Jane Doe"}`)

	queueID, err := q.Add(models.EntityPatient, id, models.ActionCreate, payload)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if queueID == 0 {
		t.Error("Expected non-zero queue id")
	}

	pending, err := q.GetPending(0)
	if err != nil {
		t.Fatalf("GetPending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("Expected 1 pending entry, got %d", len(pending))
	}

	e := pending[0]
	if e.EntityType != models.EntityPatient || e.EntityID != id {
		t.Errorf("Entity mismatch: %+v", e)
	}
	if e.Action != models.ActionCreate {
		t.Errorf("Expected create action, got %s", e.Action)
	}
	if string(e.Payload) != string(payload) {
		t.Errorf("Expected payload snapshot preserved, got %s", e.Payload)
	}
	if e.RetryCount != 0 {
		t.Errorf("Expected zero retries, got %d", e.RetryCount)
	}
	if e.CreatedAt == 0 {
		t.Error("Expected created_at to be set")
	}
}

func TestQueueFIFOOrder(t *testing.T) {
	q := NewQueueStore(setupTestDB(t))
	id := uuid.New()

	first, _ := q.Add(models.EntityPatient, id, models.ActionUpdate, json.RawMessage(`{"phone":"A"}`))
	second, _ := q.Add(models.EntityPatient, id, models.ActionUpdate, json.RawMessage(`{"phone":"B"}`))
	third, _ := q.Add(models.EntityPatient, id, models.ActionDelete, nil)

	pending, err := q.GetPending(0)
	if err != nil {
		t.Fatalf("GetPending failed: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(pending))
	}

	got := []int64{pending[0].ID, pending[1].ID, pending[2].ID}
	want := []int64{first, second, third}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected oldest-first order %v, got %v", want, got)
		}
	}
}

func TestQueueGetPendingLimit(t *testing.T) {
	q := NewQueueStore(setupTestDB(t))

	for i := 0; i < 5; i++ {
		q.Add(models.EntityPatient, uuid.New(), models.ActionCreate, nil)
	}

	pending, err := q.GetPending(2)
	if err != nil {
		t.Fatalf("GetPending failed: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("Expected limit of 2, got %d", len(pending))
	}
}

func TestQueueRemove(t *testing.T) {
	q := NewQueueStore(setupTestDB(t))

	queueID, _ := q.Add(models.EntityPatient, uuid.New(), models.ActionCreate, nil)
	if err := q.Remove(queueID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	count, _ := q.Count()
	if count != 0 {
		t.Errorf("Expected empty queue, got %d", count)
	}

	// Removing an absent id is not an error.
	if err := q.Remove(queueID); err != nil {
		t.Errorf("Expected idempotent removal, got %v", err)
	}
}

func TestQueueUpdateRetry(t *testing.T) {
	q := NewQueueStore(setupTestDB(t))

	queueID, _ := q.Add(models.EntityPatient, uuid.New(), models.ActionUpdate, json.RawMessage(`{"phone":"X"}`))

	if err := q.UpdateRetry(queueID, "connection refused"); err != nil {
		t.Fatalf("UpdateRetry failed: %v", err)
	}
	if err := q.UpdateRetry(queueID, "timeout"); err != nil {
		t.Fatalf("UpdateRetry failed: %v", err)
	}

	pending, _ := q.GetPending(0)
	e := pending[0]
	if e.RetryCount != 2 {
		t.Errorf("Expected retry count 2, got %d", e.RetryCount)
	}
	if e.LastError != "timeout" {
		t.Errorf("Expected last error recorded, got %q", e.LastError)
	}
	// Retry bookkeeping must not touch the mutation itself.
	if string(e.Payload) != `{"phone":"X"}` || e.Action != models.ActionUpdate {
		t.Errorf("Expected payload/action immutable, got %+v", e)
	}
}

func TestQueueRemoveByEntityID(t *testing.T) {
	q := NewQueueStore(setupTestDB(t))

	target := uuid.New()
	other := uuid.New()
	q.Add(models.EntityPatient, target, models.ActionCreate, nil)
	q.Add(models.EntityPatient, target, models.ActionUpdate, nil)
	q.Add(models.EntityPatient, other, models.ActionCreate, nil)

	if err := q.RemoveByEntityID(models.EntityPatient, target); err != nil {
		t.Fatalf("RemoveByEntityID failed: %v", err)
	}

	pending, _ := q.GetPending(0)
	if len(pending) != 1 || pending[0].EntityID != other {
		t.Errorf("Expected only the other entity to remain, got %d entries", len(pending))
	}
}

func TestQueueHasEntity(t *testing.T) {
	q := NewQueueStore(setupTestDB(t))
	id := uuid.New()

	has, err := q.HasEntity(models.EntityPatient, id)
	if err != nil || has {
		t.Fatalf("Expected no entries initially (has=%v, err=%v)", has, err)
	}

	q.Add(models.EntityPatient, id, models.ActionCreate, nil)
	has, _ = q.HasEntity(models.EntityPatient, id)
	if !has {
		t.Error("Expected entry to be found")
	}
}

func TestQueueRemoveFailed(t *testing.T) {
	q := NewQueueStore(setupTestDB(t))

	failed, _ := q.Add(models.EntityPatient, uuid.New(), models.ActionCreate, nil)
	q.Add(models.EntityPatient, uuid.New(), models.ActionCreate, nil)

	for i := 0; i < 3; i++ {
		q.UpdateRetry(failed, "boom")
	}

	removed, err := q.RemoveFailed(3)
	if err != nil {
		t.Fatalf("RemoveFailed failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 removed, got %d", removed)
	}

	count, _ := q.Count()
	if count != 1 {
		t.Errorf("Expected 1 remaining entry, got %d", count)
	}
}

func TestQueueCount(t *testing.T) {
	q := NewQueueStore(setupTestDB(t))

	count, err := q.Count()
	if err != nil || count != 0 {
		t.Fatalf("Expected empty count (count=%d, err=%v)", count, err)
	}

	q.Add(models.EntityPatient, uuid.New(), models.ActionCreate, nil)
	q.Add(models.EntityPatient, uuid.New(), models.ActionDelete, nil)

	count, _ = q.Count()
	if count != 2 {
		t.Errorf("Expected count 2, got %d", count)
	}
}
