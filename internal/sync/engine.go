// Package sync drives the reconciliation protocol between the local
// store and the server: it drains the mutation queue, applies identity
// reconciliation for client-generated ids, and keeps the per-record
// synced flags honest.
package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/synkahealth/synka-client/internal/connectivity"
	"github.com/synkahealth/synka-client/internal/db"
	apperrors "github.com/synkahealth/synka-client/internal/errors"
	"github.com/synkahealth/synka-client/internal/gateway"
	"github.com/synkahealth/synka-client/internal/logging"
	"github.com/synkahealth/synka-client/internal/models"
)

// Config holds the drain parameters.
type Config struct {
	Interval   time.Duration // auto-sync cadence
	BatchSize  int           // max queue entries per drain
	MaxRetries int           // retry ceiling before an entry is dropped
}

// DefaultConfig returns the stock sync configuration.
func DefaultConfig() Config {
	return Config{
		Interval:   30 * time.Second,
		BatchSize:  50,
		MaxRetries: 3,
	}
}

// Result is the tally of one drain.
type Result struct {
	Success int
	Failed  int
}

// Engine owns the sync state: the in-flight guard, the auto-sync
// timer, and the reconciliation rules. Construct one per process and
// hand it to anything that needs to trigger or observe sync.
type Engine struct {
	patients *db.PatientStore
	queue    *db.QueueStore
	gateway  gateway.PatientGateway
	oracle   connectivity.Oracle
	cfg      Config

	mu      sync.Mutex
	syncing bool

	autoMu  sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	events func(Event)
}

// NewEngine creates a sync engine.
func NewEngine(patients *db.PatientStore, queue *db.QueueStore, gw gateway.PatientGateway, oracle connectivity.Oracle, cfg Config) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	return &Engine{
		patients: patients,
		queue:    queue,
		gateway:  gw,
		oracle:   oracle,
		cfg:      cfg,
	}
}

// IsSyncing reports whether a drain is in flight.
func (e *Engine) IsSyncing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncing
}

// beginSync claims the in-flight guard. Returns false when a drain is
// already running.
func (e *Engine) beginSync() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.syncing {
		return false
	}
	e.syncing = true
	return true
}

// endSync releases the guard. Deferred on every drain exit path so a
// failure mid-loop cannot leave the flag stuck.
func (e *Engine) endSync() {
	e.mu.Lock()
	e.syncing = false
	e.mu.Unlock()
}

// SyncAll drains pending queue entries oldest-first.
//
// It returns a zero Result without error when offline or when another
// drain is already in flight; re-entrant calls are rejected, never
// queued. Connectivity is consulted only at entry; a mid-drain
// disconnect surfaces as per-entry failures on the normal retry path.
func (e *Engine) SyncAll(ctx context.Context) Result {
	var res Result

	if !e.oracle.IsConnected() {
		logging.Debug("Skipping sync: offline")
		return res
	}
	if !e.beginSync() {
		logging.Debug("Sync already in progress")
		return res
	}
	defer e.endSync()

	e.emit(EventSyncStarted, nil)

	pending, err := e.queue.GetPending(e.cfg.BatchSize)
	if err != nil {
		logging.ErrorWithCode("Failed to read sync queue", string(apperrors.ErrSyncFailed), err)
		e.emit(EventSyncFailed, map[string]interface{}{"error": err.Error()})
		return res
	}

	// Orphan recovery: unsynced records with no queue entry indicate a
	// crash between the local write and the queue append. Re-enqueue a
	// create for each before draining.
	if len(pending) == 0 {
		requeued, err := e.requeueOrphans()
		if err != nil {
			logging.Error("Orphan recovery failed", err)
		}
		if requeued > 0 {
			logging.Info("Re-queued orphaned unsynced patients", map[string]interface{}{"count": requeued})
			pending, err = e.queue.GetPending(e.cfg.BatchSize)
			if err != nil {
				logging.ErrorWithCode("Failed to re-read sync queue", string(apperrors.ErrSyncFailed), err)
				e.emit(EventSyncFailed, map[string]interface{}{"error": err.Error()})
				return res
			}
		}
	}

	// Entities purged mid-drain (identity swap, conflict cleanup); any
	// stale batch entries for them must not be replayed.
	purged := make(map[string]bool)

	for _, entry := range pending {
		if purged[entityKey(entry.EntityType, entry.EntityID)] {
			continue
		}

		if err := e.syncItem(ctx, entry, purged); err != nil {
			logging.Error("Failed to sync queue entry", err, map[string]interface{}{
				"queue_id":  entry.ID,
				"entity_id": entry.EntityID,
				"action":    string(entry.Action),
			})

			if uerr := e.queue.UpdateRetry(entry.ID, err.Error()); uerr != nil {
				logging.Error("Failed to record retry", uerr, map[string]interface{}{"queue_id": entry.ID})
			}

			// Ceiling reached: drop the entry. The record stays
			// unsynced with the error logged; RequeueUnsynced is the
			// manual escalation path.
			if entry.RetryCount+1 >= e.cfg.MaxRetries {
				logging.ErrorWithCode("Dropping queue entry after max retries",
					string(apperrors.ErrRetriesExceeded), err,
					map[string]interface{}{"queue_id": entry.ID, "entity_id": entry.EntityID})
				if rerr := e.queue.Remove(entry.ID); rerr != nil {
					logging.Error("Failed to drop exhausted entry", rerr, map[string]interface{}{"queue_id": entry.ID})
				}
			}

			res.Failed++
			continue
		}

		if err := e.queue.Remove(entry.ID); err != nil {
			logging.Error("Failed to remove synced entry", err, map[string]interface{}{"queue_id": entry.ID})
		}
		res.Success++
	}

	logging.Info("Sync complete", map[string]interface{}{
		"success": res.Success,
		"failed":  res.Failed,
	})
	e.emit(EventSyncCompleted, map[string]interface{}{
		"success": res.Success,
		"failed":  res.Failed,
	})

	return res
}

// requeueOrphans enqueues a create for every unsynced record.
func (e *Engine) requeueOrphans() (int, error) {
	unsynced, err := e.patients.GetUnsynced()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, p := range unsynced {
		raw, err := models.PatientPayloadFrom(p).Encode()
		if err != nil {
			logging.Error("Failed to snapshot orphan", err, map[string]interface{}{"patient_id": p.ID})
			continue
		}
		if _, err := e.queue.Add(models.EntityPatient, p.ID.String(), models.ActionCreate, raw); err != nil {
			logging.Error("Failed to re-queue orphan", err, map[string]interface{}{"patient_id": p.ID})
			continue
		}
		count++
	}
	return count, nil
}

// syncItem applies one queue entry remotely. This is the single
// dispatch point that decodes payloads, keyed by entity type.
func (e *Engine) syncItem(ctx context.Context, entry *models.QueueEntry, purged map[string]bool) error {
	switch entry.EntityType {
	case models.EntityPatient:
		return e.syncPatient(ctx, entry, purged)
	default:
		// Unknown entries cannot ever succeed; drop rather than retry.
		logging.Warn("Unknown entity type in sync queue", map[string]interface{}{
			"entity_type": string(entry.EntityType),
			"queue_id":    entry.ID,
		})
		return nil
	}
}

// syncPatient reconciles one patient mutation with the server.
func (e *Engine) syncPatient(ctx context.Context, entry *models.QueueEntry, purged map[string]bool) error {
	payload, err := models.DecodePatientPayload(entry.Payload)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrPayloadInvalid, "queue payload", err)
	}

	id := entry.EntityID

	switch entry.Action {
	case models.ActionCreate:
		created, err := e.gateway.Create(ctx, id, payload)
		if err != nil {
			if gateway.IsConflict(err) {
				// The phone number already exists server-side. The
				// local copy is an un-syncable duplicate: remove it and
				// its queue entries, and treat the entry as handled.
				logging.Info("Duplicate patient on server, cleaning up local copy", map[string]interface{}{
					"patient_id": id,
				})
				return e.purgeLocal(id, purged)
			}
			return err
		}

		if created.ID.String() == id {
			return e.patients.MarkSynced(id)
		}

		// Identity reconciliation: the server assigned a different id.
		// Remove the record under the old id, purge its queue entries
		// so they cannot resurrect the dead identity, and insert the
		// server record as synced. Each step is idempotent, so an
		// interruption is repaired by the next orphan recovery or pull.
		logging.Info("Server assigned new patient id", map[string]interface{}{
			"local_id":  id,
			"server_id": created.ID.String(),
		})
		if err := e.purgeLocal(id, purged); err != nil {
			return err
		}
		return e.patients.UpsertFromServer(created)

	case models.ActionUpdate:
		if _, err := e.gateway.Update(ctx, id, payload); err != nil {
			return err
		}
		return e.patients.MarkSynced(id)

	case models.ActionDelete:
		err := e.gateway.Delete(ctx, id)
		if err != nil && !gateway.IsNotFound(err) {
			return err
		}
		// Absent on the server matches intent; the tombstone has done
		// its job.
		return e.patients.ClearDeletion(id)

	default:
		return apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown action %q", entry.Action))
	}
}

// purgeLocal removes a local record and every queued operation for it,
// and marks the identity as purged for the remainder of the drain.
func (e *Engine) purgeLocal(id string, purged map[string]bool) error {
	if err := e.patients.Delete(id); err != nil {
		return err
	}
	if err := e.queue.RemoveByEntityID(models.EntityPatient, id); err != nil {
		return err
	}
	if purged != nil {
		purged[entityKey(models.EntityPatient, id)] = true
	}
	return nil
}

func entityKey(t models.EntityType, id string) string {
	return string(t) + "/" + id
}

// Enqueue appends a patient mutation to the durable queue and, when
// online, opportunistically kicks off a background drain without
// awaiting it.
func (e *Engine) Enqueue(action models.Action, patientID string, payload *models.PatientPayload) error {
	raw, err := payload.Encode()
	if err != nil {
		return err
	}
	if _, err := e.queue.Add(models.EntityPatient, patientID, action, raw); err != nil {
		return err
	}

	logging.Debug("Queued patient mutation", map[string]interface{}{
		"patient_id": patientID,
		"action":     string(action),
	})

	e.TriggerSync()
	return nil
}

// TriggerSync starts a background drain if the device is online. The
// in-flight guard makes overlapping triggers harmless.
func (e *Engine) TriggerSync() {
	if !e.oracle.IsConnected() {
		return
	}
	go e.SyncAll(context.Background())
}

// RequeueUnsynced re-enqueues a create for every unsynced record not
// already queued, then attempts a drain. Manual escalation path for
// mutations dropped at the retry ceiling.
func (e *Engine) RequeueUnsynced(ctx context.Context) (int, error) {
	unsynced, err := e.patients.GetUnsynced()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, p := range unsynced {
		queued, err := e.queue.HasEntity(models.EntityPatient, p.ID.String())
		if err != nil {
			return count, err
		}
		if queued {
			continue
		}
		raw, err := models.PatientPayloadFrom(p).Encode()
		if err != nil {
			return count, err
		}
		if _, err := e.queue.Add(models.EntityPatient, p.ID.String(), models.ActionCreate, raw); err != nil {
			return count, err
		}
		count++
	}

	if count > 0 && e.oracle.IsConnected() {
		e.SyncAll(ctx)
	}
	return count, nil
}

// ClearFailed purges queue entries that reached the retry ceiling and
// returns how many were removed.
func (e *Engine) ClearFailed() (int, error) {
	return e.queue.RemoveFailed(e.cfg.MaxRetries)
}

// QueueCount returns the current queue depth.
func (e *Engine) QueueCount() (int, error) {
	return e.queue.Count()
}

// PendingCount is the user-facing "pending" number: the maximum of the
// queue depth and the unsynced-record count, since orphans not yet
// re-queued still represent real pending work.
func (e *Engine) PendingCount() (int, error) {
	queued, err := e.queue.Count()
	if err != nil {
		return 0, err
	}
	unsynced, err := e.patients.GetUnsynced()
	if err != nil {
		return 0, err
	}
	if len(unsynced) > queued {
		return len(unsynced), nil
	}
	return queued, nil
}
