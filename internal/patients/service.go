// Package patients exposes the caller-facing patient API. Reads always
// come from the local store; writes land locally first and are queued
// for the sync engine, so every operation works offline.
package patients

import (
	"context"

	"github.com/synkahealth/synka-client/internal/connectivity"
	"github.com/synkahealth/synka-client/internal/db"
	apperrors "github.com/synkahealth/synka-client/internal/errors"
	"github.com/synkahealth/synka-client/internal/gateway"
	"github.com/synkahealth/synka-client/internal/logging"
	"github.com/synkahealth/synka-client/internal/models"
	syncengine "github.com/synkahealth/synka-client/internal/sync"
	"github.com/synkahealth/synka-client/internal/uuid"
)

// refreshPageSize caps a single server pull.
const refreshPageSize = 100

// Service coordinates the local store, the durable queue and the sync
// engine behind a single mutation API.
type Service struct {
	store  *db.PatientStore
	queue  *db.QueueStore
	gw     gateway.PatientGateway
	oracle connectivity.Oracle
	engine *syncengine.Engine
}

// Status is a point-in-time snapshot for UI and CLI consumers.
type Status struct {
	Online  bool `json:"online"`
	Syncing bool `json:"syncing"`
	Pending int  `json:"pending"`
}

func NewService(store *db.PatientStore, queue *db.QueueStore, gw gateway.PatientGateway, oracle connectivity.Oracle, engine *syncengine.Engine) *Service {
	return &Service{
		store:  store,
		queue:  queue,
		gw:     gw,
		oracle: oracle,
		engine: engine,
	}
}

// validateFields rejects mutations the server would bounce anyway.
func validateFields(fields *models.PatientFields, requireAll bool) error {
	if fields == nil {
		return apperrors.New(apperrors.ErrValidation, "No patient fields provided")
	}
	if requireAll {
		if fields.Name == nil || *fields.Name == "" {
			return apperrors.New(apperrors.ErrValidation, "Patient name is required")
		}
		if fields.Phone == nil || *fields.Phone == "" {
			return apperrors.New(apperrors.ErrValidation, "Patient phone is required")
		}
		if fields.DateOfBirth == nil || *fields.DateOfBirth == "" {
			return apperrors.New(apperrors.ErrValidation, "Patient date of birth is required")
		}
	}
	if fields.Name != nil && *fields.Name == "" {
		return apperrors.New(apperrors.ErrValidation, "Patient name cannot be empty")
	}
	if fields.Phone != nil && *fields.Phone == "" {
		return apperrors.New(apperrors.ErrValidation, "Patient phone cannot be empty")
	}
	if fields.Language != nil && *fields.Language != "EN" && *fields.Language != "ES" {
		return apperrors.New(apperrors.ErrValidation, "Language must be EN or ES")
	}
	return nil
}

// GetPatient returns a single local record, or ErrNotFound.
func (s *Service) GetPatient(id string) (*models.Patient, error) {
	if err := uuid.Validate(id); err != nil {
		return nil, err
	}
	p, err := s.store.GetByID(id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apperrors.New(apperrors.ErrNotFound, "Patient not found")
	}
	return p, nil
}

// ListPatients returns local records, optionally filtered by a search
// term matching name or phone.
func (s *Service) ListPatients(search string) ([]*models.Patient, error) {
	return s.store.GetAll(search)
}

// CreatePatient registers a new patient. When online it tries the
// server first so the record is born under its server identity; any
// failure other than a duplicate-phone conflict falls back to the
// offline path, which writes locally and queues the create.
func (s *Service) CreatePatient(ctx context.Context, fields *models.PatientFields) (*models.Patient, error) {
	if err := validateFields(fields, true); err != nil {
		return nil, err
	}

	if s.oracle.IsConnected() {
		id := uuid.New()
		created, err := s.gw.Create(ctx, id, models.PatientPayloadFromFields(fields))
		if err == nil {
			if err := s.store.UpsertFromServer(created); err != nil {
				return nil, err
			}
			return created, nil
		}
		if gateway.IsConflict(err) {
			return nil, apperrors.New(apperrors.ErrConflict, "Patient with this phone number already exists")
		}
		logging.Warn("Remote create failed, falling back to offline path", map[string]interface{}{
			"error": err.Error(),
		})
	}

	var p *models.Patient
	err := s.localFirst(models.ActionCreate, func() (string, *models.PatientPayload, error) {
		created, err := s.store.Create(fields)
		if err != nil {
			return "", nil, err
		}
		p = created
		return created.ID.String(), models.PatientPayloadFrom(created), nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// UpdatePatient applies the change locally and queues it. Updates are
// always local-first so edits never block on the network.
func (s *Service) UpdatePatient(ctx context.Context, id string, fields *models.PatientFields) (*models.Patient, error) {
	if err := uuid.Validate(id); err != nil {
		return nil, err
	}
	if err := validateFields(fields, false); err != nil {
		return nil, err
	}

	existing, err := s.store.GetByID(id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, apperrors.New(apperrors.ErrNotFound, "Patient not found")
	}

	err = s.localFirst(models.ActionUpdate, func() (string, *models.PatientPayload, error) {
		if err := s.store.Update(id, fields); err != nil {
			return "", nil, err
		}
		return id, models.PatientPayloadFromFields(fields), nil
	})
	if err != nil {
		return nil, err
	}
	return s.store.GetByID(id)
}

// DeletePatient removes the record locally and, unless the server never
// saw it, propagates the deletion. A tombstone keeps server pulls from
// resurrecting the record while the delete is still queued.
func (s *Service) DeletePatient(ctx context.Context, id string) error {
	if err := uuid.Validate(id); err != nil {
		return err
	}

	p, err := s.store.GetByID(id)
	if err != nil {
		return err
	}
	if p == nil {
		return apperrors.New(apperrors.ErrNotFound, "Patient not found")
	}

	// Pending mutations for this record are moot once it is deleted.
	if err := s.queue.RemoveByEntityID(models.EntityPatient, id); err != nil {
		return err
	}

	// Never synced: dropping the queued create is the whole deletion.
	if !p.Synced {
		return s.store.Delete(id)
	}

	if s.oracle.IsConnected() {
		err := s.gw.Delete(ctx, id)
		if err == nil || gateway.IsNotFound(err) {
			return s.store.Delete(id)
		}
		logging.Warn("Remote delete failed, queueing for retry", map[string]interface{}{
			"patient_id": id,
			"error":      err.Error(),
		})
	}

	return s.localFirst(models.ActionDelete, func() (string, *models.PatientPayload, error) {
		if err := s.store.TrackDeletion(id); err != nil {
			return "", nil, err
		}
		if err := s.store.Delete(id); err != nil {
			return "", nil, err
		}
		return id, &models.PatientPayload{}, nil
	})
}

// localFirst is the single path every offline mutation takes: the
// entity-specific local write runs first, then the mutation it reports
// is queued, which also kicks an opportunistic drain. Keeping the
// write-then-enqueue ordering in one place means no entry point can
// get it wrong.
func (s *Service) localFirst(action models.Action, write func() (string, *models.PatientPayload, error)) error {
	id, payload, err := write()
	if err != nil {
		return err
	}
	return s.engine.Enqueue(action, id, payload)
}

// Refresh pulls the server's patient list into the local store and
// returns the merged local view. Offline it degrades to a plain local
// read.
func (s *Service) Refresh(ctx context.Context, search string) ([]*models.Patient, error) {
	if !s.oracle.IsConnected() {
		return s.store.GetAll(search)
	}

	remote, err := s.gw.List(ctx, search, 1, refreshPageSize)
	if err != nil {
		logging.Warn("Server pull failed, serving local data", map[string]interface{}{
			"error": err.Error(),
		})
		return s.store.GetAll(search)
	}

	if err := s.store.BatchUpsertFromServer(remote); err != nil {
		return nil, err
	}
	return s.store.GetAll(search)
}

// CleanupDuplicates removes local records sharing a phone number,
// keeping the synced copy (or the oldest, when none is synced).
// Returns how many records were removed.
func (s *Service) CleanupDuplicates() (int, error) {
	all, err := s.store.GetAll("")
	if err != nil {
		return 0, err
	}

	byPhone := make(map[string][]*models.Patient)
	for _, p := range all {
		if p.Phone == "" {
			continue
		}
		byPhone[p.Phone] = append(byPhone[p.Phone], p)
	}

	removed := 0
	for _, group := range byPhone {
		if len(group) < 2 {
			continue
		}
		keep := group[0]
		for _, p := range group {
			if p.Synced && !keep.Synced {
				keep = p
			} else if p.Synced == keep.Synced && p.CreatedAt < keep.CreatedAt {
				keep = p
			}
		}
		for _, p := range group {
			if p.ID == keep.ID {
				continue
			}
			if err := s.queue.RemoveByEntityID(models.EntityPatient, p.ID.String()); err != nil {
				return removed, err
			}
			if err := s.store.Delete(p.ID.String()); err != nil {
				return removed, err
			}
			removed++
		}
	}

	if removed > 0 {
		logging.Info("Removed duplicate patients", map[string]interface{}{
			"count": removed,
		})
	}
	return removed, nil
}

// SyncNow runs a blocking drain and returns its result.
func (s *Service) SyncNow(ctx context.Context) syncengine.Result {
	return s.engine.SyncAll(ctx)
}

// RequeueUnsynced re-queues records dropped at the retry ceiling.
func (s *Service) RequeueUnsynced(ctx context.Context) (int, error) {
	return s.engine.RequeueUnsynced(ctx)
}

// Status reports connectivity, drain state and pending work.
func (s *Service) Status() (Status, error) {
	pending, err := s.engine.PendingCount()
	if err != nil {
		return Status{}, err
	}
	return Status{
		Online:  s.oracle.IsConnected(),
		Syncing: s.engine.IsSyncing(),
		Pending: pending,
	}, nil
}
