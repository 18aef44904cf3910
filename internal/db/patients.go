package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/synkahealth/synka-client/internal/models"
	"github.com/synkahealth/synka-client/internal/uuid"
)

// PatientStore provides CRUD operations over the local patients table.
//
// Every mutating operation is a single atomic statement or transaction;
// no partial writes are observable. The store serializes its own writes
// through the single-writer connection configured in Open, so UI
// mutations and an in-flight drain can safely interleave.
type PatientStore struct {
	db *DB
}

// NewPatientStore creates a new PatientStore.
func NewPatientStore(db *DB) *PatientStore {
	return &PatientStore{db: db}
}

const patientColumns = "id, name, phone, date_of_birth, language, diagnosis, allergies, created_at, updated_at, synced"

// scanPatient scans one patient row.
func scanPatient(row interface{ Scan(...interface{}) error }) (*models.Patient, error) {
	var p models.Patient
	var diagnosis, allergies sql.NullString
	var synced int
	err := row.Scan(&p.ID, &p.Name, &p.Phone, &p.DateOfBirth, &p.Language,
		&diagnosis, &allergies, &p.CreatedAt, &p.UpdatedAt, &synced)
	if err != nil {
		return nil, err
	}
	p.Diagnosis = diagnosis.String
	p.Allergies = allergies.String
	p.Synced = synced == 1
	return &p, nil
}

// GetAll returns all patients ordered by recency (newest first).
// A non-empty search term filters by case-insensitive substring match
// over name and phone.
func (s *PatientStore) GetAll(search string) ([]*models.Patient, error) {
	query := fmt.Sprintf("SELECT %s FROM patients ORDER BY created_at DESC, id", patientColumns)
	var args []interface{}

	if search != "" {
		query = fmt.Sprintf(
			"SELECT %s FROM patients WHERE name LIKE ? OR phone LIKE ? ORDER BY created_at DESC, id",
			patientColumns)
		pattern := "%" + search + "%"
		args = []interface{}{pattern, pattern}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	defer rows.Close()

	var patients []*models.Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		patients = append(patients, p)
	}
	return patients, rows.Err()
}

// GetByID retrieves a patient by id. Returns (nil, nil) when absent.
func (s *PatientStore) GetByID(id string) (*models.Patient, error) {
	query := fmt.Sprintf("SELECT %s FROM patients WHERE id = ?", patientColumns)
	p, err := scanPatient(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get patient %s: %w", id, err)
	}
	return p, nil
}

// Create inserts a new patient with a client-generated id and
// synced=false, and returns the stored record.
func (s *PatientStore) Create(fields *models.PatientFields) (*models.Patient, error) {
	now := time.Now().Unix()
	p := &models.Patient{
		ID:        models.UUID(uuid.New()),
		Language:  "EN",
		CreatedAt: now,
		UpdatedAt: now,
		Synced:    false,
	}
	fields.Apply(p)

	_, err := s.db.Exec(`
		INSERT INTO patients (id, name, phone, date_of_birth, language, diagnosis, allergies, created_at, updated_at, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		p.ID, p.Name, p.Phone, p.DateOfBirth, p.Language,
		nullable(p.Diagnosis), nullable(p.Allergies), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create patient: %w", err)
	}
	return p, nil
}

// Update merges the provided fields into the patient, bumps updated_at
// and resets synced to false. Updating an absent id is a silent no-op.
func (s *PatientStore) Update(id string, fields *models.PatientFields) error {
	var sets []string
	var args []interface{}

	if fields.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *fields.Name)
	}
	if fields.Phone != nil {
		sets = append(sets, "phone = ?")
		args = append(args, *fields.Phone)
	}
	if fields.DateOfBirth != nil {
		sets = append(sets, "date_of_birth = ?")
		args = append(args, *fields.DateOfBirth)
	}
	if fields.Language != nil {
		sets = append(sets, "language = ?")
		args = append(args, *fields.Language)
	}
	if fields.Diagnosis != nil {
		sets = append(sets, "diagnosis = ?")
		args = append(args, nullable(*fields.Diagnosis))
	}
	if fields.Allergies != nil {
		sets = append(sets, "allergies = ?")
		args = append(args, nullable(*fields.Allergies))
	}

	sets = append(sets, "updated_at = ?", "synced = 0")
	args = append(args, time.Now().Unix(), id)

	query := fmt.Sprintf("UPDATE patients SET %s WHERE id = ?", strings.Join(sets, ", "))
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to update patient %s: %w", id, err)
	}
	return nil
}

// Delete removes the patient unconditionally. Deleting an absent id is
// not an error.
func (s *PatientStore) Delete(id string) error {
	if _, err := s.db.Exec("DELETE FROM patients WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete patient %s: %w", id, err)
	}
	return nil
}

// MarkSynced sets synced=true without altering other fields. Called
// only after a confirmed server roundtrip.
func (s *PatientStore) MarkSynced(id string) error {
	if _, err := s.db.Exec("UPDATE patients SET synced = 1 WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to mark patient %s synced: %w", id, err)
	}
	return nil
}

// GetUnsynced returns all records with synced=false. Records here with
// no corresponding queue entry are orphans from an interrupted write.
func (s *PatientStore) GetUnsynced() ([]*models.Patient, error) {
	query := fmt.Sprintf("SELECT %s FROM patients WHERE synced = 0 ORDER BY created_at, id", patientColumns)
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsynced patients: %w", err)
	}
	defer rows.Close()

	var patients []*models.Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		patients = append(patients, p)
	}
	return patients, rows.Err()
}

// UpsertFromServer overwrites (or inserts) a record with server data
// and forces synced=true. This is the only path that lets remote data
// override local data.
func (s *PatientStore) UpsertFromServer(p *models.Patient) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO patients (id, name, phone, date_of_birth, language, diagnosis, allergies, created_at, updated_at, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		p.ID, p.Name, p.Phone, p.DateOfBirth, p.Language,
		nullable(p.Diagnosis), nullable(p.Allergies), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert patient %s from server: %w", p.ID, err)
	}
	return nil
}

// BatchUpsertFromServer applies UpsertFromServer semantics to a server
// page as a single transaction (all-or-nothing). Records with a local
// deletion tombstone are skipped so a pull cannot resurrect a patient
// the user already deleted.
func (s *PatientStore) BatchUpsertFromServer(patients []*models.Patient) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin batch upsert: %w", err)
	}
	defer tx.Rollback()

	for _, p := range patients {
		var tombstoned int
		err := tx.QueryRow("SELECT COUNT(*) FROM deleted_patients WHERE id = ?", p.ID).Scan(&tombstoned)
		if err != nil {
			return fmt.Errorf("failed to check tombstone for %s: %w", p.ID, err)
		}
		if tombstoned > 0 {
			continue
		}

		_, err = tx.Exec(`
			INSERT OR REPLACE INTO patients (id, name, phone, date_of_birth, language, diagnosis, allergies, created_at, updated_at, synced)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			p.ID, p.Name, p.Phone, p.DateOfBirth, p.Language,
			nullable(p.Diagnosis), nullable(p.Allergies), p.CreatedAt, p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to batch upsert patient %s: %w", p.ID, err)
		}
	}

	return tx.Commit()
}

// TrackDeletion records a tombstone for a locally deleted patient.
func (s *PatientStore) TrackDeletion(id string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO deleted_patients (id, deleted_at) VALUES (?, ?)",
		id, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to track deletion of %s: %w", id, err)
	}
	return nil
}

// ClearDeletion removes a tombstone once the server delete is confirmed.
func (s *PatientStore) ClearDeletion(id string) error {
	if _, err := s.db.Exec("DELETE FROM deleted_patients WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to clear deletion of %s: %w", id, err)
	}
	return nil
}

// IsDeleted reports whether a deletion tombstone exists for the id.
func (s *PatientStore) IsDeleted(id string) (bool, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM deleted_patients WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check tombstone for %s: %w", id, err)
	}
	return count > 0, nil
}

// nullable converts an empty string to NULL for optional columns.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
