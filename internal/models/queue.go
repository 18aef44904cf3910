// Package models provides data model definitions for the Synka client core.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntityType identifies the kind of record a queue entry mutates.
type EntityType string

const (
	EntityPatient EntityType = "patient"
)

// Action represents a pending mutation kind.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// QueueEntry represents one pending mutation destined for the server.
//
// Entries are ordered by their auto-incrementing ID; for a single
// entity this is the authoritative order in which mutations must be
// applied remotely. Action, EntityID and Payload are immutable once
// enqueued; only the retry bookkeeping may change.
type QueueEntry struct {
	ID         int64           `db:"id" json:"id"`
	EntityType EntityType      `db:"entity_type" json:"entityType"`
	EntityID   string          `db:"entity_id" json:"entityId"`
	Action     Action          `db:"action" json:"action"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	CreatedAt  int64           `db:"created_at" json:"createdAt"`
	RetryCount int             `db:"retry_count" json:"retryCount"`
	LastError  string          `db:"last_error" json:"lastError,omitempty"`
}

// TableName returns the table name for QueueEntry.
func (QueueEntry) TableName() string {
	return "sync_queue"
}

// Time returns the CreatedAt as time.Time.
func (e *QueueEntry) Time() time.Time {
	return time.Unix(e.CreatedAt, 0)
}

// PatientPayload is the queue payload shape for patient mutations.
// It is a snapshot taken at enqueue time; later local edits do not
// retroactively alter a queued request. Create payloads carry a full
// snapshot, update payloads only the changed fields, delete payloads
// are empty.
type PatientPayload struct {
	Name        *string `json:"name,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	DateOfBirth *string `json:"dateOfBirth,omitempty"`
	Language    *string `json:"language,omitempty"`
	Diagnosis   *string `json:"diagnosis,omitempty"`
	Allergies   *string `json:"allergies,omitempty"`
}

// PatientPayloadFrom snapshots a patient into a create payload.
// Local-only bookkeeping (id, synced flag, timestamps) is not part of
// the payload and therefore never reaches the server.
func PatientPayloadFrom(p *Patient) *PatientPayload {
	pl := &PatientPayload{
		Name:        strPtr(p.Name),
		Phone:       strPtr(p.Phone),
		DateOfBirth: strPtr(p.DateOfBirth),
		Language:    strPtr(p.Language),
	}
	if p.Diagnosis != "" {
		pl.Diagnosis = strPtr(p.Diagnosis)
	}
	if p.Allergies != "" {
		pl.Allergies = strPtr(p.Allergies)
	}
	return pl
}

// PatientPayloadFromFields snapshots a partial field set into a payload.
func PatientPayloadFromFields(f *PatientFields) *PatientPayload {
	return &PatientPayload{
		Name:        f.Name,
		Phone:       f.Phone,
		DateOfBirth: f.DateOfBirth,
		Language:    f.Language,
		Diagnosis:   f.Diagnosis,
		Allergies:   f.Allergies,
	}
}

// Fields converts the payload back into a caller field set.
func (pl *PatientPayload) Fields() *PatientFields {
	return &PatientFields{
		Name:        pl.Name,
		Phone:       pl.Phone,
		DateOfBirth: pl.DateOfBirth,
		Language:    pl.Language,
		Diagnosis:   pl.Diagnosis,
		Allergies:   pl.Allergies,
	}
}

// Encode serializes the payload for queue storage.
func (pl *PatientPayload) Encode() (json.RawMessage, error) {
	data, err := json.Marshal(pl)
	if err != nil {
		return nil, fmt.Errorf("encode patient payload: %w", err)
	}
	return data, nil
}

// DecodePatientPayload deserializes a queue payload blob.
func DecodePatientPayload(raw json.RawMessage) (*PatientPayload, error) {
	var pl PatientPayload
	if len(raw) == 0 {
		return &pl, nil
	}
	if err := json.Unmarshal(raw, &pl); err != nil {
		return nil, fmt.Errorf("decode patient payload: %w", err)
	}
	return &pl, nil
}

func strPtr(s string) *string {
	return &s
}
