// Package models provides data model definitions for the Synka client core.
package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*u = ""
	case string:
		*u = UUID(v)
	case []byte:
		*u = UUID(v)
	default:
		return fmt.Errorf("cannot scan %T into UUID", value)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// Patient represents a patient record in the local store.
//
// The ID may be client-generated (record created offline) or
// server-assigned. Synced reports whether the local copy is known to
// exist server-side under the same ID; a false value means the record
// may be absent from, or differ from, the server copy.
type Patient struct {
	ID          UUID   `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Phone       string `db:"phone" json:"phone"`
	DateOfBirth string `db:"date_of_birth" json:"dateOfBirth"`
	Language    string `db:"language" json:"language"` // EN, ES
	Diagnosis   string `db:"diagnosis" json:"diagnosis,omitempty"`
	Allergies   string `db:"allergies" json:"allergies,omitempty"` // Comma-separated codes
	CreatedAt   int64  `db:"created_at" json:"createdAt"`
	UpdatedAt   int64  `db:"updated_at" json:"updatedAt"`
	Synced      bool   `db:"synced" json:"synced"`
}

// TableName returns the table name for Patient.
func (Patient) TableName() string {
	return "patients"
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (p *Patient) CreatedAtTime() time.Time {
	return time.Unix(p.CreatedAt, 0)
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (p *Patient) UpdatedAtTime() time.Time {
	return time.Unix(p.UpdatedAt, 0)
}

// PatientFields holds the caller-settable fields of a patient.
// Pointer fields distinguish "not provided" from an explicit empty
// value when applied as a partial update.
type PatientFields struct {
	Name        *string `json:"name,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	DateOfBirth *string `json:"dateOfBirth,omitempty"`
	Language    *string `json:"language,omitempty"`
	Diagnosis   *string `json:"diagnosis,omitempty"`
	Allergies   *string `json:"allergies,omitempty"`
}

// Apply merges the provided fields into the patient.
func (f *PatientFields) Apply(p *Patient) {
	if f.Name != nil {
		p.Name = *f.Name
	}
	if f.Phone != nil {
		p.Phone = *f.Phone
	}
	if f.DateOfBirth != nil {
		p.DateOfBirth = *f.DateOfBirth
	}
	if f.Language != nil {
		p.Language = *f.Language
	}
	if f.Diagnosis != nil {
		p.Diagnosis = *f.Diagnosis
	}
	if f.Allergies != nil {
		p.Allergies = *f.Allergies
	}
}
