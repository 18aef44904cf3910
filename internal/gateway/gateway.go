// Package gateway provides the transport to the server's patient
// endpoints. The sync engine only sees the PatientGateway contract and
// the three-way error taxonomy: uniqueness conflicts, not-found, and
// retryable generic failures.
package gateway

import (
	"context"

	apperrors "github.com/synkahealth/synka-client/internal/errors"
	"github.com/synkahealth/synka-client/internal/models"
)

// PatientGateway is the remote patient resource.
type PatientGateway interface {
	// Create creates a patient on the server. The client-generated id
	// is submitted with the fields; the server may accept it verbatim
	// or assign its own, so callers must compare the returned id.
	Create(ctx context.Context, id string, fields *models.PatientPayload) (*models.Patient, error)

	// Update applies a partial update against a known server id.
	Update(ctx context.Context, id string, fields *models.PatientPayload) (*models.Patient, error)

	// Delete removes a patient. A not-found error means the end state
	// already matches intent; callers treat it as success.
	Delete(ctx context.Context, id string) error

	// List returns a page of patients matching the optional search term.
	List(ctx context.Context, search string, page, limit int) ([]*models.Patient, error)
}

// IsConflict reports whether the error is a semantic uniqueness
// violation (duplicate phone number), distinguishable from transport
// failure.
func IsConflict(err error) bool {
	return apperrors.Is(err, apperrors.ErrConflict)
}

// IsNotFound reports whether the error is a not-found response.
func IsNotFound(err error) bool {
	return apperrors.Is(err, apperrors.ErrNotFound)
}
