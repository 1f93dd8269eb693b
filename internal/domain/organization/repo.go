package organization

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no organization matches the lookup.
var ErrNotFound = errors.New("organization not found")

// ErrVersionConflict is returned by UpdateBilling when the record's version
// no longer matches the expected version: another writer got there first and
// the caller must re-read and retry.
var ErrVersionConflict = errors.New("organization version conflict")

type Repository interface {
	Create(ctx context.Context, org *Organization) error
	GetByID(ctx context.Context, id uuid.UUID) (*Organization, error)
	GetByFHIRID(ctx context.Context, fhirID string) (*Organization, error)

	// UpdateBilling conditionally replaces the billing state. The write
	// succeeds only if the stored version_id still equals expectedVersion;
	// otherwise ErrVersionConflict is returned and nothing changes. On
	// success the stored version is incremented.
	UpdateBilling(ctx context.Context, id uuid.UUID, expectedVersion int, state BillingState) error
}
