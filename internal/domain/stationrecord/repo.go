package stationrecord

import (
	"context"

	"github.com/google/uuid"

	"github.com/sunflower/clinic/internal/domain/encounter"
)

// Repository is the Station Record Store.
type Repository interface {
	// Upsert creates the (encounter, kind) record or amends it in place.
	// ID, Revision and CreatedAt are set from the stored row.
	Upsert(ctx context.Context, r *Record) error
	Get(ctx context.Context, encounterID uuid.UUID, kind encounter.RecordKind) (*Record, error)
	ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Record, error)
}
