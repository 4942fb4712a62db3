package labattachment

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *Attachment) error
	Get(ctx context.Context, encounterID, id uuid.UUID) (*Attachment, error)
	ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Attachment, error)
}
