package auditevent

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Record appends e. Callers run it inside the transaction of the change it
// describes so both commit or neither does.
func (s *Service) Record(ctx context.Context, e *Event) error {
	if e.EncounterID == uuid.Nil {
		return fmt.Errorf("audit event: encounter_id is required")
	}
	if e.Action == "" || e.ToStatus == "" {
		return fmt.Errorf("audit event: action and to_status are required")
	}
	if e.ActorID == "" || e.ActorRole == "" {
		return fmt.Errorf("audit event: actor is required")
	}
	return s.repo.Append(ctx, e)
}

func (s *Service) ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Event, error) {
	return s.repo.ListByEncounter(ctx, encounterID)
}

func (s *Service) List(ctx context.Context, f Filter) ([]*Event, int, error) {
	return s.repo.List(ctx, f)
}
