package auditevent

import (
	"context"

	"github.com/google/uuid"
)

// Repository is append-only: there is no update or delete.
type Repository interface {
	Append(ctx context.Context, e *Event) error
	ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Event, error)
	List(ctx context.Context, f Filter) ([]*Event, int, error)
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
