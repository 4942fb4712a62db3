package encounter

import (
	"context"

	"github.com/google/uuid"
)

// ListFilter narrows List. Zero values mean "any".
type ListFilter struct {
	IntakeDate   string
	Statuses     []Status
	PatientID    *uuid.UUID
	DepartmentID *uuid.UUID
	DoctorID     string
	Limit        int
	Offset       int
}

// QueueFilter selects a station's queue: encounters in Statuses, plus
// in_progress encounters held by HeldBy.
type QueueFilter struct {
	Statuses     []Status
	HeldBy       Station
	IntakeDate   string
	DepartmentID *uuid.UUID
	// DoctorID keeps encounters assigned to that doctor or not yet assigned.
	DoctorID string
}

// Repository is the Encounter Store. Status fields change only through
// UpdateStatus, which compare-and-swaps on Version.
type Repository interface {
	// Create assigns ID, QueueNumber, Version and timestamps.
	Create(ctx context.Context, enc *Encounter) error
	GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error)
	// GetForUpdate loads and locks the row for the surrounding transaction.
	// Lock contention is reported as a conflict rather than waited on.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Encounter, error)
	// UpdateStatus persists the workflow fields of enc and bumps the version,
	// only if the stored version equals expectedVersion. enc.Version and
	// enc.UpdatedAt are set on success.
	UpdateStatus(ctx context.Context, enc *Encounter, expectedVersion int) error
	List(ctx context.Context, f ListFilter) ([]*Encounter, int, error)
	ListQueue(ctx context.Context, f QueueFilter) ([]*Encounter, error)
}

// QueueQuery asks for one station's queue. An empty Date lists every
// intake day.
type QueueQuery struct {
	Station      Station
	Date         string
	DepartmentID *uuid.UUID
	DoctorID     string
}

// QueueReader serves station queues to the encounter list endpoint.
type QueueReader interface {
	ListQueue(ctx context.Context, q QueueQuery) ([]*Encounter, error)
}
