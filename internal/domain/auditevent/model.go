package auditevent

import (
	"time"

	"github.com/google/uuid"
)

// Actions recorded alongside the workflow transitions.
const (
	ActionCreate           = "create"
	ActionWriteRecord      = "write_record"
	ActionUploadAttachment = "upload_attachment"
)

// Event is one immutable audit entry. Version is the encounter version after
// the change it describes.
type Event struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	EncounterID uuid.UUID  `db:"encounter_id" json:"encounter_id"`
	Action      string     `db:"action" json:"action"`
	FromStatus  string     `db:"from_status" json:"from_status"`
	ToStatus    string     `db:"to_status" json:"to_status"`
	ActorID     string     `db:"actor_id" json:"actor_id"`
	ActorRole   string     `db:"actor_role" json:"actor_role"`
	Version     int        `db:"version" json:"version"`
	RecordKind  *string    `db:"record_kind" json:"record_kind,omitempty"`
	RecordID    *uuid.UUID `db:"record_id" json:"record_id,omitempty"`
	Reason      *string    `db:"reason" json:"reason,omitempty"`
	OccurredAt  time.Time  `db:"occurred_at" json:"occurred_at"`
}

// Filter narrows List. Zero values mean "any".
type Filter struct {
	EncounterID *uuid.UUID
	ActorID     string
	Action      string
	Since       *time.Time
	Until       *time.Time
	Limit       int
	Offset      int
}
