package stationrecord

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/sunflower/clinic/internal/domain/encounter"
)

// Record is the clinical payload one station wrote for an encounter. There
// is at most one per (encounter, kind); amendments bump Revision.
type Record struct {
	ID               uuid.UUID            `db:"id" json:"id"`
	EncounterID      uuid.UUID            `db:"encounter_id" json:"encounter_id"`
	Kind             encounter.RecordKind `db:"kind" json:"kind"`
	Payload          json.RawMessage      `db:"payload" json:"payload"`
	AuthoredBy       string               `db:"authored_by" json:"authored_by"`
	AuthorRole       encounter.Role       `db:"author_role" json:"author_role"`
	AuthoredAt       time.Time            `db:"authored_at" json:"authored_at"`
	Revision         int                  `db:"revision" json:"revision"`
	EncounterVersion int                  `db:"encounter_version" json:"encounter_version"`
	CreatedAt        time.Time            `db:"created_at" json:"created_at"`
}

// FreshFor reports whether the record was written during the encounter's
// current visit to its station.
func (r *Record) FreshFor(enc *encounter.Encounter) bool {
	return r.EncounterVersion >= enc.StageVersion
}
