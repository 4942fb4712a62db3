package encounter

import (
	"time"

	"github.com/google/uuid"
)

// Status is the workflow position of an encounter.
type Status string

const (
	StatusPending               Status = "pending"
	StatusConfirmed             Status = "confirmed"
	StatusWaitingNurseScreening Status = "waiting_nurse_screening"
	StatusWaitingDoctorReview   Status = "waiting_doctor_review"
	StatusWaitingLabProcessing  Status = "waiting_lab_processing"
	StatusInProgress            Status = "in_progress"
	StatusCompleted             Status = "completed"
	StatusCancelled             Status = "cancelled"
)

// Statuses lists every status an encounter may hold.
var Statuses = []Status{
	StatusPending,
	StatusConfirmed,
	StatusWaitingNurseScreening,
	StatusWaitingDoctorReview,
	StatusWaitingLabProcessing,
	StatusInProgress,
	StatusCompleted,
	StatusCancelled,
}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// Terminal statuses admit no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// VisitType selects which record the doctor station must produce.
type VisitType string

const (
	VisitConsultation VisitType = "consultation"
	VisitHealthCheck  VisitType = "health_check"
)

func (v VisitType) Valid() bool {
	return v == VisitConsultation || v == VisitHealthCheck
}

// Actor is the already-authenticated caller of a workflow operation.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
	// Override is set when an admin acts under a station role it was not
	// granted. Overrides never claim or contest doctor assignment.
	Override bool `json:"override,omitempty"`
}

// Encounter is one patient visit moving through the care stations.
type Encounter struct {
	ID             uuid.UUID                `db:"id" json:"id"`
	PatientID      uuid.UUID                `db:"patient_id" json:"patient_id"`
	DepartmentID   uuid.UUID                `db:"department_id" json:"department_id"`
	DoctorID       *string                  `db:"doctor_id" json:"doctor_id,omitempty"`
	VisitType      VisitType                `db:"visit_type" json:"visit_type"`
	Status         Status                   `db:"status" json:"status"`
	HeldBy         *Station                 `db:"held_by" json:"held_by,omitempty"`
	StageVersion   int                      `db:"stage_version" json:"stage_version"`
	QueueNumber    int                      `db:"queue_number" json:"queue_number"`
	IntakeDate     string                   `db:"intake_date" json:"intake_date"`
	IntakeTime     time.Time                `db:"intake_time" json:"intake_time"`
	ScheduledAt    *time.Time               `db:"scheduled_at" json:"scheduled_at,omitempty"`
	ReasonText     *string                  `db:"reason_text" json:"reason_text,omitempty"`
	CancelReason   *string                  `db:"cancel_reason" json:"cancel_reason,omitempty"`
	StationRecords map[RecordKind]uuid.UUID `db:"-" json:"station_records"`
	Version        int                      `db:"version" json:"version"`
	CreatedAt      time.Time                `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time                `db:"updated_at" json:"updated_at"`
}

// Stage is the status that decides which station owns the encounter: the
// status itself, or the holder's waiting status while in_progress.
func (e *Encounter) Stage() Status {
	if e.Status == StatusInProgress && e.HeldBy != nil {
		return e.HeldBy.WaitingStatus()
	}
	return e.Status
}

// Station returns the station that currently owns the encounter.
func (e *Encounter) Station() (Station, bool) {
	return StationForStatus(e.Stage())
}

// HasRecord reports whether a record of kind k has been written.
func (e *Encounter) HasRecord(k RecordKind) bool {
	_, ok := e.StationRecords[k]
	return ok
}

// Clone returns a copy safe to mutate without touching e.
func (e *Encounter) Clone() *Encounter {
	c := *e
	if e.StationRecords != nil {
		c.StationRecords = make(map[RecordKind]uuid.UUID, len(e.StationRecords))
		for k, v := range e.StationRecords {
			c.StationRecords[k] = v
		}
	}
	return &c
}
