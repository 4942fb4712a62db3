package encounter

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sunflower/clinic/internal/domain/auditevent"
	"github.com/sunflower/clinic/internal/platform/apperr"
	"github.com/sunflower/clinic/internal/platform/db"
)

// AuditRecorder appends audit entries inside the caller's transaction.
type AuditRecorder interface {
	Record(ctx context.Context, e *auditevent.Event) error
}

// CreateRequest is the reception intake form.
type CreateRequest struct {
	PatientID     uuid.UUID  `json:"patient_id"`
	DepartmentID  uuid.UUID  `json:"department_id"`
	ReasonText    string     `json:"reason_text"`
	VisitType     VisitType  `json:"visit_type,omitempty"`
	DoctorID      *string    `json:"doctor_id,omitempty"`
	ScheduledAt   *time.Time `json:"scheduled_at,omitempty"`
	InitialStatus Status     `json:"initial_status,omitempty"`
}

type Service struct {
	repo  Repository
	audit AuditRecorder
	tx    db.TxManager
	loc   *time.Location
	now   func() time.Time
}

func NewService(repo Repository, audit AuditRecorder, tx db.TxManager, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{repo: repo, audit: audit, tx: tx, loc: loc, now: time.Now}
}

// Location is the clinic time zone intake days are counted in.
func (s *Service) Location() *time.Location {
	return s.loc
}

// Today returns the current intake date.
func (s *Service) Today() string {
	return s.now().In(s.loc).Format(time.DateOnly)
}

func (s *Service) Create(ctx context.Context, req CreateRequest, actor Actor) (*Encounter, error) {
	if actor.Role != RoleReception {
		return nil, apperr.Forbidden("role %s cannot register encounters", actor.Role)
	}
	if req.PatientID == uuid.Nil {
		return nil, apperr.Validation("patient_id is required")
	}
	if req.DepartmentID == uuid.Nil {
		return nil, apperr.Validation("department_id is required")
	}
	if req.VisitType == "" {
		req.VisitType = VisitConsultation
	}
	if !req.VisitType.Valid() {
		return nil, apperr.Validation("unknown visit_type %q", req.VisitType)
	}
	if req.InitialStatus == "" {
		req.InitialStatus = StatusWaitingNurseScreening
	}
	switch req.InitialStatus {
	case StatusWaitingNurseScreening, StatusPending, StatusConfirmed:
	default:
		return nil, apperr.Validation("initial_status must be pending, confirmed or waiting_nurse_screening").
			WithDetail("initial_status", req.InitialStatus)
	}
	if req.DoctorID != nil && strings.TrimSpace(*req.DoctorID) == "" {
		req.DoctorID = nil
	}

	now := s.now()
	intake := now
	if req.ScheduledAt != nil {
		intake = *req.ScheduledAt
	}
	enc := &Encounter{
		PatientID:    req.PatientID,
		DepartmentID: req.DepartmentID,
		DoctorID:     req.DoctorID,
		VisitType:    req.VisitType,
		Status:       req.InitialStatus,
		IntakeDate:   intake.In(s.loc).Format(time.DateOnly),
		IntakeTime:   intake.UTC(),
		ScheduledAt:  req.ScheduledAt,
	}
	if r := strings.TrimSpace(req.ReasonText); r != "" {
		enc.ReasonText = &r
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, enc); err != nil {
			return err
		}
		return s.audit.Record(ctx, &auditevent.Event{
			EncounterID: enc.ID,
			Action:      auditevent.ActionCreate,
			ToStatus:    string(enc.Status),
			ActorID:     actor.ID,
			ActorRole:   string(actor.Role),
			Version:     enc.Version,
			OccurredAt:  now,
		})
	})
	if err != nil {
		return nil, err
	}
	return enc, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]*Encounter, int, error) {
	for _, st := range f.Statuses {
		if !st.Valid() {
			return nil, 0, apperr.Validation("unknown status %q", st)
		}
	}
	return s.repo.List(ctx, f)
}
