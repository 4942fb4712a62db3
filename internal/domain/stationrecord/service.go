package stationrecord

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sunflower/clinic/internal/domain/auditevent"
	"github.com/sunflower/clinic/internal/domain/encounter"
	"github.com/sunflower/clinic/internal/platform/apperr"
	"github.com/sunflower/clinic/internal/platform/db"
	"github.com/sunflower/clinic/internal/platform/telemetry"
)

var tracer = otel.Tracer("github.com/sunflower/clinic/internal/domain/stationrecord")

// EncounterStore is the part of the encounter repository records need.
type EncounterStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*encounter.Encounter, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*encounter.Encounter, error)
}

// AttachmentChecker confirms lab attachments belong to the encounter.
type AttachmentChecker interface {
	Exists(ctx context.Context, encounterID, attachmentID uuid.UUID) (bool, error)
}

type Service struct {
	repo        Repository
	encounters  EncounterStore
	audit       encounter.AuditRecorder
	tx          db.TxManager
	attachments AttachmentChecker
	metrics     *telemetry.Metrics
	now         func() time.Time
}

func NewService(repo Repository, encounters EncounterStore, audit encounter.AuditRecorder, tx db.TxManager, metrics *telemetry.Metrics) *Service {
	return &Service{repo: repo, encounters: encounters, audit: audit, tx: tx, metrics: metrics, now: time.Now}
}

// WithAttachments enables attachment reference checks on lab records.
func (s *Service) WithAttachments(c AttachmentChecker) *Service {
	s.attachments = c
	return s
}

// CheckWritable decides whether author may create or amend the kind record
// of enc right now: the encounter must sit at that record's station and the
// author must operate it.
func CheckWritable(enc *encounter.Encounter, kind encounter.RecordKind, author encounter.Actor) error {
	if !kind.Valid() {
		return apperr.Validation("unknown record kind %q", kind)
	}
	if enc.Status.Terminal() {
		return apperr.Forbidden("encounter %s is %s; records are read-only", enc.ID, enc.Status)
	}
	station, ok := enc.Station()
	if !ok || station != kind.Station() {
		return apperr.Forbidden("%s records can only be written while the encounter is at the %s station", kind, kind.Station()).
			WithDetail("stage", string(enc.Stage()))
	}
	if author.Role != station.Role() {
		return apperr.Forbidden("role %s cannot write %s records", author.Role, kind)
	}
	if station == encounter.StationDoctor {
		if want := encounter.DoctorRecordKind(enc.VisitType); kind != want {
			return apperr.Validation("%s visits record %s, not %s", enc.VisitType, want, kind)
		}
		if !author.Override && enc.DoctorID != nil && *enc.DoctorID != author.ID {
			return apperr.Forbidden("encounter %s is assigned to another doctor", enc.ID)
		}
	}
	return nil
}

// Put validates payload and stores it as the kind record of enc, stamped
// with enc's current version. It must run inside the caller's transaction
// after CheckWritable.
func (s *Service) Put(ctx context.Context, enc *encounter.Encounter, kind encounter.RecordKind, payload json.RawMessage, author encounter.Actor) (rec *Record, err error) {
	defer func() { s.metrics.ObserveRecordWrite(string(kind), err) }()

	normalized, err := Validate(kind, payload)
	if err != nil {
		return nil, err
	}
	if kind == encounter.RecordLab {
		if err := s.checkAttachments(ctx, enc.ID, LabAttachmentIDs(normalized)); err != nil {
			return nil, err
		}
	}

	rec = &Record{
		EncounterID:      enc.ID,
		Kind:             kind,
		Payload:          normalized,
		AuthoredBy:       author.ID,
		AuthorRole:       author.Role,
		AuthoredAt:       s.now().UTC(),
		EncounterVersion: enc.Version,
	}
	if err := s.repo.Upsert(ctx, rec); err != nil {
		return nil, err
	}
	if enc.StationRecords == nil {
		enc.StationRecords = map[encounter.RecordKind]uuid.UUID{}
	}
	enc.StationRecords[kind] = rec.ID
	return rec, nil
}

func (s *Service) checkAttachments(ctx context.Context, encounterID uuid.UUID, ids []uuid.UUID) error {
	if s.attachments == nil {
		return nil
	}
	for _, id := range ids {
		ok, err := s.attachments.Exists(ctx, encounterID, id)
		if err != nil {
			return fmt.Errorf("check attachment %s: %w", id, err)
		}
		if !ok {
			return apperr.Validation("attachment %s does not belong to encounter %s", id, encounterID).
				WithDetail("attachment_id", id.String())
		}
	}
	return nil
}

// Write creates or amends a record outside of a transition and audits it
// as write_record. The encounter's status and version are unchanged.
func (s *Service) Write(ctx context.Context, encounterID uuid.UUID, kind encounter.RecordKind, payload json.RawMessage, author encounter.Actor) (*Record, error) {
	ctx, span := tracer.Start(ctx, "stationrecord.Write")
	defer span.End()
	span.SetAttributes(
		attribute.String("encounter.id", encounterID.String()),
		attribute.String("record.kind", string(kind)),
		attribute.String("actor.role", string(author.Role)),
	)

	var rec *Record
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		enc, err := s.encounters.GetForUpdate(ctx, encounterID)
		if err != nil {
			return err
		}
		if err := CheckWritable(enc, kind, author); err != nil {
			return err
		}
		if rec, err = s.Put(ctx, enc, kind, payload, author); err != nil {
			return err
		}
		k := string(kind)
		return s.audit.Record(ctx, &auditevent.Event{
			EncounterID: enc.ID,
			Action:      auditevent.ActionWriteRecord,
			FromStatus:  string(enc.Status),
			ToStatus:    string(enc.Status),
			ActorID:     author.ID,
			ActorRole:   string(author.Role),
			Version:     enc.Version,
			RecordKind:  &k,
			RecordID:    &rec.ID,
			OccurredAt:  rec.AuthoredAt,
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return rec, nil
}

// Read returns the kind record of an encounter. Reads are unrestricted.
func (s *Service) Read(ctx context.Context, encounterID uuid.UUID, kind encounter.RecordKind) (*Record, error) {
	if !kind.Valid() {
		return nil, apperr.Validation("unknown record kind %q", kind)
	}
	return s.repo.Get(ctx, encounterID, kind)
}

// Latest returns the stored kind record, or nil when none exists.
func (s *Service) Latest(ctx context.Context, encounterID uuid.UUID, kind encounter.RecordKind) (*Record, error) {
	rec, err := s.repo.Get(ctx, encounterID, kind)
	if apperr.KindOf(err) == apperr.KindNotFound {
		return nil, nil
	}
	return rec, err
}

func (s *Service) List(ctx context.Context, encounterID uuid.UUID) ([]*Record, error) {
	if _, err := s.encounters.GetByID(ctx, encounterID); err != nil {
		return nil, err
	}
	return s.repo.ListByEncounter(ctx, encounterID)
}
