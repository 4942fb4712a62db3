package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sunflower/clinic/internal/domain/auditevent"
	"github.com/sunflower/clinic/internal/domain/encounter"
	"github.com/sunflower/clinic/internal/domain/stationrecord"
	"github.com/sunflower/clinic/internal/platform/apperr"
	"github.com/sunflower/clinic/internal/platform/db"
	"github.com/sunflower/clinic/internal/platform/telemetry"
)

var tracer = otel.Tracer("github.com/sunflower/clinic/internal/domain/workflow")

// Command asks the engine to move one encounter.
type Command struct {
	EncounterID     uuid.UUID
	Action          Action
	Actor           encounter.Actor
	ExpectedVersion int
	// Record, when set, is written as the record the action requires before
	// the transition is checked.
	Record json.RawMessage
	Reason string
}

// EncounterStore is the part of the encounter repository the engine drives.
type EncounterStore interface {
	GetForUpdate(ctx context.Context, id uuid.UUID) (*encounter.Encounter, error)
	UpdateStatus(ctx context.Context, enc *encounter.Encounter, expectedVersion int) error
}

// RecordStore writes and looks up station records inside the engine's
// transaction.
type RecordStore interface {
	Put(ctx context.Context, enc *encounter.Encounter, kind encounter.RecordKind, payload json.RawMessage, author encounter.Actor) (*stationrecord.Record, error)
	Latest(ctx context.Context, encounterID uuid.UUID, kind encounter.RecordKind) (*stationrecord.Record, error)
}

// Engine applies transitions. Each Apply is one transaction: the encounter
// row is locked, the record (if any) is written, the status is swapped on
// the expected version and the audit entry appended, or none of it happens.
type Engine struct {
	encounters EncounterStore
	records    RecordStore
	audit      encounter.AuditRecorder
	tx         db.TxManager
	metrics    *telemetry.Metrics
	logger     zerolog.Logger
	now        func() time.Time
}

func NewEngine(encounters EncounterStore, records RecordStore, audit encounter.AuditRecorder, tx db.TxManager, metrics *telemetry.Metrics, logger zerolog.Logger) *Engine {
	return &Engine{
		encounters: encounters,
		records:    records,
		audit:      audit,
		tx:         tx,
		metrics:    metrics,
		logger:     logger.With().Str("component", "workflow").Logger(),
		now:        time.Now,
	}
}

// Apply performs cmd and returns the encounter in its new state.
func (e *Engine) Apply(ctx context.Context, cmd Command) (out *encounter.Encounter, err error) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, "workflow.Apply", trace.WithAttributes(
		attribute.String("encounter.id", cmd.EncounterID.String()),
		attribute.String("workflow.action", string(cmd.Action)),
		attribute.String("actor.role", string(cmd.Actor.Role)),
		attribute.Int("encounter.expected_version", cmd.ExpectedVersion),
	))
	defer func() {
		e.metrics.ObserveTransition(string(cmd.Action), err, time.Since(started))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if !cmd.Action.Valid() {
		// An action no state admits is a transition that is never defined.
		return nil, apperr.InvalidTransition("unknown action %q", cmd.Action).WithDetail("action", string(cmd.Action))
	}
	if cmd.ExpectedVersion < 1 {
		return nil, apperr.Validation("expected_version is required")
	}
	if !roleAllowed(cmd.Action, cmd.Actor.Role) {
		return nil, apperr.Forbidden("role %s may not %s", cmd.Actor.Role, cmd.Action).
			WithDetail("action", string(cmd.Action))
	}

	var from encounter.Status
	err = e.tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := e.encounters.GetForUpdate(ctx, cmd.EncounterID)
		if err != nil {
			return err
		}
		if cur.Version != cmd.ExpectedVersion {
			return apperr.Conflict("encounter %s is at version %d, not %d", cur.ID, cur.Version, cmd.ExpectedVersion).
				WithDetail("current_version", cur.Version).
				WithDetail("expected_version", cmd.ExpectedVersion)
		}
		from = cur.Status
		out, err = e.transition(ctx, cur, cmd)
		return err
	})
	if err != nil {
		e.logRejected(cmd, err)
		return nil, err
	}

	span.SetAttributes(attribute.String("encounter.status", string(out.Status)))
	e.logger.Info().
		Str("encounter_id", out.ID.String()).
		Str("action", string(cmd.Action)).
		Str("actor_id", cmd.Actor.ID).
		Str("actor_role", string(cmd.Actor.Role)).
		Str("from", string(from)).
		Str("to", string(out.Status)).
		Int("version", out.Version).
		Msg("transition applied")
	return out, nil
}

func (e *Engine) logRejected(cmd Command, err error) {
	level := zerolog.DebugLevel
	switch apperr.KindOf(err) {
	case apperr.KindConflict:
		level = zerolog.InfoLevel
	case "":
		level = zerolog.ErrorLevel
	}
	e.logger.WithLevel(level).Err(err).
		Str("encounter_id", cmd.EncounterID.String()).
		Str("action", string(cmd.Action)).
		Str("actor_id", cmd.Actor.ID).
		Int("expected_version", cmd.ExpectedVersion).
		Str("kind", string(apperr.KindOf(err))).
		Msg("transition rejected")
}

// transition runs inside the transaction with cur locked at the expected
// version.
func (e *Engine) transition(ctx context.Context, cur *encounter.Encounter, cmd Command) (*encounter.Encounter, error) {
	st, ok := lookup(cur, cmd.Action)
	if !ok {
		if cur.Status.Terminal() {
			return nil, apperr.InvalidTransition("encounter %s is %s", cur.ID, cur.Status).
				WithDetail("status", string(cur.Status))
		}
		return nil, apperr.InvalidTransition("cannot %s an encounter in %s", cmd.Action, cur.Status).
			WithDetail("status", string(cur.Status)).
			WithDetail("action", string(cmd.Action))
	}
	if err := authorize(cur, st, cmd); err != nil {
		return nil, err
	}

	var written *stationrecord.Record
	kind, needsRecord := st.requires.kind(cur)
	switch {
	case hasPayload(cmd.Record):
		if !needsRecord {
			return nil, apperr.Validation("%s does not take a record", cmd.Action)
		}
		if err := stationrecord.CheckWritable(cur, kind, cmd.Actor); err != nil {
			return nil, err
		}
		rec, err := e.records.Put(ctx, cur, kind, cmd.Record, cmd.Actor)
		if err != nil {
			return nil, err
		}
		written = rec
	case needsRecord:
		rec, err := e.records.Latest(ctx, cur.ID, kind)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, apperr.Validation("a %s record is required to %s", kind, cmd.Action).
				WithDetail("record_kind", string(kind))
		}
		if st.fresh && !rec.FreshFor(cur) {
			return nil, apperr.Validation("the %s record predates this visit to the %s station", kind, kind.Station()).
				WithDetail("record_kind", string(kind)).
				WithDetail("record_version", rec.EncounterVersion)
		}
	}

	reason := strings.TrimSpace(cmd.Reason)
	if cmd.Action == ActionCancel && reason == "" {
		return nil, apperr.Validation("cancel requires a reason")
	}

	next := cur.Clone()
	next.Status = st.to
	next.HeldBy = st.heldBy
	if cmd.Action == ActionCancel {
		next.CancelReason = &reason
	}
	if cmd.Actor.Role == encounter.RoleDoctor && !cmd.Actor.Override && cmd.Action != ActionCancel && next.DoctorID == nil {
		id := cmd.Actor.ID
		next.DoctorID = &id
	}
	if next.Stage() != cur.Stage() {
		next.StageVersion = cur.Version + 1
	}
	if err := e.encounters.UpdateStatus(ctx, next, cur.Version); err != nil {
		return nil, err
	}

	ev := &auditevent.Event{
		EncounterID: next.ID,
		Action:      string(cmd.Action),
		FromStatus:  string(cur.Status),
		ToStatus:    string(next.Status),
		ActorID:     cmd.Actor.ID,
		ActorRole:   string(cmd.Actor.Role),
		Version:     next.Version,
		OccurredAt:  e.now().UTC(),
	}
	if written != nil {
		k := string(written.Kind)
		ev.RecordKind = &k
		ev.RecordID = &written.ID
	}
	if reason != "" {
		ev.Reason = &reason
	}
	if err := e.audit.Record(ctx, ev); err != nil {
		return nil, err
	}
	return next, nil
}

// authorize checks the actor against the resolved step: the owning role for
// station work, the cancel capability for cancel, and doctor assignment.
func authorize(enc *encounter.Encounter, st step, cmd Command) error {
	actor := cmd.Actor
	if cmd.Action == ActionCancel {
		switch actor.Role {
		case encounter.RoleReception:
			return nil
		case encounter.RoleDoctor:
			if actor.Override || enc.DoctorID == nil || *enc.DoctorID == actor.ID {
				return nil
			}
			return apperr.Forbidden("only the assigned doctor may cancel encounter %s", enc.ID)
		}
		return apperr.Forbidden("role %s may not cancel", actor.Role)
	}

	if actor.Role != st.owner.Role() {
		return apperr.Forbidden("role %s does not operate the %s station", actor.Role, st.owner).
			WithDetail("stage", string(enc.Stage()))
	}
	if actor.Role == encounter.RoleDoctor && !actor.Override && enc.DoctorID != nil && *enc.DoctorID != actor.ID {
		return apperr.Forbidden("encounter %s is assigned to another doctor", enc.ID)
	}
	return nil
}

func hasPayload(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

