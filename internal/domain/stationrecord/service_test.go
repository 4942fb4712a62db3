package stationrecord

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunflower/clinic/internal/domain/auditevent"
	"github.com/sunflower/clinic/internal/domain/encounter"
	"github.com/sunflower/clinic/internal/platform/apperr"
	"github.com/sunflower/clinic/internal/platform/sqlitedb"
	"github.com/sunflower/clinic/internal/platform/sqlitedb/sqlitetest"
)

type fixture struct {
	svc      *Service
	encRepo  encounter.Repository
	encSvc   *encounter.Service
	auditSvc *auditevent.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	d := sqlitetest.Open(t)
	tx := sqlitedb.NewTxManager(d)
	encRepo := encounter.NewSQLiteRepo(d)
	auditSvc := auditevent.NewService(auditevent.NewSQLiteRepo(d))
	return &fixture{
		svc:      NewService(NewSQLiteRepo(d), encRepo, auditSvc, tx, nil),
		encRepo:  encRepo,
		encSvc:   encounter.NewService(encRepo, auditSvc, tx, time.UTC),
		auditSvc: auditSvc,
	}
}

func (f *fixture) create(t *testing.T, visit encounter.VisitType) *encounter.Encounter {
	t.Helper()
	enc, err := f.encSvc.Create(context.Background(), encounter.CreateRequest{
		PatientID:    uuid.New(),
		DepartmentID: uuid.New(),
		VisitType:    visit,
	}, encounter.Actor{ID: "rec-1", Role: encounter.RoleReception})
	require.NoError(t, err)
	return enc
}

func (f *fixture) move(t *testing.T, enc *encounter.Encounter, to encounter.Status) {
	t.Helper()
	next := enc.Clone()
	next.Status = to
	next.StageVersion = enc.Version + 1
	require.NoError(t, f.encRepo.UpdateStatus(context.Background(), next, enc.Version))
	*enc = *next
}

var (
	nurse  = encounter.Actor{ID: "nurse-1", Role: encounter.RoleNurse}
	doctor = encounter.Actor{ID: "dr-1", Role: encounter.RoleDoctor}
)

const screeningPayload = `{"vitals":{"temperature_c":38.1,"pulse_bpm":96}}`

func TestService_Write_CreatesThenAmends(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	enc := f.create(t, encounter.VisitConsultation)

	rec, err := f.svc.Write(ctx, enc.ID, encounter.RecordScreening, json.RawMessage(screeningPayload), nurse)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Revision)
	assert.Equal(t, 1, rec.EncounterVersion)
	assert.Equal(t, "nurse-1", rec.AuthoredBy)

	amended, err := f.svc.Write(ctx, enc.ID, encounter.RecordScreening,
		json.RawMessage(`{"vitals":{"temperature_c":37.4}}`), nurse)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, amended.ID)
	assert.Equal(t, 2, amended.Revision)

	got, err := f.svc.Read(ctx, enc.ID, encounter.RecordScreening)
	require.NoError(t, err)
	assert.JSONEq(t, `{"vitals":{"temperature_c":37.4}}`, string(got.Payload))

	reloaded, err := f.encSvc.Get(ctx, enc.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, reloaded.StationRecords[encounter.RecordScreening])
	assert.Equal(t, 1, reloaded.Version, "record writes do not bump the encounter version")

	events, err := f.auditSvc.ListByEncounter(ctx, enc.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, auditevent.ActionWriteRecord, events[1].Action)
	assert.Equal(t, events[1].FromStatus, events[1].ToStatus)
	require.NotNil(t, events[2].RecordID)
	assert.Equal(t, rec.ID, *events[2].RecordID)
}

func TestService_Write_ForbiddenOutsideStage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	enc := f.create(t, encounter.VisitConsultation)

	_, err := f.svc.Write(ctx, enc.ID, encounter.RecordDoctorReview,
		json.RawMessage(`{"diagnosis":{"description":"flu"}}`), doctor)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	f.move(t, enc, encounter.StatusWaitingDoctorReview)
	_, err = f.svc.Write(ctx, enc.ID, encounter.RecordScreening, json.RawMessage(screeningPayload), nurse)
	assert.True(t, errors.Is(err, apperr.ErrForbidden), "screening is read-only once the patient left screening")

	_, err = f.svc.Read(ctx, enc.ID, encounter.RecordScreening)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestService_Write_ValidationRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	enc := f.create(t, encounter.VisitConsultation)

	_, err := f.svc.Write(ctx, enc.ID, encounter.RecordScreening, json.RawMessage(`{"vitals":{"pulse_bpm":400}}`), nurse)
	require.True(t, errors.Is(err, apperr.ErrValidation))

	events, err := f.auditSvc.ListByEncounter(ctx, enc.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1, "only the create entry")
}

func TestService_Write_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Write(context.Background(), uuid.New(), encounter.RecordScreening, json.RawMessage(screeningPayload), nurse)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

type fakeAttachments struct {
	known map[uuid.UUID]bool
}

func (f fakeAttachments) Exists(_ context.Context, _, id uuid.UUID) (bool, error) {
	return f.known[id], nil
}

func TestService_Write_LabAttachments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	known := uuid.New()
	f.svc.WithAttachments(fakeAttachments{known: map[uuid.UUID]bool{known: true}})
	enc := f.create(t, encounter.VisitConsultation)
	f.move(t, enc, encounter.StatusWaitingLabProcessing)
	tech := encounter.Actor{ID: "lt-1", Role: encounter.RoleLabTechnician}

	payload := func(id uuid.UUID) json.RawMessage {
		return json.RawMessage(`{"results":[{"test_code":"CBC","value":"ok"}],"attachment_ids":["` + id.String() + `"]}`)
	}
	_, err := f.svc.Write(ctx, enc.ID, encounter.RecordLab, payload(uuid.New()), tech)
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	rec, err := f.svc.Write(ctx, enc.ID, encounter.RecordLab, payload(known), tech)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{known}, LabAttachmentIDs(rec.Payload))
}

func TestService_List(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	enc := f.create(t, encounter.VisitConsultation)

	items, err := f.svc.List(ctx, enc.ID)
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = f.svc.Write(ctx, enc.ID, encounter.RecordScreening, json.RawMessage(screeningPayload), nurse)
	require.NoError(t, err)
	items, err = f.svc.List(ctx, enc.ID)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	_, err = f.svc.List(ctx, uuid.New())
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestService_Latest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	enc := f.create(t, encounter.VisitConsultation)

	rec, err := f.svc.Latest(ctx, enc.ID, encounter.RecordScreening)
	require.NoError(t, err)
	assert.Nil(t, rec)
}
