package encounter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sunflower/clinic/internal/platform/apperr"
	"github.com/sunflower/clinic/internal/platform/sqlitedb"
)

type repoSQLite struct {
	db *sqlitedb.DB
}

// NewSQLiteRepo returns a Repository on the embedded driver.
func NewSQLiteRepo(d *sqlitedb.DB) Repository {
	return &repoSQLite{db: d}
}

func (r *repoSQLite) conn(ctx context.Context) sqlitedb.Querier {
	return sqlitedb.Conn(ctx, r.db)
}

const liteCols = `e.id, e.patient_id, e.department_id, e.doctor_id, e.visit_type, e.status, e.held_by,
	e.stage_version, e.queue_number, e.intake_date, e.intake_time, e.scheduled_at,
	e.reason_text, e.cancel_reason, e.version, e.created_at, e.updated_at,
	(SELECT COALESCE(json_group_object(sr.kind, sr.id), '{}')
	   FROM station_record sr WHERE sr.encounter_id = e.id)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLite(row rowScanner) (*Encounter, error) {
	var (
		e                            Encounter
		visitType, status            string
		doctorID, heldBy             sql.NullString
		reasonText, cancelReason     sql.NullString
		intakeTime, created, updated int64
		scheduledAt                  sql.NullInt64
		records                      string
	)
	err := row.Scan(&e.ID, &e.PatientID, &e.DepartmentID, &doctorID, &visitType, &status, &heldBy,
		&e.StageVersion, &e.QueueNumber, &e.IntakeDate, &intakeTime, &scheduledAt,
		&reasonText, &cancelReason, &e.Version, &created, &updated, &records)
	if err != nil {
		return nil, err
	}
	e.DoctorID = sqlitedb.StringPtr(doctorID)
	e.VisitType = VisitType(visitType)
	e.Status = Status(status)
	e.HeldBy = stationPtr(sqlitedb.StringPtr(heldBy))
	e.IntakeTime = sqlitedb.ParseTime(intakeTime)
	e.ScheduledAt = sqlitedb.ParseNullTime(scheduledAt)
	e.ReasonText = sqlitedb.StringPtr(reasonText)
	e.CancelReason = sqlitedb.StringPtr(cancelReason)
	e.CreatedAt = sqlitedb.ParseTime(created)
	e.UpdatedAt = sqlitedb.ParseTime(updated)
	if e.StationRecords, err = decodeRecordRefs([]byte(records)); err != nil {
		return nil, err
	}
	return &e, nil
}

func collectLite(rows *sql.Rows) ([]*Encounter, error) {
	defer rows.Close()
	var items []*Encounter
	for rows.Next() {
		e, err := scanLite(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r *repoSQLite) Create(ctx context.Context, enc *Encounter) error {
	if enc.ID == uuid.Nil {
		enc.ID = uuid.New()
	}
	now := time.Now().UTC()
	q := r.conn(ctx)

	// The single connection serializes this statement with every other
	// writer, so MAX()+1 cannot race.
	err := q.QueryRowContext(ctx, `
		INSERT INTO encounter (id, patient_id, department_id, doctor_id, visit_type, status,
			stage_version, queue_number, intake_date, intake_time, scheduled_at, reason_text,
			version, created_at, updated_at)
		VALUES (?1, ?2, ?3, ?4, ?5, ?6, 1,
			(SELECT COALESCE(MAX(queue_number), 0) + 1 FROM encounter
			  WHERE department_id = ?3 AND intake_date = ?7),
			?7, ?8, ?9, ?10, 1, ?11, ?11)
		RETURNING queue_number`,
		enc.ID.String(), enc.PatientID.String(), enc.DepartmentID.String(), sqlitedb.NullString(enc.DoctorID),
		string(enc.VisitType), string(enc.Status), enc.IntakeDate, sqlitedb.TimeValue(enc.IntakeTime),
		sqlitedb.NullTimeValue(enc.ScheduledAt), sqlitedb.NullString(enc.ReasonText), sqlitedb.TimeValue(now),
	).Scan(&enc.QueueNumber)
	if err != nil {
		if sqlitedb.IsUniqueViolation(err) {
			return apperr.Wrap(apperr.KindConflict, err, "encounter already exists")
		}
		return fmt.Errorf("insert encounter: %w", err)
	}
	enc.StageVersion = 1
	enc.Version = 1
	enc.CreatedAt = sqlitedb.ParseTime(sqlitedb.TimeValue(now))
	enc.UpdatedAt = enc.CreatedAt
	enc.StationRecords = map[RecordKind]uuid.UUID{}
	return nil
}

func (r *repoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	e, err := scanLite(r.conn(ctx).QueryRowContext(ctx,
		`SELECT `+liteCols+` FROM encounter e WHERE e.id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("encounter %s not found", id)
		}
		return nil, fmt.Errorf("get encounter: %w", err)
	}
	return e, nil
}

// GetForUpdate needs no explicit lock: the surrounding transaction owns the
// only connection.
func (r *repoSQLite) GetForUpdate(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return r.GetByID(ctx, id)
}

func (r *repoSQLite) UpdateStatus(ctx context.Context, enc *Encounter, expectedVersion int) error {
	now := time.Now().UTC()
	q := r.conn(ctx)
	res, err := q.ExecContext(ctx, `
		UPDATE encounter SET status = ?, held_by = ?, doctor_id = ?, stage_version = ?,
			cancel_reason = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(enc.Status), sqlitedb.NullString(stationString(enc.HeldBy)), sqlitedb.NullString(enc.DoctorID),
		enc.StageVersion, sqlitedb.NullString(enc.CancelReason), sqlitedb.TimeValue(now),
		enc.ID.String(), expectedVersion)
	if err != nil {
		return fmt.Errorf("update encounter status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update encounter status: %w", err)
	}
	if n == 1 {
		enc.Version = expectedVersion + 1
		enc.UpdatedAt = sqlitedb.ParseTime(sqlitedb.TimeValue(now))
		return nil
	}

	var current int
	if err := q.QueryRowContext(ctx, `SELECT version FROM encounter WHERE id = ?`, enc.ID.String()).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("encounter %s not found", enc.ID)
		}
		return fmt.Errorf("read encounter version: %w", err)
	}
	return versionConflict(enc.ID, expectedVersion, current)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func statusArgs(ss []Status) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

func (r *repoSQLite) List(ctx context.Context, f ListFilter) ([]*Encounter, int, error) {
	var (
		clauses []string
		args    []any
	)
	if f.IntakeDate != "" {
		clauses = append(clauses, "e.intake_date = ?")
		args = append(args, f.IntakeDate)
	}
	if len(f.Statuses) > 0 {
		clauses = append(clauses, "e.status IN ("+placeholders(len(f.Statuses))+")")
		args = append(args, statusArgs(f.Statuses)...)
	}
	if f.PatientID != nil {
		clauses = append(clauses, "e.patient_id = ?")
		args = append(args, f.PatientID.String())
	}
	if f.DepartmentID != nil {
		clauses = append(clauses, "e.department_id = ?")
		args = append(args, f.DepartmentID.String())
	}
	if f.DoctorID != "" {
		clauses = append(clauses, "e.doctor_id = ?")
		args = append(args, f.DoctorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	q := r.conn(ctx)
	var total int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM encounter e`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count encounters: %w", err)
	}

	limit, offset := pageBounds(f.Limit, f.Offset)
	rows, err := q.QueryContext(ctx, `SELECT `+liteCols+` FROM encounter e`+where+
		` ORDER BY e.intake_time DESC, e.id DESC LIMIT ? OFFSET ?`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list encounters: %w", err)
	}
	items, err := collectLite(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("scan encounters: %w", err)
	}
	return items, total, nil
}

func (r *repoSQLite) ListQueue(ctx context.Context, f QueueFilter) ([]*Encounter, error) {
	clauses := []string{"(e.status IN (" + placeholders(len(f.Statuses)) + ") OR (e.status = 'in_progress' AND e.held_by = ?))"}
	if len(f.Statuses) == 0 {
		clauses[0] = "(e.status = 'in_progress' AND e.held_by = ?)"
	}
	args := append(statusArgs(f.Statuses), string(f.HeldBy))
	if f.IntakeDate != "" {
		clauses = append(clauses, "e.intake_date = ?")
		args = append(args, f.IntakeDate)
	}
	if f.DepartmentID != nil {
		clauses = append(clauses, "e.department_id = ?")
		args = append(args, f.DepartmentID.String())
	}
	if f.DoctorID != "" {
		clauses = append(clauses, "(e.doctor_id = ? OR e.doctor_id IS NULL)")
		args = append(args, f.DoctorID)
	}

	rows, err := r.conn(ctx).QueryContext(ctx, `SELECT `+liteCols+` FROM encounter e WHERE `+
		strings.Join(clauses, " AND ")+` ORDER BY e.intake_time ASC, e.id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	items, err := collectLite(rows)
	if err != nil {
		return nil, fmt.Errorf("scan queue: %w", err)
	}
	return items, nil
}
