package encounter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sunflower/clinic/internal/platform/apperr"
	"github.com/sunflower/clinic/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const encCols = `e.id, e.patient_id, e.department_id, e.doctor_id, e.visit_type, e.status, e.held_by,
	e.stage_version, e.queue_number, e.intake_date::text, e.intake_time, e.scheduled_at,
	e.reason_text, e.cancel_reason, e.version, e.created_at, e.updated_at,
	(SELECT COALESCE(jsonb_object_agg(sr.kind, sr.id), '{}'::jsonb)
	   FROM station_record sr WHERE sr.encounter_id = e.id)`

func scanEnc(row pgx.Row) (*Encounter, error) {
	var (
		e         Encounter
		visitType string
		status    string
		heldBy    *string
		records   []byte
	)
	err := row.Scan(&e.ID, &e.PatientID, &e.DepartmentID, &e.DoctorID, &visitType, &status, &heldBy,
		&e.StageVersion, &e.QueueNumber, &e.IntakeDate, &e.IntakeTime, &e.ScheduledAt,
		&e.ReasonText, &e.CancelReason, &e.Version, &e.CreatedAt, &e.UpdatedAt, &records)
	if err != nil {
		return nil, err
	}
	e.VisitType = VisitType(visitType)
	e.Status = Status(status)
	e.HeldBy = stationPtr(heldBy)
	if e.StationRecords, err = decodeRecordRefs(records); err != nil {
		return nil, err
	}
	return &e, nil
}

func collectEncs(rows pgx.Rows) ([]*Encounter, error) {
	defer rows.Close()
	var items []*Encounter
	for rows.Next() {
		e, err := scanEnc(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r *repoPG) Create(ctx context.Context, enc *Encounter) error {
	if enc.ID == uuid.Nil {
		enc.ID = uuid.New()
	}
	q := r.conn(ctx)

	// Serializes queue number assignment per department and day for the
	// rest of the surrounding transaction.
	lockKey := enc.DepartmentID.String() + "/" + enc.IntakeDate
	if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
		return fmt.Errorf("lock queue number: %w", err)
	}

	err := q.QueryRow(ctx, `
		INSERT INTO encounter (id, patient_id, department_id, doctor_id, visit_type, status,
			stage_version, queue_number, intake_date, intake_time, scheduled_at, reason_text, version)
		VALUES ($1, $2, $3, $4, $5, $6, 1,
			(SELECT COALESCE(MAX(queue_number), 0) + 1 FROM encounter
			  WHERE department_id = $3 AND intake_date = $7::date),
			$7::date, $8, $9, $10, 1)
		RETURNING queue_number, stage_version, version, created_at, updated_at`,
		enc.ID, enc.PatientID, enc.DepartmentID, enc.DoctorID, string(enc.VisitType), string(enc.Status),
		enc.IntakeDate, enc.IntakeTime, enc.ScheduledAt, enc.ReasonText,
	).Scan(&enc.QueueNumber, &enc.StageVersion, &enc.Version, &enc.CreatedAt, &enc.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return apperr.Wrap(apperr.KindConflict, err, "encounter already exists")
		}
		return fmt.Errorf("insert encounter: %w", err)
	}
	enc.StationRecords = map[RecordKind]uuid.UUID{}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	e, err := scanEnc(r.conn(ctx).QueryRow(ctx, `SELECT `+encCols+` FROM encounter e WHERE e.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("encounter %s not found", id)
		}
		return nil, fmt.Errorf("get encounter: %w", err)
	}
	return e, nil
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	var locked uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, `SELECT id FROM encounter WHERE id = $1 FOR UPDATE NOWAIT`, id).Scan(&locked)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return nil, apperr.NotFound("encounter %s not found", id)
		case db.IsLockContention(err):
			return nil, apperr.Wrap(apperr.KindConflict, err, "encounter is being modified by another request")
		}
		return nil, fmt.Errorf("lock encounter: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *repoPG) UpdateStatus(ctx context.Context, enc *Encounter, expectedVersion int) error {
	q := r.conn(ctx)
	err := q.QueryRow(ctx, `
		UPDATE encounter SET status = $3, held_by = $4, doctor_id = $5, stage_version = $6,
			cancel_reason = $7, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`,
		enc.ID, expectedVersion, string(enc.Status), stationString(enc.HeldBy), enc.DoctorID,
		enc.StageVersion, enc.CancelReason,
	).Scan(&enc.Version, &enc.UpdatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		if db.IsLockContention(err) {
			return apperr.Wrap(apperr.KindConflict, err, "encounter is being modified by another request")
		}
		return fmt.Errorf("update encounter status: %w", err)
	}

	var current int
	if err := q.QueryRow(ctx, `SELECT version FROM encounter WHERE id = $1`, enc.ID).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("encounter %s not found", enc.ID)
		}
		return fmt.Errorf("read encounter version: %w", err)
	}
	return versionConflict(enc.ID, expectedVersion, current)
}

// pgWhere accumulates numbered placeholders.
type pgWhere struct {
	clauses []string
	args    []any
}

func (w *pgWhere) add(clause string, args ...any) {
	for _, a := range args {
		w.args = append(w.args, a)
		clause = strings.Replace(clause, "?", fmt.Sprintf("$%d", len(w.args)), 1)
	}
	w.clauses = append(w.clauses, clause)
}

func (w *pgWhere) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func (r *repoPG) List(ctx context.Context, f ListFilter) ([]*Encounter, int, error) {
	w := &pgWhere{}
	if f.IntakeDate != "" {
		w.add("e.intake_date = ?::date", f.IntakeDate)
	}
	if len(f.Statuses) > 0 {
		w.add("e.status = ANY(?)", statusStrings(f.Statuses))
	}
	if f.PatientID != nil {
		w.add("e.patient_id = ?", *f.PatientID)
	}
	if f.DepartmentID != nil {
		w.add("e.department_id = ?", *f.DepartmentID)
	}
	if f.DoctorID != "" {
		w.add("e.doctor_id = ?", f.DoctorID)
	}

	q := r.conn(ctx)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM encounter e`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count encounters: %w", err)
	}

	limit, offset := pageBounds(f.Limit, f.Offset)
	args := append(append([]any{}, w.args...), limit, offset)
	rows, err := q.Query(ctx, fmt.Sprintf(`SELECT %s FROM encounter e%s
		ORDER BY e.intake_time DESC, e.id DESC LIMIT $%d OFFSET $%d`,
		encCols, w.String(), len(w.args)+1, len(w.args)+2), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list encounters: %w", err)
	}
	items, err := collectEncs(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("scan encounters: %w", err)
	}
	return items, total, nil
}

func (r *repoPG) ListQueue(ctx context.Context, f QueueFilter) ([]*Encounter, error) {
	w := &pgWhere{}
	w.add("(e.status = ANY(?) OR (e.status = 'in_progress' AND e.held_by = ?))",
		statusStrings(f.Statuses), string(f.HeldBy))
	if f.IntakeDate != "" {
		w.add("e.intake_date = ?::date", f.IntakeDate)
	}
	if f.DepartmentID != nil {
		w.add("e.department_id = ?", *f.DepartmentID)
	}
	if f.DoctorID != "" {
		w.add("(e.doctor_id = ? OR e.doctor_id IS NULL)", f.DoctorID)
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+encCols+` FROM encounter e`+w.String()+` ORDER BY e.intake_time ASC, e.id ASC`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	items, err := collectEncs(rows)
	if err != nil {
		return nil, fmt.Errorf("scan queue: %w", err)
	}
	return items, nil
}
