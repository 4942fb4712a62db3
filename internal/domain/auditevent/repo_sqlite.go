package auditevent

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sunflower/clinic/internal/platform/sqlitedb"
)

type repoSQLite struct {
	db *sqlitedb.DB
}

// NewSQLiteRepo returns a Repository on the embedded driver.
func NewSQLiteRepo(d *sqlitedb.DB) Repository {
	return &repoSQLite{db: d}
}

func (r *repoSQLite) Append(ctx context.Context, e *Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	var recordID sql.NullString
	if e.RecordID != nil {
		recordID = sql.NullString{String: e.RecordID.String(), Valid: true}
	}
	_, err := sqlitedb.Conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO encounter_audit (id, encounter_id, action, from_status, to_status, actor_id, actor_role,
			version, record_kind, record_id, reason, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.EncounterID.String(), e.Action, e.FromStatus, e.ToStatus, e.ActorID, e.ActorRole,
		e.Version, sqlitedb.NullString(e.RecordKind), recordID, sqlitedb.NullString(e.Reason),
		sqlitedb.TimeValue(e.OccurredAt))
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	e.OccurredAt = sqlitedb.ParseTime(sqlitedb.TimeValue(e.OccurredAt))
	return nil
}

func (r *repoSQLite) ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Event, error) {
	rows, err := sqlitedb.Conn(ctx, r.db).QueryContext(ctx, `SELECT `+auditCols+` FROM encounter_audit
		WHERE encounter_id = ? ORDER BY occurred_at ASC, version ASC, id ASC`, encounterID.String())
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return collectLite(rows)
}

func (r *repoSQLite) List(ctx context.Context, f Filter) ([]*Event, int, error) {
	var (
		clauses []string
		args    []any
	)
	if f.EncounterID != nil {
		clauses = append(clauses, "encounter_id = ?")
		args = append(args, f.EncounterID.String())
	}
	if f.ActorID != "" {
		clauses = append(clauses, "actor_id = ?")
		args = append(args, f.ActorID)
	}
	if f.Action != "" {
		clauses = append(clauses, "action = ?")
		args = append(args, f.Action)
	}
	if f.Since != nil {
		clauses = append(clauses, "occurred_at >= ?")
		args = append(args, sqlitedb.TimeValue(*f.Since))
	}
	if f.Until != nil {
		clauses = append(clauses, "occurred_at < ?")
		args = append(args, sqlitedb.TimeValue(*f.Until))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	q := sqlitedb.Conn(ctx, r.db)
	var total int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM encounter_audit`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit events: %w", err)
	}

	limit, offset := pageBounds(f.Limit, f.Offset)
	rows, err := q.QueryContext(ctx, `SELECT `+auditCols+` FROM encounter_audit`+where+
		` ORDER BY occurred_at DESC, id DESC LIMIT ? OFFSET ?`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit events: %w", err)
	}
	items, err := collectLite(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func collectLite(rows *sql.Rows) ([]*Event, error) {
	defer rows.Close()
	var items []*Event
	for rows.Next() {
		var (
			e                  Event
			recordKind, reason sql.NullString
			recordID           sql.NullString
			occurred           int64
		)
		if err := rows.Scan(&e.ID, &e.EncounterID, &e.Action, &e.FromStatus, &e.ToStatus, &e.ActorID, &e.ActorRole,
			&e.Version, &recordKind, &recordID, &reason, &occurred); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.RecordKind = sqlitedb.StringPtr(recordKind)
		e.Reason = sqlitedb.StringPtr(reason)
		if recordID.Valid {
			id, err := uuid.Parse(recordID.String)
			if err != nil {
				return nil, fmt.Errorf("scan audit event record id: %w", err)
			}
			e.RecordID = &id
		}
		e.OccurredAt = sqlitedb.ParseTime(occurred)
		items = append(items, &e)
	}
	return items, rows.Err()
}
