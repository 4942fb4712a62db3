package auditevent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

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

const auditCols = `id, encounter_id, action, from_status, to_status, actor_id, actor_role,
	version, record_kind, record_id, reason, occurred_at`

func scanEvent(row pgx.Row) (*Event, error) {
	var e Event
	err := row.Scan(&e.ID, &e.EncounterID, &e.Action, &e.FromStatus, &e.ToStatus, &e.ActorID, &e.ActorRole,
		&e.Version, &e.RecordKind, &e.RecordID, &e.Reason, &e.OccurredAt)
	return &e, err
}

func (r *repoPG) Append(ctx context.Context, e *Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO encounter_audit (id, encounter_id, action, from_status, to_status, actor_id, actor_role,
			version, record_kind, record_id, reason, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, COALESCE($12, NOW()))
		RETURNING occurred_at`,
		e.ID, e.EncounterID, e.Action, e.FromStatus, e.ToStatus, e.ActorID, e.ActorRole,
		e.Version, e.RecordKind, e.RecordID, e.Reason, nullTime(e.OccurredAt),
	).Scan(&e.OccurredAt)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (r *repoPG) ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Event, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+auditCols+` FROM encounter_audit
		WHERE encounter_id = $1 ORDER BY occurred_at ASC, version ASC, id ASC`, encounterID)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return collect(rows)
}

func (r *repoPG) List(ctx context.Context, f Filter) ([]*Event, int, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.EncounterID != nil {
		add("encounter_id = $%d", *f.EncounterID)
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.Since != nil {
		add("occurred_at >= $%d", *f.Since)
	}
	if f.Until != nil {
		add("occurred_at < $%d", *f.Until)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	q := r.conn(ctx)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM encounter_audit`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit events: %w", err)
	}

	limit, offset := pageBounds(f.Limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s FROM encounter_audit%s ORDER BY occurred_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		auditCols, where, len(args)+1, len(args)+2)
	rows, err := q.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit events: %w", err)
	}
	items, err := collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func collect(rows pgx.Rows) ([]*Event, error) {
	defer rows.Close()
	var items []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
