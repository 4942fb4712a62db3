package stationrecord

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sunflower/clinic/internal/domain/encounter"
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

const recordCols = `id, encounter_id, kind, payload, authored_by, author_role, authored_at,
	revision, encounter_version, created_at`

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		rec        Record
		kind, role string
		payload    []byte
	)
	err := row.Scan(&rec.ID, &rec.EncounterID, &kind, &payload, &rec.AuthoredBy, &role, &rec.AuthoredAt,
		&rec.Revision, &rec.EncounterVersion, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	rec.Kind = encounter.RecordKind(kind)
	rec.AuthorRole = encounter.Role(role)
	rec.Payload = payload
	return &rec, nil
}

func (r *repoPG) Upsert(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO station_record (id, encounter_id, kind, payload, authored_by, author_role,
			authored_at, revision, encounter_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8)
		ON CONFLICT (encounter_id, kind) DO UPDATE SET
			payload = EXCLUDED.payload,
			authored_by = EXCLUDED.authored_by,
			author_role = EXCLUDED.author_role,
			authored_at = EXCLUDED.authored_at,
			encounter_version = EXCLUDED.encounter_version,
			revision = station_record.revision + 1
		RETURNING id, revision, created_at`,
		rec.ID, rec.EncounterID, string(rec.Kind), []byte(rec.Payload), rec.AuthoredBy, string(rec.AuthorRole),
		rec.AuthoredAt, rec.EncounterVersion,
	).Scan(&rec.ID, &rec.Revision, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert station record: %w", err)
	}
	return nil
}

func (r *repoPG) Get(ctx context.Context, encounterID uuid.UUID, kind encounter.RecordKind) (*Record, error) {
	rec, err := scanRecord(r.conn(ctx).QueryRow(ctx, `SELECT `+recordCols+` FROM station_record
		WHERE encounter_id = $1 AND kind = $2`, encounterID, string(kind)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("no %s record for encounter %s", kind, encounterID)
		}
		return nil, fmt.Errorf("get station record: %w", err)
	}
	return rec, nil
}

func (r *repoPG) ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Record, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+recordCols+` FROM station_record
		WHERE encounter_id = $1 ORDER BY created_at ASC, kind ASC`, encounterID)
	if err != nil {
		return nil, fmt.Errorf("list station records: %w", err)
	}
	defer rows.Close()

	var items []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan station record: %w", err)
		}
		items = append(items, rec)
	}
	return items, rows.Err()
}
