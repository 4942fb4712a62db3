package stationrecord

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sunflower/clinic/internal/domain/encounter"
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLite(row rowScanner) (*Record, error) {
	var (
		rec                 Record
		kind, role, payload string
		authored, created   int64
	)
	err := row.Scan(&rec.ID, &rec.EncounterID, &kind, &payload, &rec.AuthoredBy, &role, &authored,
		&rec.Revision, &rec.EncounterVersion, &created)
	if err != nil {
		return nil, err
	}
	rec.Kind = encounter.RecordKind(kind)
	rec.AuthorRole = encounter.Role(role)
	rec.Payload = []byte(payload)
	rec.AuthoredAt = sqlitedb.ParseTime(authored)
	rec.CreatedAt = sqlitedb.ParseTime(created)
	return &rec, nil
}

func (r *repoSQLite) Upsert(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	var created int64
	err := sqlitedb.Conn(ctx, r.db).QueryRowContext(ctx, `
		INSERT INTO station_record (id, encounter_id, kind, payload, authored_by, author_role,
			authored_at, revision, encounter_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT (encounter_id, kind) DO UPDATE SET
			payload = excluded.payload,
			authored_by = excluded.authored_by,
			author_role = excluded.author_role,
			authored_at = excluded.authored_at,
			encounter_version = excluded.encounter_version,
			revision = station_record.revision + 1
		RETURNING id, revision, created_at`,
		rec.ID.String(), rec.EncounterID.String(), string(rec.Kind), string(rec.Payload), rec.AuthoredBy,
		string(rec.AuthorRole), sqlitedb.TimeValue(rec.AuthoredAt), rec.EncounterVersion,
		sqlitedb.TimeValue(time.Now()),
	).Scan(&rec.ID, &rec.Revision, &created)
	if err != nil {
		return fmt.Errorf("upsert station record: %w", err)
	}
	rec.CreatedAt = sqlitedb.ParseTime(created)
	return nil
}

func (r *repoSQLite) Get(ctx context.Context, encounterID uuid.UUID, kind encounter.RecordKind) (*Record, error) {
	rec, err := scanLite(sqlitedb.Conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+recordCols+` FROM station_record
		WHERE encounter_id = ? AND kind = ?`, encounterID.String(), string(kind)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("no %s record for encounter %s", kind, encounterID)
		}
		return nil, fmt.Errorf("get station record: %w", err)
	}
	return rec, nil
}

func (r *repoSQLite) ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Record, error) {
	rows, err := sqlitedb.Conn(ctx, r.db).QueryContext(ctx, `SELECT `+recordCols+` FROM station_record
		WHERE encounter_id = ? ORDER BY created_at ASC, kind ASC`, encounterID.String())
	if err != nil {
		return nil, fmt.Errorf("list station records: %w", err)
	}
	defer rows.Close()

	var items []*Record
	for rows.Next() {
		rec, err := scanLite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan station record: %w", err)
		}
		items = append(items, rec)
	}
	return items, rows.Err()
}
