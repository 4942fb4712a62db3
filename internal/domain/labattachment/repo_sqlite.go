package labattachment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sunflower/clinic/internal/platform/apperr"
	"github.com/sunflower/clinic/internal/platform/sqlitedb"
)

type repoSQLite struct {
	db *sqlitedb.DB
}

func NewSQLiteRepo(d *sqlitedb.DB) Repository {
	return &repoSQLite{db: d}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLite(row rowScanner) (*Attachment, error) {
	var (
		a       Attachment
		created int64
	)
	if err := row.Scan(&a.ID, &a.EncounterID, &a.BlobKey, &a.FileName, &a.ContentType, &a.Size, &a.SHA256,
		&a.UploadedBy, &created); err != nil {
		return nil, err
	}
	a.CreatedAt = sqlitedb.ParseTime(created)
	return &a, nil
}

func (r *repoSQLite) Create(ctx context.Context, a *Attachment) error {
	now := time.Now().UTC()
	_, err := sqlitedb.Conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO lab_attachment (id, encounter_id, blob_key, file_name, content_type, size_bytes, sha256, uploaded_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.EncounterID.String(), a.BlobKey, a.FileName, a.ContentType, a.Size, a.SHA256,
		a.UploadedBy, sqlitedb.TimeValue(now))
	if err != nil {
		return fmt.Errorf("insert lab attachment: %w", err)
	}
	a.CreatedAt = sqlitedb.ParseTime(sqlitedb.TimeValue(now))
	return nil
}

func (r *repoSQLite) Get(ctx context.Context, encounterID, id uuid.UUID) (*Attachment, error) {
	a, err := scanLite(sqlitedb.Conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+attachmentCols+`
		FROM lab_attachment WHERE id = ? AND encounter_id = ?`, id.String(), encounterID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("attachment %s not found on encounter %s", id, encounterID)
		}
		return nil, fmt.Errorf("get lab attachment: %w", err)
	}
	return a, nil
}

func (r *repoSQLite) ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Attachment, error) {
	rows, err := sqlitedb.Conn(ctx, r.db).QueryContext(ctx, `SELECT `+attachmentCols+`
		FROM lab_attachment WHERE encounter_id = ? ORDER BY created_at, id`, encounterID.String())
	if err != nil {
		return nil, fmt.Errorf("list lab attachments: %w", err)
	}
	defer rows.Close()
	var out []*Attachment
	for rows.Next() {
		a, err := scanLite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lab attachment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
