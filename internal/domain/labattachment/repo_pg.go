package labattachment

import (
	"context"
	"errors"
	"fmt"

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

const attachmentCols = `id, encounter_id, blob_key, file_name, content_type, size_bytes, sha256, uploaded_by, created_at`

func scanAttachment(row pgx.Row) (*Attachment, error) {
	var a Attachment
	err := row.Scan(&a.ID, &a.EncounterID, &a.BlobKey, &a.FileName, &a.ContentType, &a.Size, &a.SHA256,
		&a.UploadedBy, &a.CreatedAt)
	return &a, err
}

func (r *repoPG) Create(ctx context.Context, a *Attachment) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO lab_attachment (id, encounter_id, blob_key, file_name, content_type, size_bytes, sha256, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		a.ID, a.EncounterID, a.BlobKey, a.FileName, a.ContentType, a.Size, a.SHA256, a.UploadedBy,
	).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert lab attachment: %w", err)
	}
	return nil
}

func (r *repoPG) Get(ctx context.Context, encounterID, id uuid.UUID) (*Attachment, error) {
	a, err := scanAttachment(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+attachmentCols+`
		FROM lab_attachment WHERE id = $1 AND encounter_id = $2`, id, encounterID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("attachment %s not found on encounter %s", id, encounterID)
		}
		return nil, fmt.Errorf("get lab attachment: %w", err)
	}
	return a, nil
}

func (r *repoPG) ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Attachment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+attachmentCols+`
		FROM lab_attachment WHERE encounter_id = $1 ORDER BY created_at, id`, encounterID)
	if err != nil {
		return nil, fmt.Errorf("list lab attachments: %w", err)
	}
	defer rows.Close()
	var out []*Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lab attachment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
