package labattachment

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sunflower/clinic/internal/domain/auditevent"
	"github.com/sunflower/clinic/internal/domain/encounter"
	"github.com/sunflower/clinic/internal/platform/apperr"
	"github.com/sunflower/clinic/internal/platform/blobstore"
	"github.com/sunflower/clinic/internal/platform/db"
)

// DefaultMaxBytes bounds one upload when no limit is configured.
const DefaultMaxBytes = 10 << 20

// AllowedContentTypes are the file types lab analysers and scanners produce.
var AllowedContentTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"text/plain":      true,
	"text/csv":        true,
}

// EncounterStore is the part of the encounter repository attachments need.
type EncounterStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*encounter.Encounter, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*encounter.Encounter, error)
}

// Upload is one file as received from the client.
type Upload struct {
	FileName    string
	ContentType string
	Body        io.Reader
}

type Service struct {
	repo       Repository
	blobs      blobstore.Store
	encounters EncounterStore
	audit      encounter.AuditRecorder
	tx         db.TxManager
	maxBytes   int64
	logger     zerolog.Logger
}

func NewService(repo Repository, blobs blobstore.Store, encounters EncounterStore, audit encounter.AuditRecorder, tx db.TxManager, maxBytes int64, logger zerolog.Logger) *Service {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Service{
		repo:       repo,
		blobs:      blobs,
		encounters: encounters,
		audit:      audit,
		tx:         tx,
		maxBytes:   maxBytes,
		logger:     logger.With().Str("component", "labattachment").Logger(),
	}
}

// MaxBytes is the upload size limit.
func (s *Service) MaxBytes() int64 {
	return s.maxBytes
}

func normalizeContentType(ct string) string {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	return strings.ToLower(mt)
}

// Create stores an uploaded file for an encounter sitting at the lab
// station. The blob is written first; if the metadata transaction fails the
// blob is removed again.
func (s *Service) Create(ctx context.Context, encounterID uuid.UUID, up Upload, actor encounter.Actor) (*Attachment, error) {
	if actor.Role != encounter.RoleLabTechnician {
		return nil, apperr.Forbidden("role %s cannot upload lab attachments", actor.Role)
	}
	name := filepath.Base(strings.TrimSpace(up.FileName))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, apperr.Validation("file name is required")
	}
	contentType := normalizeContentType(up.ContentType)
	if !AllowedContentTypes[contentType] {
		return nil, apperr.Validation("content type %q is not accepted", up.ContentType).
			WithDetail("content_type", up.ContentType)
	}

	data, err := io.ReadAll(io.LimitReader(up.Body, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, apperr.Validation("file exceeds %d bytes", s.maxBytes).WithDetail("max_bytes", s.maxBytes)
	}
	if len(data) == 0 {
		return nil, apperr.Validation("file is empty")
	}
	sum := sha256.Sum256(data)

	a := &Attachment{
		ID:          uuid.New(),
		EncounterID: encounterID,
		FileName:    name,
		ContentType: contentType,
		Size:        int64(len(data)),
		SHA256:      hex.EncodeToString(sum[:]),
		UploadedBy:  actor.ID,
	}
	a.BlobKey = BlobKey(encounterID, a.ID)

	// The blob goes up before the row lock is taken so a slow store does not
	// hold the encounter. The stage is checked again under the lock.
	enc, err := s.encounters.GetByID(ctx, encounterID)
	if err != nil {
		return nil, err
	}
	if err := atLabStation(enc); err != nil {
		return nil, err
	}
	if _, err := s.blobs.Put(ctx, a.BlobKey, bytes.NewReader(data), blobstore.PutOptions{
		ContentType: contentType,
		Metadata:    map[string]string{"encounter-id": encounterID.String(), "sha256": a.SHA256},
	}); err != nil {
		return nil, fmt.Errorf("store attachment blob: %w", err)
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		enc, err := s.encounters.GetForUpdate(ctx, encounterID)
		if err != nil {
			return err
		}
		if err := atLabStation(enc); err != nil {
			return err
		}
		if err := s.repo.Create(ctx, a); err != nil {
			return err
		}
		kind := string(encounter.RecordLab)
		return s.audit.Record(ctx, &auditevent.Event{
			EncounterID: enc.ID,
			Action:      auditevent.ActionUploadAttachment,
			FromStatus:  string(enc.Status),
			ToStatus:    string(enc.Status),
			ActorID:     actor.ID,
			ActorRole:   string(actor.Role),
			Version:     enc.Version,
			RecordKind:  &kind,
			OccurredAt:  time.Now().UTC(),
		})
	})
	if err != nil {
		if derr := s.blobs.Delete(context.WithoutCancel(ctx), a.BlobKey); derr != nil {
			s.logger.Warn().Err(derr).Str("blob_key", a.BlobKey).Msg("orphaned attachment blob")
		}
		return nil, err
	}
	s.logger.Info().
		Str("encounter_id", encounterID.String()).
		Str("attachment_id", a.ID.String()).
		Int64("size", a.Size).
		Str("driver", s.blobs.Driver()).
		Msg("lab attachment stored")
	return a, nil
}

func atLabStation(enc *encounter.Encounter) error {
	if enc.Status.Terminal() {
		return apperr.Forbidden("encounter %s is %s", enc.ID, enc.Status)
	}
	if st, ok := enc.Station(); !ok || st != encounter.StationLab {
		return apperr.Forbidden("attachments can only be added while the encounter is at the lab station").
			WithDetail("stage", string(enc.Stage()))
	}
	return nil
}

// Open returns the attachment and its content. The caller closes the reader.
func (s *Service) Open(ctx context.Context, encounterID, id uuid.UUID) (*Attachment, io.ReadCloser, error) {
	a, err := s.repo.Get(ctx, encounterID, id)
	if err != nil {
		return nil, nil, err
	}
	_, rc, err := s.blobs.Get(ctx, a.BlobKey)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, nil, apperr.NotFound("content of attachment %s is missing", id)
		}
		return nil, nil, err
	}
	return a, rc, nil
}

func (s *Service) List(ctx context.Context, encounterID uuid.UUID) ([]*Attachment, error) {
	if _, err := s.encounters.GetByID(ctx, encounterID); err != nil {
		return nil, err
	}
	return s.repo.ListByEncounter(ctx, encounterID)
}

// Exists reports whether id is an attachment of the encounter. It joins the
// caller's transaction.
func (s *Service) Exists(ctx context.Context, encounterID, id uuid.UUID) (bool, error) {
	_, err := s.repo.Get(ctx, encounterID, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
