package labattachment

import (
	"time"

	"github.com/google/uuid"
)

// Attachment is a file a lab technician uploaded for an encounter, such as
// an analyser printout. Lab records reference attachments by ID.
type Attachment struct {
	ID          uuid.UUID `db:"id" json:"id"`
	EncounterID uuid.UUID `db:"encounter_id" json:"encounter_id"`
	BlobKey     string    `db:"blob_key" json:"-"`
	FileName    string    `db:"file_name" json:"file_name"`
	ContentType string    `db:"content_type" json:"content_type"`
	Size        int64     `db:"size_bytes" json:"size"`
	SHA256      string    `db:"sha256" json:"sha256"`
	UploadedBy  string    `db:"uploaded_by" json:"uploaded_by"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// BlobKey is where the content of attachment id lives.
func BlobKey(encounterID, id uuid.UUID) string {
	return "encounters/" + encounterID.String() + "/" + id.String()
}
