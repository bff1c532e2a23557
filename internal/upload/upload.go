// Package upload defines the attachment upload boundary. Files go to
// an external media service before the message referencing them is
// written; the store only ever holds the returned URL and metadata.
package upload

import (
	"context"
	"strings"

	"github.com/parleyhq/parley/internal/apperr"
)

// Blob is a file staged for upload.
type Blob struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Result identifies the uploaded object at the media service.
type Result struct {
	URL          string
	PublicID     string
	ResourceType string
}

// Uploader pushes a blob to the media service. No retries; a failed
// upload aborts the send that requested it.
type Uploader interface {
	Upload(ctx context.Context, blob Blob) (Result, error)
}

// ResourceTypeOf maps a MIME type onto the media service's taxonomy.
// Everything that is not an image or a video uploads as raw.
func ResourceTypeOf(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	default:
		return "raw"
	}
}

// Disabled is the driver used when no upload backend is configured.
// Text-only sessions never hit it; attaching a file fails cleanly.
type Disabled struct{}

func (Disabled) Upload(context.Context, Blob) (Result, error) {
	return Result{}, apperr.Upload("uploads are not configured", nil)
}
