package core

import (
	"context"
	"errors"
	"io"

	"github.com/harborml/drivesearch/internal/models"
)

// ErrAuthRevoked is returned by DriveService when the stored grant is invalid
// or revoked and no amount of refreshing will bring it back. The caller must
// flag the credential for reconnection.
var ErrAuthRevoked = errors.New("drive authorization revoked")

// DriveService lists and downloads a user's Drive files and keeps the OAuth
// access token fresh.
type DriveService interface {
	// RefreshIfNeeded returns the credential to use and whether it was
	// refreshed (and so needs persisting). ErrAuthRevoked means the grant is
	// gone for good.
	RefreshIfNeeded(ctx context.Context, cred *models.DriveCredential) (*models.DriveCredential, bool, error)
	// ListFiles returns the user's files filtered to the supported MIME types.
	ListFiles(ctx context.Context, cred *models.DriveCredential) ([]models.RemoteFile, error)
	// ExportOrDownload fetches file content: native Google Docs are exported
	// as plain text, binary formats are downloaded as-is.
	ExportOrDownload(ctx context.Context, cred *models.DriveCredential, fileID, mimeType string) ([]byte, error)
}

// TextExtractor converts downloaded bytes into plain text, dispatching on the
// file's MIME type.
type TextExtractor interface {
	ExtractText(data []byte, mimeType string) (string, error)
}

// ObjectClient defines interactions with S3 or any object storage. The sync
// engine uses it to archive raw exported bytes next to the index.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)

	GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}
