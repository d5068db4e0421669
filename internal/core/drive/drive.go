package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/oauth2"
	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/harborml/drivesearch/internal/core"
	"github.com/harborml/drivesearch/internal/models"
)

// Supported source MIME types.
const (
	MimeGoogleDoc = "application/vnd.google-apps.document"
	MimePDF       = "application/pdf"
	MimeDocx      = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeDoc       = "application/msword"
)

// SupportedMimeTypes is the closed set of file types the indexer handles.
var SupportedMimeTypes = []string{MimeGoogleDoc, MimePDF, MimeDocx, MimeDoc}

// Client implements core.DriveService against the Drive v3 API.
type Client struct {
	oauthConfig *oauth2.Config
}

// NewClient creates a Drive client. The oauth2.Config should be constructed
// by the caller (e.g. from environment variables).
func NewClient(oauthConfig *oauth2.Config) *Client {
	return &Client{oauthConfig: oauthConfig}
}

// RefreshIfNeeded returns a usable credential, refreshing it when the access
// token is missing or about to expire. An invalid or revoked grant maps to
// core.ErrAuthRevoked so the engine can flag the connection for re-auth.
func (c *Client) RefreshIfNeeded(ctx context.Context, cred *models.DriveCredential) (*models.DriveCredential, bool, error) {
	if cred == nil {
		return nil, false, core.ErrAuthRevoked
	}
	if cred.AccessToken != "" && time.Until(cred.Expiry) > time.Minute {
		return cred, false, nil
	}
	if cred.RefreshToken == "" {
		return nil, false, core.ErrAuthRevoked
	}

	src := c.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode == "invalid_grant" {
			return nil, false, fmt.Errorf("%w: %v", core.ErrAuthRevoked, err)
		}
		return nil, false, fmt.Errorf("refresh token: %w", err)
	}

	refreshed := &models.DriveCredential{
		UserID:       cred.UserID,
		AccessToken:  tok.AccessToken,
		RefreshToken: cred.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if tok.RefreshToken != "" {
		refreshed.RefreshToken = tok.RefreshToken
	}
	return refreshed, true, nil
}

// ListFiles returns all non-trashed files of supported MIME types visible to
// the credential's user, following pagination.
func (c *Client) ListFiles(ctx context.Context, cred *models.DriveCredential) ([]models.RemoteFile, error) {
	srv, err := c.service(ctx, cred)
	if err != nil {
		return nil, err
	}

	q := "trashed = false and (" +
		"mimeType = '" + MimeGoogleDoc + "'" +
		" or mimeType = '" + MimePDF + "'" +
		" or mimeType = '" + MimeDocx + "'" +
		" or mimeType = '" + MimeDoc + "')"
	const fields = "nextPageToken, files(id, name, mimeType, modifiedTime, size)"

	var (
		files     []models.RemoteFile
		pageToken string
	)
	for {
		call := srv.Files.List().
			Context(ctx).
			Q(q).
			Fields(googleapi.Field(fields)).
			PageSize(1000)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		r, err := call.Do()
		if err != nil {
			return nil, wrapDriveError("list files", err)
		}
		for _, f := range r.Files {
			modTime, _ := time.Parse(time.RFC3339, f.ModifiedTime)
			files = append(files, models.RemoteFile{
				ID:           f.Id,
				Name:         f.Name,
				MimeType:     f.MimeType,
				ModifiedTime: modTime,
				Size:         f.Size,
			})
		}
		if r.NextPageToken == "" {
			break
		}
		pageToken = r.NextPageToken
	}
	return files, nil
}

// ExportOrDownload fetches a file's content. Native Google Docs have no
// binary representation and are exported as plain text; everything else is
// downloaded verbatim.
func (c *Client) ExportOrDownload(ctx context.Context, cred *models.DriveCredential, fileID, mimeType string) ([]byte, error) {
	srv, err := c.service(ctx, cred)
	if err != nil {
		return nil, err
	}

	if mimeType == MimeGoogleDoc {
		res, err := srv.Files.Export(fileID, "text/plain").Context(ctx).Download()
		if err != nil {
			return nil, wrapDriveError("export file", err)
		}
		defer res.Body.Close()
		return io.ReadAll(res.Body)
	}

	res, err := srv.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return nil, wrapDriveError("download file", err)
	}
	defer res.Body.Close()
	return io.ReadAll(res.Body)
}

func (c *Client) service(ctx context.Context, cred *models.DriveCredential) (*gdrive.Service, error) {
	if cred == nil || cred.AccessToken == "" {
		return nil, core.ErrAuthRevoked
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cred.AccessToken})
	srv, err := gdrive.NewService(ctx, option.WithTokenSource(src))
	if err != nil {
		return nil, fmt.Errorf("drive service: %w", err)
	}
	return srv, nil
}

// wrapDriveError maps a 401 to core.ErrAuthRevoked and keeps everything else
// as a transient error.
func wrapDriveError(op string, err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) && gErr.Code == 401 {
		return fmt.Errorf("%s: %w", op, core.ErrAuthRevoked)
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ core.DriveService = (*Client)(nil)
