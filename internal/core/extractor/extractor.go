package extractor

import (
	"bytes"
	"fmt"

	"code.sajari.com/docconv"

	"github.com/harborml/drivesearch/internal/core"
	"github.com/harborml/drivesearch/internal/core/drive"
)

// DocconvExtractor implements core.TextExtractor over the closed set of
// supported MIME types. Native Google Docs arrive already exported as plain
// text; binary formats go through docconv.
type DocconvExtractor struct{}

func NewDocconvExtractor() *DocconvExtractor {
	return &DocconvExtractor{}
}

func (e *DocconvExtractor) ExtractText(data []byte, mimeType string) (string, error) {
	switch mimeType {
	case drive.MimeGoogleDoc:
		// Export already produced text/plain.
		return string(data), nil
	case drive.MimePDF, drive.MimeDocx, drive.MimeDoc:
		res, err := docconv.Convert(bytes.NewReader(data), mimeType, false)
		if err != nil {
			return "", fmt.Errorf("extract %s: %w", mimeType, err)
		}
		return res.Body, nil
	default:
		return "", fmt.Errorf("unsupported mime type: %s", mimeType)
	}
}

// Supported reports whether mimeType is in the extractable set.
func Supported(mimeType string) bool {
	for _, m := range drive.SupportedMimeTypes {
		if m == mimeType {
			return true
		}
	}
	return false
}

var _ core.TextExtractor = (*DocconvExtractor)(nil)
