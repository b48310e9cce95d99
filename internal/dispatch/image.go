package dispatch

import (
	"encoding/base64"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/zulandar/heraldo/internal/apperr"
)

// DefaultMaxImageBytes caps decoded image attachments.
const DefaultMaxImageBytes = 5 << 20

// allowedImageTypes maps the declared data URL subtype to the content type
// the decoded bytes must sniff as.
var allowedImageTypes = map[string]string{
	"jpeg": "image/jpeg",
	"jpg":  "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
}

// Image is a validated attachment.
type Image struct {
	Data     []byte
	MimeType string
}

// DecodeImage validates a "data:image/<type>;base64,<payload>" URL and
// returns the decoded bytes. maxBytes <= 0 means DefaultMaxImageBytes.
func DecodeImage(dataURL string, maxBytes int) (*Image, error) {
	const op = "dispatch.DecodeImage"
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}

	header, payload, ok := strings.Cut(dataURL, ",")
	if !ok {
		return nil, apperr.Validationf(op, "image must be a base64 data URL")
	}
	subtype, ok := strings.CutPrefix(header, "data:image/")
	if !ok {
		return nil, apperr.Validationf(op, "image must be a base64 data URL")
	}
	subtype, ok = strings.CutSuffix(subtype, ";base64")
	if !ok {
		return nil, apperr.Validationf(op, "image must be base64 encoded")
	}
	want, ok := allowedImageTypes[strings.ToLower(subtype)]
	if !ok {
		return nil, apperr.Validationf(op, "unsupported image type %q (jpeg, jpg, png, gif, webp)", subtype)
	}

	// Reject before decoding when the payload cannot fit.
	if base64.StdEncoding.DecodedLen(len(payload)) > maxBytes+2 {
		return nil, apperr.Validationf(op, "image exceeds %d bytes", maxBytes)
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, apperr.Validationf(op, "image is not valid base64")
	}
	if len(data) == 0 {
		return nil, apperr.Validationf(op, "image is empty")
	}
	if len(data) > maxBytes {
		return nil, apperr.Validationf(op, "image exceeds %d bytes", maxBytes)
	}

	detected := mimetype.Detect(data)
	if !detected.Is(want) {
		return nil, apperr.Validationf(op, "image content is %s, declared %s", detected.String(), want)
	}
	return &Image{Data: data, MimeType: want}, nil
}
