package validation

import (
	"fmt"
	"mime"
	"strings"

	apperrors "go-doc-recognizer/internal/errors"
)

// PDFMediaType is the declared type for PDF uploads.
const PDFMediaType = "application/pdf"

// supportedImageTypes is the raster image allow-list.
var supportedImageTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/jpg":  {},
	"image/png":  {},
	"image/bmp":  {},
	"image/gif":  {},
}

// UploadValidator checks a declared media type and size against the
// type-specific ceilings before any vendor call is made.
type UploadValidator struct {
	imageCeiling int64
	pdfCeiling   int64
}

// NewUploadValidator creates a validator with the given size ceilings in bytes.
func NewUploadValidator(imageCeiling, pdfCeiling int64) *UploadValidator {
	return &UploadValidator{
		imageCeiling: imageCeiling,
		pdfCeiling:   pdfCeiling,
	}
}

// ValidateUpload rejects unsupported media types and oversize payloads.
func (v *UploadValidator) ValidateUpload(mediaType string, size int64) error {
	normalized := NormalizeMediaType(mediaType)
	if normalized == "" {
		return apperrors.NewValidationError("media type is required", nil)
	}

	var ceiling int64
	switch {
	case normalized == PDFMediaType:
		ceiling = v.pdfCeiling
	default:
		if _, ok := supportedImageTypes[normalized]; !ok {
			return apperrors.NewValidationError(
				fmt.Sprintf("unsupported media type %q (supported: JPEG, PNG, BMP, GIF, PDF)", mediaType), nil)
		}
		ceiling = v.imageCeiling
	}

	if size <= 0 {
		return apperrors.NewValidationError("uploaded file is empty", nil)
	}
	if size > ceiling {
		return apperrors.NewValidationError(
			fmt.Sprintf("file size %d exceeds the %d byte limit for %s", size, ceiling, normalized), nil)
	}
	return nil
}

// NormalizeMediaType lowercases a declared media type and strips parameters
// such as charset.
func NormalizeMediaType(mediaType string) string {
	trimmed := strings.TrimSpace(strings.ToLower(mediaType))
	if trimmed == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(trimmed); err == nil {
		return parsed
	}
	return trimmed
}
