// Package export renders completed intake submissions for staff and stores
// copies in object storage.
package export

import "errors"

// Format represents the export output format
type Format string

const (
	FormatText Format = "text"
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// ParseFormat maps a query value to a Format. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatText:
		return FormatText, nil
	case FormatHTML:
		return FormatHTML, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrUnsupportedFormat indicates an unknown export format.
	ErrUnsupportedFormat = errors.New("export format not supported")
	// ErrUploadDisabled indicates no object storage is configured.
	ErrUploadDisabled = errors.New("export upload not configured")
	// ErrPDFDependencyMissing indicates no headless browser is installed.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
