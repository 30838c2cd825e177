// Package export renders generated reports to PDF.
package export

import (
	"encoding/json"
	"errors"
	"time"
)

// Report is everything needed to render one stored report.
type Report struct {
	ID          string
	Title       string
	Type        string
	GeneratedBy string
	GeneratedAt time.Time
	PeriodStart time.Time
	PeriodEnd   time.Time
	Data        json.RawMessage
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrContentUnavailable indicates report data could not be decoded for export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
