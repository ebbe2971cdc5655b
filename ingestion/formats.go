// Package ingestion loads uploaded files, splits them into chunks and hands them to the index.
package ingestion

import (
	"path/filepath"
	"strings"
)

// DocumentFormat enumerates supported document payload formats.
type DocumentFormat string

const (
	// FormatUnknown represents an unsupported or undetected format.
	FormatUnknown DocumentFormat = ""
	// FormatPDF represents PDF documents, loaded one segment per page.
	FormatPDF DocumentFormat = "pdf"
	// FormatText represents plain text documents, loaded as a single segment.
	FormatText DocumentFormat = "txt"
)

// DetectFormat infers a document format from the provided path's extension.
func DetectFormat(path string) DocumentFormat {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".pdf":
		return FormatPDF
	case ".txt":
		return FormatText
	default:
		return FormatUnknown
	}
}
