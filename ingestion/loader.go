package ingestion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/fabfab/kb-agent/document"
)

var (
	// ErrUnsupportedFormat is returned for files that are neither PDF nor plain text.
	ErrUnsupportedFormat = errors.New("unsupported file format, please upload PDF or TXT")
	// ErrParse is returned when a supported file cannot be decoded.
	ErrParse = errors.New("parse document")
)

// Load reads the file at path into ordered segments. Every segment carries the file's base
// name under document.MetaSource; PDF pages also carry a 0-based document.MetaPage.
func Load(ctx context.Context, path string) ([]document.Segment, error) {
	switch DetectFormat(path) {
	case FormatPDF:
		return loadPDF(ctx, path)
	case FormatText:
		return loadText(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
	}
}

func loadText(path string) ([]document.Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: %s is not valid UTF-8 text", ErrParse, filepath.Base(path))
	}

	return []document.Segment{{
		Text:     normalizePlainText(string(data)),
		Metadata: document.Metadata{document.MetaSource: filepath.Base(path)},
	}}, nil
}

func loadPDF(ctx context.Context, path string) (segments []document.Segment, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}

	// The pdf reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			segments = nil
			err = fmt.Errorf("%w: %s: %v", ErrParse, filepath.Base(path), r)
		}
	}()

	reader, err := pdf.NewReader(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf: %v", ErrParse, err)
	}

	source := filepath.Base(path)
	total := reader.NumPage()
	segments = make([]document.Segment, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: extract page %d: %v", ErrParse, i, err)
		}

		segments = append(segments, document.Segment{
			Text: normalizePlainText(text),
			Metadata: document.Metadata{
				document.MetaSource: source,
				document.MetaPage:   i - 1,
			},
		})
	}

	return segments, nil
}

func normalizePlainText(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

// BackfillSource sets document.MetaSource to name on every chunk that lacks one.
func BackfillSource(chunks []document.Chunk, name string) {
	for i := range chunks {
		if chunks[i].Metadata == nil {
			chunks[i].Metadata = document.Metadata{}
		}
		if chunks[i].Metadata.Source() == "" {
			chunks[i].Metadata[document.MetaSource] = name
		}
	}
}
