// Package parser implements the Parse stage of the indexing pipeline
// (spec.md §4.4 stage 1): format-aware text extraction for the allow-listed
// extensions, producing format-aware metadata (page/slide/sheet/paragraph)
// so chunk extraction_params can reconstruct their source region.
//
// Only the output contract is specified (spec.md §1 treats format-specific
// parsers as boundary concerns); no third-party parsing library appears
// anywhere in the retrieved pack, so DOCX/XLSX/PPTX are read as zip+XML via
// archive/zip and encoding/xml, and PDF via a minimal stream/text-object
// scanner (see DESIGN.md).
package parser

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/semindex/semindex/internal/errs"
	"github.com/semindex/semindex/internal/model"
)

// Region is one naturally-bounded span of extracted text (a paragraph, a
// PDF page, a spreadsheet row group, a slide) with the coordinates needed
// to reconstruct it.
type Region struct {
	Text   string
	Params model.ExtractionParams
}

// ParsedContent is the Parse stage's output contract.
type ParsedContent struct {
	Content    string
	FileType   string
	Title      string
	Author     string
	PageCount  int
	SlideCount int
	SheetCount int
	Regions    []Region
}

// Parser extracts text and format-aware metadata from one file.
type Parser interface {
	// Parse reads path (whose contents are data) and returns its parsed
	// content.
	Parse(path string, data []byte) (ParsedContent, error)
}

var registry = map[string]Parser{
	".txt":  textParser{},
	".md":   markdownParser{},
	".pdf":  pdfParser{},
	".docx": docxParser{},
	".xlsx": xlsxParser{},
	".pptx": pptxParser{},
}

// ForPath resolves the Parser registered for path's extension. Unsupported
// extensions return errs.ParseError (spec.md §4.4: "Unsupported extensions
// fail with UnsupportedFileType and land the file in FAILED").
func ForPath(path string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	p, ok := registry[ext]
	if !ok {
		return nil, errs.NewParseError(path, true, fmt.Errorf("unsupported file type %q", ext))
	}
	return p, nil
}

// Parse resolves and runs the parser for path against data.
func Parse(path string, data []byte) (ParsedContent, error) {
	p, err := ForPath(path)
	if err != nil {
		return ParsedContent{}, err
	}
	content, err := p.Parse(path, data)
	if err != nil {
		return ParsedContent{}, errs.NewParseError(path, true, err)
	}
	return content, nil
}

func titleFromFilename(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
