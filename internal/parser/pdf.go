package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/semindex/semindex/internal/model"
)

// pdfParser is a minimal, best-effort PDF text extractor: it scans
// uncompressed content streams for `(...) Tj` / `[...] TJ` text-showing
// operators between BT/ET markers and treats each page object as one
// Region. It does not decode FlateDecode-compressed streams or embedded
// fonts with custom encodings — full PDF layout analysis is out of scope
// (spec.md §1 treats format parsers as a boundary concern; only the output
// contract matters).
type pdfParser struct{}

var (
	pageSplitRE = regexp.MustCompile(`/Type\s*/Page[^s]`)
	btEtRE      = regexp.MustCompile(`(?s)BT(.*?)ET`)
	tjStringRE  = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)\s*Tj`)
	tjArrayRE   = regexp.MustCompile(`(?s)\[((?:[^\[\]]|\\.)*)\]\s*TJ`)
	arrayPartRE = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)`)
)

func (pdfParser) Parse(path string, data []byte) (ParsedContent, error) {
	raw := string(data)
	pageBounds := splitPages(raw)

	var sb strings.Builder
	regions := make([]Region, 0, len(pageBounds))

	for i, page := range pageBounds {
		text := extractPageText(page)
		if strings.TrimSpace(text) == "" {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n\n")
		regions = append(regions, Region{
			Text:   text,
			Params: model.ExtractionParams{Page: i + 1},
		})
	}

	if len(regions) == 0 {
		return ParsedContent{}, fmt.Errorf("pdf: no extractable text streams found")
	}

	return ParsedContent{
		Content:   sb.String(),
		FileType:  "pdf",
		Title:     titleFromFilename(path),
		PageCount: len(pageBounds),
		Regions:   regions,
	}, nil
}

// splitPages is a coarse approximation: it locates `/Type /Page` object
// markers and slices the raw body between consecutive markers.
func splitPages(raw string) []string {
	locs := pageSplitRE.FindAllStringIndex(raw, -1)
	if len(locs) == 0 {
		return []string{raw}
	}
	pages := make([]string, 0, len(locs))
	for i, loc := range locs {
		end := len(raw)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		pages = append(pages, raw[loc[0]:end])
	}
	return pages
}

func extractPageText(page string) string {
	var sb strings.Builder
	for _, block := range btEtRE.FindAllStringSubmatch(page, -1) {
		body := block[1]
		for _, m := range tjStringRE.FindAllStringSubmatch(body, -1) {
			sb.WriteString(unescapePDFString(m[1]))
			sb.WriteString(" ")
		}
		for _, m := range tjArrayRE.FindAllStringSubmatch(body, -1) {
			for _, part := range arrayPartRE.FindAllStringSubmatch(m[1], -1) {
				sb.WriteString(unescapePDFString(part[1]))
			}
			sb.WriteString(" ")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func unescapePDFString(s string) string {
	var out bytes.Buffer
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			switch s[i] {
			case 'n':
				out.WriteByte('\n')
			case 'r':
				out.WriteByte('\r')
			case 't':
				out.WriteByte('\t')
			case '(', ')', '\\':
				out.WriteByte(s[i])
			default:
				if s[i] >= '0' && s[i] <= '7' {
					// octal escape, up to 3 digits
					j := i
					for j < len(s) && j < i+3 && s[j] >= '0' && s[j] <= '7' {
						j++
					}
					if v, err := strconv.ParseInt(s[i:j], 8, 32); err == nil {
						out.WriteByte(byte(v))
					}
					i = j - 1
				} else {
					out.WriteByte(s[i])
				}
			}
			continue
		}
		out.WriteByte(s[i])
	}
	return out.String()
}
