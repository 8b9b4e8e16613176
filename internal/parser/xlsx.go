package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/semindex/semindex/internal/model"
)

// xlsxParser reads the modern spreadsheet (OOXML) format, grouping rows
// into fixed-size row groups per sheet as its Region boundary (spec.md
// §4.5: "row-group" is a named natural boundary for spreadsheets).
type xlsxParser struct{}

const xlsxRowGroupSize = 50

type sharedStrings struct {
	Items []sharedStringItem `xml:"si"`
}

type sharedStringItem struct {
	T     string       `xml:"t"`
	Runs  []sharedRunT `xml:"r"`
}

type sharedRunT struct {
	T string `xml:"t"`
}

func (s sharedStringItem) text() string {
	if s.T != "" {
		return s.T
	}
	var sb strings.Builder
	for _, r := range s.Runs {
		sb.WriteString(r.T)
	}
	return sb.String()
}

type sheetData struct {
	Rows []sheetRow `xml:"sheetData>row"`
}

type sheetRow struct {
	R     string     `xml:"r,attr"`
	Cells []sheetCell `xml:"c"`
}

type sheetCell struct {
	R string `xml:"r,attr"`
	T string `xml:"t,attr"`
	V string `xml:"v"`
}

func (xlsxParser) Parse(path string, data []byte) (ParsedContent, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ParsedContent{}, fmt.Errorf("xlsx: open zip: %w", err)
	}

	var shared sharedStrings
	if raw, err := readZipFile(zr, "xl/sharedStrings.xml"); err == nil {
		xml.Unmarshal(raw, &shared)
	}

	var sheetNames []string
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "xl/worksheets/sheet") && strings.HasSuffix(f.Name, ".xml") {
			sheetNames = append(sheetNames, f.Name)
		}
	}
	sort.Strings(sheetNames)

	var sb strings.Builder
	var regions []Region

	for _, name := range sheetNames {
		raw, err := readZipFile(zr, name)
		if err != nil {
			continue
		}
		var sd sheetData
		if err := xml.Unmarshal(raw, &sd); err != nil {
			continue
		}

		for start := 0; start < len(sd.Rows); start += xlsxRowGroupSize {
			end := start + xlsxRowGroupSize
			if end > len(sd.Rows) {
				end = len(sd.Rows)
			}
			var group strings.Builder
			for _, row := range sd.Rows[start:end] {
				for _, cell := range row.Cells {
					val := cell.V
					if cell.T == "s" {
						if idx, err := strconv.Atoi(cell.V); err == nil && idx < len(shared.Items) {
							val = shared.Items[idx].text()
						}
					}
					if val != "" {
						group.WriteString(val)
						group.WriteString("\t")
					}
				}
				group.WriteString("\n")
			}
			text := strings.TrimSpace(group.String())
			if text == "" {
				continue
			}
			sb.WriteString(text)
			sb.WriteString("\n\n")
			regions = append(regions, Region{
				Text: text,
				Params: model.ExtractionParams{
					Sheet:   name,
					RowFrom: start,
					RowTo:   end - 1,
				},
			})
		}
	}

	return ParsedContent{
		Content:    sb.String(),
		FileType:   "xlsx",
		Title:      titleFromFilename(path),
		SheetCount: len(sheetNames),
		Regions:    regions,
	}, nil
}
