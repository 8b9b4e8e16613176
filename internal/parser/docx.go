package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/semindex/semindex/internal/model"
)

// docxParser reads the modern Word (OOXML) format as a zip archive and
// extracts word/document.xml's paragraph runs. No third-party OOXML
// library appears in the retrieved pack, so this uses archive/zip +
// encoding/xml directly (see DESIGN.md).
type docxParser struct{}

type wordBody struct {
	Paragraphs []wordParagraph `xml:"p"`
}

type wordParagraph struct {
	Runs []wordRun `xml:"r"`
}

type wordRun struct {
	Text []string `xml:"t"`
}

func (docxParser) Parse(path string, data []byte) (ParsedContent, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ParsedContent{}, fmt.Errorf("docx: open zip: %w", err)
	}

	raw, err := readZipFile(zr, "word/document.xml")
	if err != nil {
		return ParsedContent{}, err
	}

	var body struct {
		Body wordBody `xml:"body"`
	}
	if err := xml.Unmarshal(raw, &body); err != nil {
		return ParsedContent{}, fmt.Errorf("docx: parse document.xml: %w", err)
	}

	var sb strings.Builder
	regions := make([]Region, 0, len(body.Body.Paragraphs))
	for i, p := range body.Body.Paragraphs {
		var ptext strings.Builder
		for _, r := range p.Runs {
			for _, t := range r.Text {
				ptext.WriteString(t)
			}
		}
		text := strings.TrimSpace(ptext.String())
		if text == "" {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n\n")
		regions = append(regions, Region{
			Text:   text,
			Params: model.ExtractionParams{Section: fmt.Sprintf("paragraph-%d", i)},
		})
	}

	author, _ := readZipFile(zr, "docProps/core.xml")
	title := extractCoreProp(author, "title")
	if title == "" {
		title = titleFromFilename(path)
	}

	return ParsedContent{
		Content:  sb.String(),
		FileType: "docx",
		Title:    title,
		Author:   extractCoreProp(author, "creator"),
		Regions:  regions,
	}, nil
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("open %s: %w", name, err)
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}
	return nil, fmt.Errorf("%s not found in archive", name)
}

func extractCoreProp(coreXML []byte, field string) string {
	if len(coreXML) == 0 {
		return ""
	}
	open := "<dc:" + field + ">"
	closeTag := "</dc:" + field + ">"
	start := strings.Index(string(coreXML), open)
	if start == -1 {
		open = "<cp:" + field + ">"
		closeTag = "</cp:" + field + ">"
		start = strings.Index(string(coreXML), open)
		if start == -1 {
			return ""
		}
	}
	rest := string(coreXML)[start+len(open):]
	end := strings.Index(rest, closeTag)
	if end == -1 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}
