package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"

	"github.com/semindex/semindex/internal/model"
)

// pptxParser reads the modern presentation (OOXML) format, one Region per
// slide (spec.md §4.5: "slide index" is the natural boundary).
type pptxParser struct{}

type pptxSlide struct {
	Shapes []pptxShape `xml:"cSld>spTree>sp"`
}

type pptxShape struct {
	TxBody pptxTxBody `xml:"txBody"`
}

type pptxTxBody struct {
	Paragraphs []pptxParagraph `xml:"p"`
}

type pptxParagraph struct {
	Runs []pptxRun `xml:"r"`
}

type pptxRun struct {
	Text string `xml:"t"`
}

func (pptxParser) Parse(path string, data []byte) (ParsedContent, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ParsedContent{}, fmt.Errorf("pptx: open zip: %w", err)
	}

	var slideNames []string
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "ppt/slides/slide") && strings.HasSuffix(f.Name, ".xml") {
			slideNames = append(slideNames, f.Name)
		}
	}
	sort.Strings(slideNames)

	var sb strings.Builder
	regions := make([]Region, 0, len(slideNames))

	for i, name := range slideNames {
		raw, err := readZipFile(zr, name)
		if err != nil {
			continue
		}
		var slide pptxSlide
		if err := xml.Unmarshal(raw, &slide); err != nil {
			continue
		}

		var slideText strings.Builder
		for _, shape := range slide.Shapes {
			for _, p := range shape.TxBody.Paragraphs {
				for _, r := range p.Runs {
					slideText.WriteString(r.Text)
				}
				slideText.WriteString("\n")
			}
		}
		text := strings.TrimSpace(slideText.String())
		if text == "" {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n\n")
		regions = append(regions, Region{
			Text:   text,
			Params: model.ExtractionParams{Slide: i + 1},
		})
	}

	return ParsedContent{
		Content:    sb.String(),
		FileType:   "pptx",
		Title:      titleFromFilename(path),
		SlideCount: len(slideNames),
		Regions:    regions,
	}, nil
}
