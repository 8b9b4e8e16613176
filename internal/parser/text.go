package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/semindex/semindex/internal/model"
)

type textParser struct{}

func (textParser) Parse(path string, data []byte) (ParsedContent, error) {
	content := normalizeNewlines(string(data))
	paragraphs := strings.Split(content, "\n\n")

	regions := make([]Region, 0, len(paragraphs))
	for i, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		regions = append(regions, Region{
			Text:   p,
			Params: model.ExtractionParams{Section: sectionLabel(i)},
		})
	}

	return ParsedContent{
		Content:  content,
		FileType: "text",
		Title:    titleFromFilename(path),
		Regions:  regions,
	}, nil
}

var headingRE = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)

type markdownParser struct{}

func (markdownParser) Parse(path string, data []byte) (ParsedContent, error) {
	content := normalizeNewlines(string(data))

	title := titleFromFilename(path)
	if m := headingRE.FindStringSubmatch(content); m != nil {
		title = strings.TrimSpace(m[1])
	}

	sections := splitMarkdownSections(content)
	regions := make([]Region, 0, len(sections))
	for _, s := range sections {
		if strings.TrimSpace(s.text) == "" {
			continue
		}
		regions = append(regions, Region{
			Text:   strings.TrimSpace(s.text),
			Params: model.ExtractionParams{Section: s.heading},
		})
	}

	return ParsedContent{
		Content:  content,
		FileType: "markdown",
		Title:    title,
		Regions:  regions,
	}, nil
}

type mdSection struct {
	heading string
	text    string
}

// splitMarkdownSections breaks content at heading lines, attaching each
// heading to the text that follows it (spec.md §4.5: format-aware
// chunkers preserve heading context).
func splitMarkdownSections(content string) []mdSection {
	lines := strings.Split(content, "\n")
	var sections []mdSection
	current := mdSection{}
	started := false

	for _, line := range lines {
		if headingRE.MatchString(line) {
			if started {
				sections = append(sections, current)
			}
			current = mdSection{heading: strings.TrimSpace(headingRE.FindStringSubmatch(line)[1])}
			started = true
			continue
		}
		current.text += line + "\n"
		started = true
	}
	if started {
		sections = append(sections, current)
	}
	if len(sections) == 0 {
		sections = append(sections, mdSection{text: content})
	}
	return sections
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

func sectionLabel(i int) string {
	return "paragraph-" + strconv.Itoa(i)
}
