package parser

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForPathUnsupportedExtensionFails(t *testing.T) {
	_, err := ForPath("notes.rtf")
	require.Error(t, err)
}

func TestForPathResolvesAllowListedExtensions(t *testing.T) {
	for _, ext := range []string{".txt", ".md", ".pdf", ".docx", ".xlsx", ".pptx"} {
		p, err := ForPath("file" + ext)
		require.NoError(t, err)
		require.NotNil(t, p)
	}
}

func TestTextParserSplitsParagraphs(t *testing.T) {
	data := []byte("first paragraph\nstill first\n\nsecond paragraph\n\nthird")
	out, err := Parse("notes.txt", data)
	require.NoError(t, err)
	assert.Equal(t, "text", out.FileType)
	require.Len(t, out.Regions, 3)
	assert.Contains(t, out.Regions[0].Text, "first paragraph")
	assert.Equal(t, "paragraph-0", out.Regions[0].Params.Section)
}

func TestMarkdownParserExtractsTitleAndSections(t *testing.T) {
	data := []byte("# Getting Started\n\nIntro text here.\n\n## Install\n\nRun the installer.\n")
	out, err := Parse("README.md", data)
	require.NoError(t, err)
	assert.Equal(t, "Getting Started", out.Title)
	require.Len(t, out.Regions, 2)
	assert.Equal(t, "Getting Started", out.Regions[0].Params.Section)
	assert.Equal(t, "Install", out.Regions[1].Params.Section)
	assert.Contains(t, out.Regions[1].Text, "Run the installer")
}

func TestMarkdownParserFallsBackToFilenameTitle(t *testing.T) {
	out, err := Parse("plain.md", []byte("no heading here, just text"))
	require.NoError(t, err)
	assert.Equal(t, "plain", out.Title)
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDocxParserExtractsParagraphsAndCoreProps(t *testing.T) {
	documentXML := `<?xml version="1.0"?>
<w:document xmlns:w="ns"><w:body>
<w:p><w:r><w:t>Hello world</w:t></w:r></w:p>
<w:p><w:r><w:t>Second paragraph</w:t></w:r></w:p>
</w:body></w:document>`
	coreXML := `<?xml version="1.0"?>
<cp:coreProperties xmlns:cp="cp" xmlns:dc="dc"><dc:title>My Doc</dc:title><dc:creator>Ada</dc:creator></cp:coreProperties>`

	data := buildZip(t, map[string]string{
		"word/document.xml": documentXML,
		"docProps/core.xml": coreXML,
	})

	out, err := Parse("report.docx", data)
	require.NoError(t, err)
	assert.Equal(t, "docx", out.FileType)
	assert.Equal(t, "My Doc", out.Title)
	assert.Equal(t, "Ada", out.Author)
	require.Len(t, out.Regions, 2)
	assert.Equal(t, "Hello world", out.Regions[0].Text)
	assert.Equal(t, "paragraph-0", out.Regions[0].Params.Section)
}

func TestXlsxParserGroupsRowsPerSheet(t *testing.T) {
	sheetXML := `<?xml version="1.0"?>
<worksheet><sheetData>
<row r="1"><c r="A1" t="s"><v>0</v></c></row>
<row r="2"><c r="A2"><v>42</v></c></row>
</sheetData></worksheet>`
	sharedXML := `<?xml version="1.0"?>
<sst><si><t>Header</t></si></sst>`

	data := buildZip(t, map[string]string{
		"xl/worksheets/sheet1.xml": sheetXML,
		"xl/sharedStrings.xml":     sharedXML,
	})

	out, err := Parse("book.xlsx", data)
	require.NoError(t, err)
	assert.Equal(t, "xlsx", out.FileType)
	assert.Equal(t, 1, out.SheetCount)
	require.Len(t, out.Regions, 1)
	assert.Contains(t, out.Regions[0].Text, "Header")
	assert.Contains(t, out.Regions[0].Text, "42")
	assert.Equal(t, "xl/worksheets/sheet1.xml", out.Regions[0].Params.Sheet)
}

func TestPptxParserProducesOneRegionPerSlide(t *testing.T) {
	slide1 := `<?xml version="1.0"?>
<p:sld xmlns:p="p"><p:cSld><p:spTree><p:sp><p:txBody><a:p xmlns:a="a"><a:r><a:t>Title slide</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`
	slide2 := `<?xml version="1.0"?>
<p:sld xmlns:p="p"><p:cSld><p:spTree><p:sp><p:txBody><a:p xmlns:a="a"><a:r><a:t>Second slide</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`

	data := buildZip(t, map[string]string{
		"ppt/slides/slide1.xml": slide1,
		"ppt/slides/slide2.xml": slide2,
	})

	out, err := Parse("deck.pptx", data)
	require.NoError(t, err)
	assert.Equal(t, 2, out.SlideCount)
	require.Len(t, out.Regions, 2)
	assert.Equal(t, 1, out.Regions[0].Params.Slide)
	assert.Contains(t, out.Regions[0].Text, "Title slide")
	assert.Equal(t, 2, out.Regions[1].Params.Slide)
}

func TestPdfParserExtractsTextShowingOperators(t *testing.T) {
	data := []byte(`%PDF-1.4
1 0 obj << /Type /Page >> endobj
2 0 obj << /Length 44 >>
stream
BT /F1 12 Tf (Hello from page one) Tj ET
endstream
endobj
`)
	out, err := Parse("doc.pdf", data)
	require.NoError(t, err)
	assert.Equal(t, "pdf", out.FileType)
	require.Len(t, out.Regions, 1)
	assert.Contains(t, out.Regions[0].Text, "Hello from page one")
	assert.Equal(t, 1, out.Regions[0].Params.Page)
}

func TestPdfParserWithNoExtractableTextFails(t *testing.T) {
	_, err := Parse("empty.pdf", []byte("%PDF-1.4\n%%EOF"))
	require.Error(t, err)
}
