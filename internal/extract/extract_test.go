package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func docxBytes(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create document.xml: %v", err)
	}
	if _, err := w.Write([]byte(body)); err != nil {
		t.Fatalf("write document.xml: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func pptxBytes(t *testing.T, slides map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range slides {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestText_Plain(t *testing.T) {
	got, err := Text("notes.txt", strings.NewReader("  photosynthesis basics  "))
	if err != nil {
		t.Fatalf("Text() error = %v", err)
	}
	if got != "photosynthesis basics" {
		t.Errorf("Text() = %q, want trimmed content", got)
	}
}

func TestText_Markdown(t *testing.T) {
	got, err := Text("Chapter1.MD", strings.NewReader("# Cells\n\nMitochondria."))
	if err != nil {
		t.Fatalf("Text() error = %v", err)
	}
	if !strings.Contains(got, "Mitochondria.") {
		t.Errorf("Text() = %q, want markdown body", got)
	}
}

func TestText_UnsupportedType(t *testing.T) {
	if _, err := Text("slides.key", strings.NewReader("x")); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("Text() error = %v, want ErrUnsupportedType", err)
	}
}

func TestText_TooLarge(t *testing.T) {
	big := io.LimitReader(zeroReader{}, MaxFileSize+1)
	if _, err := Text("huge.txt", big); !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("Text() error = %v, want ErrFileTooLarge", err)
	}
}

func TestText_EmptyContent(t *testing.T) {
	if _, err := Text("blank.txt", strings.NewReader("   \n\t ")); !errors.Is(err, ErrNoText) {
		t.Fatalf("Text() error = %v, want ErrNoText", err)
	}
}

func TestText_DOCX(t *testing.T) {
	doc := `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>The cell membrane</w:t></w:r></w:p>
    <w:p><w:r><w:t>is selectively permeable.</w:t></w:r></w:p>
  </w:body>
</w:document>`

	got, err := Text("bio.docx", bytes.NewReader(docxBytes(t, doc)))
	if err != nil {
		t.Fatalf("Text() error = %v", err)
	}
	if !strings.Contains(got, "The cell membrane") || !strings.Contains(got, "selectively permeable.") {
		t.Errorf("Text() = %q, want both paragraphs", got)
	}
}

func TestText_DOCX_Corrupt(t *testing.T) {
	if _, err := Text("bio.docx", strings.NewReader("not a zip archive")); err == nil {
		t.Fatal("Text() error = nil, want archive failure")
	}
}

func TestText_PPTX_SlideOrder(t *testing.T) {
	slides := map[string]string{
		"ppt/slides/slide2.xml": `<p:sld xmlns:a="urn:a"><a:t>second slide</a:t></p:sld>`,
		"ppt/slides/slide1.xml": `<p:sld xmlns:a="urn:a"><a:t>first slide</a:t></p:sld>`,
		"ppt/notesSlides/notesSlide1.xml": `<p:notes xmlns:a="urn:a"><a:t>speaker notes</a:t></p:notes>`,
	}

	got, err := Text("deck.pptx", bytes.NewReader(pptxBytes(t, slides)))
	if err != nil {
		t.Fatalf("Text() error = %v", err)
	}
	first := strings.Index(got, "first slide")
	second := strings.Index(got, "second slide")
	if first == -1 || second == -1 || first > second {
		t.Errorf("Text() = %q, want slides in order", got)
	}
	if strings.Contains(got, "speaker notes") {
		t.Errorf("Text() = %q, notes slides should be skipped", got)
	}
}

func TestBatch(t *testing.T) {
	files := map[string]io.Reader{
		"b.txt":   strings.NewReader("chapter two"),
		"a.txt":   strings.NewReader("chapter one"),
		"bad.xyz": strings.NewReader("unreadable"),
	}

	results := Batch(files)
	if len(results) != 3 {
		t.Fatalf("Batch() returned %d results, want 3", len(results))
	}

	if results[0].Name != "a.txt" || results[1].Name != "b.txt" || results[2].Name != "bad.xyz" {
		t.Errorf("Batch() order = %v, want sorted by name", []string{results[0].Name, results[1].Name, results[2].Name})
	}
	if results[0].Text != "chapter one" || results[0].Err != nil {
		t.Errorf("a.txt result = %+v, want clean extraction", results[0])
	}
	if !errors.Is(results[2].Err, ErrUnsupportedType) {
		t.Errorf("bad.xyz error = %v, want ErrUnsupportedType", results[2].Err)
	}
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'a'
	}
	return len(p), nil
}
