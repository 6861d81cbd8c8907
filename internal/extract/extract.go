package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// MaxFileSize rejects uploads before any parsing happens.
const MaxFileSize = 20 << 20

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrFileTooLarge    = errors.New("file exceeds the size limit")
	ErrNoText          = errors.New("no extractable text found")
)

// Text pulls plain text out of an uploaded course file. The format is
// chosen by extension: .pdf, .docx, .pptx and .txt are supported.
func Text(name string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(r, MaxFileSize+1)); err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	if buf.Len() > MaxFileSize {
		return "", ErrFileTooLarge
	}

	data := buf.Bytes()
	var (
		text string
		err  error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		text, err = fromPDF(data)
	case ".docx":
		text, err = fromDOCX(data)
	case ".pptx":
		text, err = fromPPTX(data)
	case ".txt", ".md":
		text = string(data)
	default:
		return "", ErrUnsupportedType
	}
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

type FileResult struct {
	Name string
	Text string
	Err  error
}

// Batch extracts every file and reports per-file outcomes; one corrupt
// upload never sinks the rest.
func Batch(files map[string]io.Reader) []FileResult {
	results := make([]FileResult, 0, len(files))
	for name, r := range files {
		text, err := Text(name, r)
		results = append(results, FileResult{Name: name, Text: text, Err: err})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results
}

func fromPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(content)
		b.WriteString("\n")
	}
	return b.String(), nil
}

func fromDOCX(data []byte) (string, error) {
	return fromOOXML(data, func(name string) bool {
		return name == "word/document.xml"
	})
}

func fromPPTX(data []byte) (string, error) {
	return fromOOXML(data, func(name string) bool {
		return strings.HasPrefix(name, "ppt/slides/slide") && strings.HasSuffix(name, ".xml")
	})
}

// fromOOXML walks the zip container and collects the character data of
// every <w:t>/<a:t> run in the selected parts.
func fromOOXML(data []byte, wanted func(string) bool) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open document archive: %w", err)
	}

	var parts []*zip.File
	for _, f := range zr.File {
		if wanted(f.Name) {
			parts = append(parts, f)
		}
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].Name < parts[j].Name })

	var b strings.Builder
	for _, part := range parts {
		rc, err := part.Open()
		if err != nil {
			return "", fmt.Errorf("open %s: %w", part.Name, err)
		}
		err = collectTextRuns(rc, &b)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", part.Name, err)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

func collectTextRuns(r io.Reader, b *strings.Builder) error {
	dec := xml.NewDecoder(r)
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
			if t.Name.Local == "p" || t.Name.Local == "br" {
				b.WriteString(" ")
			}
		case xml.EndElement:
			if t.Name.Local == "t" {
				inText = false
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
}
