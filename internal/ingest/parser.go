// Package ingest turns uploaded documents into deduplicated exam questions.
package ingest

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/gen2brain/go-fitz"
	"github.com/mholt/archives"
	"golang.org/x/net/html/charset"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrEmptyDocument     = errors.New("document appears to be empty or too short")
)

// minTextLength is the shortest extracted text worth sending to an extractor.
const minTextLength = 10

var allowedExtensions = map[string]bool{
	"txt":  true,
	"pdf":  true,
	"docx": true,
	"html": true,
	"htm":  true,
}

// Extension returns the lower-case extension of filename without the dot.
func Extension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// IsAllowedFile reports whether documents named filename can be parsed.
func IsAllowedFile(filename string) bool {
	return allowedExtensions[Extension(filename)]
}

// AllowedExtensions lists the accepted extensions for error messages.
func AllowedExtensions() []string {
	return []string{"txt", "pdf", "docx", "html", "htm"}
}

// ExtractText returns the plain text of a document, picking the parser from
// the file extension.
func ExtractText(ctx context.Context, filename string, data []byte) (string, error) {
	var (
		text string
		err  error
	)
	switch ext := Extension(filename); ext {
	case "txt":
		text, err = parseText(data)
	case "pdf":
		text, err = parsePDF(data)
	case "docx":
		text, err = parseDOCX(ctx, data)
	case "html", "htm":
		text, err = parseHTML(data)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return "", err
	}
	if len([]rune(strings.TrimSpace(text))) < minTextLength {
		return "", ErrEmptyDocument
	}
	return text, nil
}

// parseText decodes UTF-8 text and falls back to GBK, which is common for
// question banks exported on Chinese Windows systems.
func parseText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return string(data), nil
	}
	r, err := charset.NewReaderLabel("gbk", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to decode text: %w", err)
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to decode text: %w", err)
	}
	return string(decoded), nil
}

func parsePDF(data []byte) (string, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return "", fmt.Errorf("failed to parse PDF: %w", err)
	}
	defer doc.Close()

	var pages []string
	for i := 0; i < doc.NumPage(); i++ {
		text, err := doc.Text(i)
		if err != nil {
			return "", fmt.Errorf("failed to parse PDF page %d: %w", i+1, err)
		}
		if strings.TrimSpace(text) != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}

func parseDOCX(ctx context.Context, data []byte) (string, error) {
	var body []byte
	err := archives.Zip{}.Extract(ctx, bytes.NewReader(data), func(ctx context.Context, f archives.FileInfo) error {
		if f.NameInArchive != "word/document.xml" {
			return nil
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		defer rc.Close()
		body, err = io.ReadAll(rc)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to parse DOCX: %w", err)
	}
	if body == nil {
		return "", fmt.Errorf("failed to parse DOCX: word/document.xml not found")
	}
	return docxText(body)
}

// docxText flattens WordprocessingML into paragraphs. Table cells of a row
// are joined with " | ".
func docxText(body []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	var (
		paragraphs []string
		para       strings.Builder
		cells      []string
		inCell     int
	)
	flush := func() {
		text := strings.TrimSpace(para.String())
		para.Reset()
		if text == "" {
			return
		}
		if inCell > 0 {
			cells = append(cells, text)
			return
		}
		paragraphs = append(paragraphs, text)
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to parse DOCX: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tab":
				para.WriteByte('\t')
			case "br", "cr":
				para.WriteByte('\n')
			case "tc":
				inCell++
			case "t":
				var s string
				if err := dec.DecodeElement(&s, &t); err != nil {
					return "", fmt.Errorf("failed to parse DOCX: %w", err)
				}
				para.WriteString(s)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				flush()
			case "tc":
				inCell--
			case "tr":
				if len(cells) > 0 {
					paragraphs = append(paragraphs, strings.Join(cells, " | "))
					cells = nil
				}
			}
		}
	}
	flush()
	return strings.Join(paragraphs, "\n\n"), nil
}

func parseHTML(data []byte) (string, error) {
	r, err := charset.NewReader(bytes.NewReader(data), "text/html")
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	doc.Find("script, style, noscript").Remove()

	var blocks []string
	doc.Find("h1, h2, h3, h4, h5, h6, p, li, td, th, pre, div").Each(func(_ int, s *goquery.Selection) {
		// Only leaf blocks, so nested containers are not repeated.
		if s.Find("h1, h2, h3, h4, h5, h6, p, li, td, th, pre, div").Length() > 0 {
			return
		}
		if text := strings.TrimSpace(s.Text()); text != "" {
			blocks = append(blocks, text)
		}
	})
	if len(blocks) == 0 {
		return strings.TrimSpace(doc.Find("body").Text()), nil
	}
	return strings.Join(blocks, "\n"), nil
}
