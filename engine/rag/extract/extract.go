// Package extract turns raw uploaded bytes into per-page text.
package extract

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
)

// PageText is the extraction result for one page. Plain-text formats
// yield a single page.
type PageText struct {
	Number  int
	Text    string
	HasText bool
	OCRUsed bool
}

// Result bundles the detected mime type with the extracted pages.
type Result struct {
	MimeType string
	Pages    []PageText
}

// Extractor converts document bytes into pages. Implementations must be
// safe for concurrent use.
type Extractor interface {
	Extract(data []byte, filename string) (*Result, error)
}

// DocumentExtractor sniffs the content type and dispatches to a
// format-specific extraction. Unknown binary formats are rejected rather
// than silently producing garbage chunks.
type DocumentExtractor struct{}

// NewDocumentExtractor builds the default extractor.
func NewDocumentExtractor() *DocumentExtractor {
	return &DocumentExtractor{}
}

func (e *DocumentExtractor) Extract(data []byte, filename string) (*Result, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("extract: %s: empty document", filename)
	}
	mime := DetectMime(data)
	switch {
	case mime == "application/pdf":
		pages, err := pdfPages(data)
		if err != nil {
			return nil, fmt.Errorf("extract: %s: %w", filename, err)
		}
		return &Result{MimeType: mime, Pages: pages}, nil
	case strings.HasPrefix(mime, "text/"),
		mime == "application/json",
		mime == "application/xml":
		return &Result{MimeType: mime, Pages: textPage(string(data))}, nil
	default:
		return nil, fmt.Errorf("extract: %s: unsupported mime type %s", filename, mime)
	}
}

// DetectMime uses stdlib sniffing first and the broader mimetype library
// when the result is ambiguous.
func DetectMime(head []byte) string {
	if len(head) == 0 {
		return "application/octet-stream"
	}
	detected := http.DetectContentType(head)
	if detected != "application/octet-stream" {
		return normalizeMime(detected)
	}
	return normalizeMime(mimetype.Detect(head).String())
}

func normalizeMime(mime string) string {
	if idx := strings.IndexByte(mime, ';'); idx >= 0 {
		mime = mime[:idx]
	}
	return strings.TrimSpace(mime)
}

func pdfPages(data []byte) ([]PageText, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	numPages := reader.NumPage()
	pages := make([]PageText, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		text := ""
		if !page.V.IsNull() {
			extracted, err := page.GetPlainText(nil)
			if err != nil {
				return nil, fmt.Errorf("extract pdf page %d: %w", i, err)
			}
			text = extracted
		}
		pages = append(pages, PageText{
			Number:  i,
			Text:    text,
			HasText: strings.TrimSpace(text) != "",
		})
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}
	return pages, nil
}

func textPage(text string) []PageText {
	return []PageText{{
		Number:  1,
		Text:    text,
		HasText: strings.TrimSpace(text) != "",
	}}
}

// ConcatPages joins page text in order with page breaks so chunk offsets
// can be mapped back to page ranges.
func ConcatPages(pages []PageText) string {
	var b strings.Builder
	for i, page := range pages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(page.Text)
	}
	return b.String()
}

// PageSpan maps byte offsets in the concatenated text back to page
// numbers. Offsets returned by the chunker fall inside exactly one span
// or on the separator between two; the separator belongs to the earlier
// page.
type PageSpan struct {
	Number int
	Start  int
	End    int
}

// PageSpans computes the concatenation layout produced by ConcatPages.
func PageSpans(pages []PageText) []PageSpan {
	spans := make([]PageSpan, 0, len(pages))
	offset := 0
	for i, page := range pages {
		if i > 0 {
			offset++ // separator
		}
		spans = append(spans, PageSpan{
			Number: page.Number,
			Start:  offset,
			End:    offset + len(page.Text),
		})
		offset += len(page.Text)
	}
	return spans
}

// PageRange resolves a [start, end) byte range to the pages it touches.
func PageRange(spans []PageSpan, start, end int) (first, last int) {
	if len(spans) == 0 {
		return 0, 0
	}
	first = spans[0].Number
	last = spans[len(spans)-1].Number
	for _, span := range spans {
		if start >= span.Start && start <= span.End {
			first = span.Number
			break
		}
	}
	for i := len(spans) - 1; i >= 0; i-- {
		if end > spans[i].Start || (end == spans[i].Start && spans[i].Start == spans[i].End) {
			last = spans[i].Number
			break
		}
	}
	if last < first {
		last = first
	}
	return first, last
}
