package extract_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragline/ragline/engine/rag/extract"
)

func TestDocumentExtractor(t *testing.T) {
	t.Run("Should extract plain text as a single page", func(t *testing.T) {
		e := extract.NewDocumentExtractor()
		result, err := e.Extract([]byte("hello world\nsecond line"), "notes.txt")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(result.MimeType, "text/"))
		require.Len(t, result.Pages, 1)
		assert.Equal(t, 1, result.Pages[0].Number)
		assert.True(t, result.Pages[0].HasText)
		assert.False(t, result.Pages[0].OCRUsed)
	})
	t.Run("Should reject empty documents", func(t *testing.T) {
		e := extract.NewDocumentExtractor()
		_, err := e.Extract(nil, "empty.txt")
		assert.Error(t, err)
	})
	t.Run("Should reject unsupported binary formats", func(t *testing.T) {
		e := extract.NewDocumentExtractor()
		// PNG magic bytes
		_, err := e.Extract([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}, "image.png")
		assert.Error(t, err)
	})
	t.Run("Should mark whitespace-only text as having no text", func(t *testing.T) {
		e := extract.NewDocumentExtractor()
		result, err := e.Extract([]byte("   \n\t  "), "blank.txt")
		require.NoError(t, err)
		require.Len(t, result.Pages, 1)
		assert.False(t, result.Pages[0].HasText)
	})
}

func TestDetectMime(t *testing.T) {
	t.Run("Should detect pdf from magic bytes", func(t *testing.T) {
		assert.Equal(t, "application/pdf", extract.DetectMime([]byte("%PDF-1.7\n")))
	})
	t.Run("Should default to octet-stream for empty input", func(t *testing.T) {
		assert.Equal(t, "application/octet-stream", extract.DetectMime(nil))
	})
	t.Run("Should strip charset parameters", func(t *testing.T) {
		mime := extract.DetectMime([]byte("plain old text"))
		assert.NotContains(t, mime, ";")
	})
}

func TestPageSpans(t *testing.T) {
	pages := []extract.PageText{
		{Number: 1, Text: "aaaa", HasText: true},
		{Number: 2, Text: "bbbb", HasText: true},
		{Number: 3, Text: "cccc", HasText: true},
	}
	t.Run("Should lay pages out with single separators", func(t *testing.T) {
		text := extract.ConcatPages(pages)
		assert.Equal(t, "aaaa\nbbbb\ncccc", text)
		spans := extract.PageSpans(pages)
		require.Len(t, spans, 3)
		assert.Equal(t, 0, spans[0].Start)
		assert.Equal(t, 4, spans[0].End)
		assert.Equal(t, 5, spans[1].Start)
		assert.Equal(t, 9, spans[1].End)
		assert.Equal(t, 10, spans[2].Start)
		assert.Equal(t, 14, spans[2].End)
	})
	t.Run("Should resolve ranges within one page", func(t *testing.T) {
		spans := extract.PageSpans(pages)
		first, last := extract.PageRange(spans, 0, 4)
		assert.Equal(t, 1, first)
		assert.Equal(t, 1, last)
	})
	t.Run("Should resolve ranges that cross pages", func(t *testing.T) {
		spans := extract.PageSpans(pages)
		first, last := extract.PageRange(spans, 2, 12)
		assert.Equal(t, 1, first)
		assert.Equal(t, 3, last)
	})
	t.Run("Should handle empty span lists", func(t *testing.T) {
		first, last := extract.PageRange(nil, 0, 10)
		assert.Equal(t, 0, first)
		assert.Equal(t, 0, last)
	})
}
