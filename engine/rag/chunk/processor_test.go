package chunk_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragline/ragline/engine/rag/chunk"
)

func TestNewProcessor(t *testing.T) {
	t.Run("Should reject non-positive size", func(t *testing.T) {
		_, err := chunk.NewProcessor(chunk.Settings{Size: 0})
		assert.Error(t, err)
	})
	t.Run("Should reject negative overlap", func(t *testing.T) {
		_, err := chunk.NewProcessor(chunk.Settings{Size: 100, Overlap: -1})
		assert.Error(t, err)
	})
	t.Run("Should reject overlap greater or equal to size", func(t *testing.T) {
		_, err := chunk.NewProcessor(chunk.Settings{Size: 100, Overlap: 100})
		assert.Error(t, err)
	})
}

func TestProcessor_Process(t *testing.T) {
	t.Run("Should return nil for whitespace-only input", func(t *testing.T) {
		p, err := chunk.NewProcessor(chunk.Settings{Size: 100, Overlap: 20})
		require.NoError(t, err)
		assert.Nil(t, p.Process("   \n\t  "))
	})
	t.Run("Should keep short input as a single chunk", func(t *testing.T) {
		p, err := chunk.NewProcessor(chunk.Settings{Size: 100, Overlap: 20})
		require.NoError(t, err)
		chunks := p.Process("hello world")
		require.Len(t, chunks, 1)
		assert.Equal(t, 0, chunks[0].Index)
		assert.Equal(t, "hello world", chunks[0].Text)
		assert.NotEmpty(t, chunks[0].Hash)
	})
	t.Run("Should hard-cut unbreakable text with overlap steps", func(t *testing.T) {
		p, err := chunk.NewProcessor(chunk.Settings{Size: 1000, Overlap: 200})
		require.NoError(t, err)
		text := strings.Repeat("a", 2400)
		chunks := p.Process(text)
		require.Len(t, chunks, 3)
		assert.Equal(t, 0, chunks[0].Start)
		assert.Equal(t, 1000, chunks[0].End)
		assert.Equal(t, 800, chunks[1].Start)
		assert.Equal(t, 1800, chunks[1].End)
		assert.Equal(t, 1600, chunks[2].Start)
		assert.Equal(t, 2400, chunks[2].End)
	})
	t.Run("Should prefer a whitespace break within the overlap window", func(t *testing.T) {
		p, err := chunk.NewProcessor(chunk.Settings{Size: 1000, Overlap: 200})
		require.NoError(t, err)
		// Single space at offset 950, inside [800, 1000].
		text := strings.Repeat("a", 950) + " " + strings.Repeat("b", 600)
		chunks := p.Process(text)
		require.GreaterOrEqual(t, len(chunks), 2)
		assert.Equal(t, 951, chunks[0].End)
		assert.Equal(t, strings.Repeat("a", 950), chunks[0].Text)
	})
	t.Run("Should repeat overlap characters from the previous window", func(t *testing.T) {
		p, err := chunk.NewProcessor(chunk.Settings{Size: 50, Overlap: 10})
		require.NoError(t, err)
		text := strings.Repeat("x", 200)
		chunks := p.Process(text)
		require.Greater(t, len(chunks), 1)
		for i := 1; i < len(chunks); i++ {
			assert.Equal(t, chunks[i-1].End-10, chunks[i].Start)
		}
	})
	t.Run("Should drop whitespace-only windows without losing later text", func(t *testing.T) {
		p, err := chunk.NewProcessor(chunk.Settings{Size: 10, Overlap: 2})
		require.NoError(t, err)
		text := "abcdefghij" + strings.Repeat(" ", 30) + "xyz"
		chunks := p.Process(text)
		require.NotEmpty(t, chunks)
		assert.Equal(t, "abcdefghij", chunks[0].Text)
		last := chunks[len(chunks)-1]
		assert.Equal(t, "xyz", last.Text)
		for _, c := range chunks {
			assert.NotEmpty(t, strings.TrimSpace(c.Text))
		}
	})
	t.Run("Should index chunks contiguously after drops", func(t *testing.T) {
		p, err := chunk.NewProcessor(chunk.Settings{Size: 10, Overlap: 2})
		require.NoError(t, err)
		chunks := p.Process("abcdefghij" + strings.Repeat(" ", 30) + "tail chunk")
		for i, c := range chunks {
			assert.Equal(t, i, c.Index)
		}
	})
	t.Run("Should keep hard cuts on rune boundaries", func(t *testing.T) {
		p, err := chunk.NewProcessor(chunk.Settings{Size: 10, Overlap: 2})
		require.NoError(t, err)
		// U+2605 encodes as e2 98 85; byte-wise scanning mistakes the
		// trailing byte for U+0085 whitespace and cuts inside the rune.
		text := strings.Repeat("★", 40)
		chunks := p.Process(text)
		require.NotEmpty(t, chunks)
		for _, c := range chunks {
			assert.True(t, utf8.ValidString(c.Text), "chunk %d: %q", c.Index, c.Text)
			assert.Equal(t, c.Text, text[c.Start:c.End])
		}
	})
	t.Run("Should break multibyte text at real whitespace only", func(t *testing.T) {
		p, err := chunk.NewProcessor(chunk.Settings{Size: 24, Overlap: 6})
		require.NoError(t, err)
		text := strings.Repeat("héllo wörld ★★ désolé ", 15)
		chunks := p.Process(text)
		require.Greater(t, len(chunks), 1)
		for _, c := range chunks {
			assert.True(t, utf8.ValidString(c.Text), "chunk %d: %q", c.Index, c.Text)
			assert.Equal(t, strings.TrimSpace(text[c.Start:c.End]), c.Text)
		}
	})
	t.Run("Should be deterministic across runs", func(t *testing.T) {
		p, err := chunk.NewProcessor(chunk.Settings{Size: 120, Overlap: 30})
		require.NoError(t, err)
		text := strings.Repeat("the quick brown fox jumps over the lazy dog ", 40)
		first := p.Process(text)
		second := p.Process(text)
		require.Equal(t, first, second)
	})
	t.Run("Should normalize carriage returns when configured", func(t *testing.T) {
		p, err := chunk.NewProcessor(chunk.Settings{Size: 100, Overlap: 20, NormalizeNewlines: true})
		require.NoError(t, err)
		chunks := p.Process("line one\r\nline two\rline three")
		require.Len(t, chunks, 1)
		assert.Equal(t, "line one\nline two\nline three", chunks[0].Text)
	})
}
