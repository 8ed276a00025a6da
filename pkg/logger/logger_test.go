package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger(t *testing.T) {
	t.Run("Should write structured keyvals to the configured output", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log := NewLogger(&Config{Level: DebugLevel, Output: buf})
		log.Info("document ingested", "document_id", "doc-1", "chunks", 3)
		out := buf.String()
		assert.Contains(t, out, "document ingested")
		assert.Contains(t, out, "document_id")
	})
	t.Run("Should suppress entries below the configured level", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log := NewLogger(&Config{Level: ErrorLevel, Output: buf})
		log.Debug("noise")
		log.Info("noise")
		assert.Empty(t, strings.TrimSpace(buf.String()))
	})
	t.Run("Should carry fields added via With", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log := NewLogger(&Config{Level: InfoLevel, Output: buf}).With("tenant_id", "t1")
		log.Info("searching")
		assert.Contains(t, buf.String(), "t1")
	})
}

func TestFromContext(t *testing.T) {
	t.Run("Should return the attached logger", func(t *testing.T) {
		buf := &bytes.Buffer{}
		log := NewLogger(&Config{Level: InfoLevel, Output: buf})
		ctx := ContextWithLogger(context.Background(), log)
		FromContext(ctx).Info("hello")
		assert.Contains(t, buf.String(), "hello")
	})
	t.Run("Should fall back to a default logger", func(t *testing.T) {
		require.NotNil(t, FromContext(context.Background()))
	})
}
