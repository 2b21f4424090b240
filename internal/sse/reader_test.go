package sse

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_Next(t *testing.T) {
	t.Run("Single data frames", func(t *testing.T) {
		r := NewReader(strings.NewReader("data: {\"a\":1}\n\ndata: {\"a\":2}\n\n"))

		ev, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, `{"a":1}`, ev.Data)
		assert.Equal(t, EventTypeMessage, ev.Type)

		ev, err = r.Next()
		require.NoError(t, err)
		assert.Equal(t, `{"a":2}`, ev.Data)

		_, err = r.Next()
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("Comments and keep-alives are skipped", func(t *testing.T) {
		r := NewReader(strings.NewReader(": keepalive\n\n: hello\ndata: x\n\n"))
		ev, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, "x", ev.Data)
	})

	t.Run("Multi-line data, named events, ids and CRLF", func(t *testing.T) {
		stream := "id: 7\r\nevent: progress\r\ndata: line1\r\ndata:line2\r\nretry: 3000\r\n\r\n"
		r := NewReader(strings.NewReader(stream))
		ev, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, "line1\nline2", ev.Data)
		assert.Equal(t, "progress", ev.Type)
		assert.Equal(t, "7", ev.ID)
		assert.Equal(t, 3000, ev.Retry)
	})

	t.Run("Partial frame at end of stream is discarded", func(t *testing.T) {
		r := NewReader(strings.NewReader("data: complete\n\ndata: partial"))
		ev, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, "complete", ev.Data)

		_, err = r.Next()
		assert.ErrorIs(t, err, io.EOF)
	})
}
