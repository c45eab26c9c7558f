package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureJSON(t *testing.T, level string) *bytes.Buffer {
	t.Helper()
	prev := Log
	t.Cleanup(func() { Log = prev })

	var buf bytes.Buffer
	InitWithWriter(level, &buf)
	return &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestInitLevels(t *testing.T) {
	captureJSON(t, "debug")
	assert.Equal(t, zerolog.DebugLevel, Log.GetLevel())

	InitWithWriter("WARN", &bytes.Buffer{})
	assert.Equal(t, zerolog.WarnLevel, Log.GetLevel())

	InitWithWriter("bogus", &bytes.Buffer{})
	assert.Equal(t, zerolog.InfoLevel, Log.GetLevel())

	InitWithWriter("", &bytes.Buffer{})
	assert.Equal(t, zerolog.InfoLevel, Log.GetLevel())
}

func TestLineWriterSplitsLines(t *testing.T) {
	buf := captureJSON(t, "info")

	w := NewLineWriter("APPLICATION")
	_, err := w.Write([]byte("Started Application\nListening on 80"))
	require.NoError(t, err)
	_, err = w.Write([]byte("80\n\n"))
	require.NoError(t, err)

	entries := decodeLines(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "Started Application", entries[0]["message"])
	assert.Equal(t, "Listening on 8080", entries[1]["message"])
	assert.Equal(t, "APPLICATION", entries[1]["source"])
}

func TestLineWriterFlush(t *testing.T) {
	buf := captureJSON(t, "info")

	w := NewLineWriter("APPLICATION")
	_, _ = w.Write([]byte("no newline"))
	assert.Empty(t, buf.String())

	w.Flush()
	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "no newline", entries[0]["message"])

	w.Flush()
	assert.Len(t, decodeLines(t, buf), 1)
}

func TestWithField(t *testing.T) {
	buf := captureJSON(t, "info")

	l := WithField("network", "systest-1")
	l.Info().Msg("created")

	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "systest-1", entries[0]["network"])
}
