package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesAtLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "warn")

	log.Info().Msg("quiet")
	assert.Empty(t, buf.String())

	log.Warn().Msg("loud")
	assert.Contains(t, buf.String(), "loud")
}

func TestNewDefaultWriter(t *testing.T) {
	require.NotNil(t, New(nil, "info"))
}

func TestSubTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug").Sub("transport")

	log.Info().Msg("dialing")
	assert.Contains(t, buf.String(), `"component":"transport"`)
	assert.Contains(t, buf.String(), "dialing")
}

func TestWithAddsField(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info").Sub("orchestrator").With("userId", "u-1")

	log.Info().Msg("drain started")
	out := buf.String()
	assert.Contains(t, out, `"userId":"u-1"`)
	assert.Contains(t, out, `"component":"orchestrator"`)
}

func TestOpenWithFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "envieii.log")

	log, closer, err := Open(Options{Level: "info", File: path, ConsoleStyle: "json", Console: &console})
	require.NoError(t, err)

	log.Info().Str("k", "v").Msg("to both")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to both")
	assert.Contains(t, console.String(), `"k":"v"`)
}

func TestOpenWithoutFile(t *testing.T) {
	var console bytes.Buffer
	log, closer, err := Open(Options{Level: "debug", Console: &console})
	require.NoError(t, err)
	require.NotNil(t, closer)

	log.Debug().Msg("pretty line")
	assert.Contains(t, console.String(), "pretty line")
	assert.NoError(t, closer.Close())
}

func TestNopDiscards(t *testing.T) {
	log := Nop()
	log.Error().Msg("nothing")
	assert.Equal(t, zerolog.Disabled, log.Zerolog().GetLevel())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"silent", zerolog.Disabled},
		{"", zerolog.InfoLevel},
		{"WARN", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.input))
		})
	}
}

func TestSilentLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "silent")

	log.Warn().Msg("x")
	log.Error().Msg("y")
	assert.Empty(t, buf.String())
}
