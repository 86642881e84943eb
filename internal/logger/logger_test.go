package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
}

func TestComponentTagsEntries(t *testing.T) {
	var buf bytes.Buffer
	l := Component(NewProduction(&buf), "tokenstore")
	l.Info().Msg("hello")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "tokenstore", entry["component"])
	assert.Equal(t, "hello", entry["message"])
}

func TestTokenPreview(t *testing.T) {
	assert.Equal(t, "<empty>", TokenPreview(""))
	assert.Equal(t, "<redacted>", TokenPreview("short"))
	assert.Equal(t, "abcdef…uvwxyz", TokenPreview("abcdefghijklmnopqrstuvwxyz"))
}

func TestFormatFollowsENV(t *testing.T) {
	for _, tt := range []struct {
		env      string
		wantJSON bool
	}{
		{"", false},
		{"dev", false},
		{"development", false},
		{"production", true},
	} {
		t.Run(tt.env, func(t *testing.T) {
			t.Setenv("ENV", tt.env)

			var buf bytes.Buffer
			l := newFor(&buf)
			l.Info().Msg("hello")

			var entry map[string]interface{}
			err := json.Unmarshal(buf.Bytes(), &entry)
			if tt.wantJSON {
				require.NoError(t, err)
				assert.Equal(t, "hello", entry["message"])
			} else {
				assert.Error(t, err)
				assert.Contains(t, buf.String(), "hello")
			}
		})
	}
}
