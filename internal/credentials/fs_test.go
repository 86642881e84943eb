package credentials

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSSourceSaveCreatesPrivateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deeply", "nested", "auth.json")
	src := NewFSSource(path)

	require.NoError(t, src.Save(&Tokens{AccessToken: "a1", RefreshToken: "r1", ExpiresAt: 1234567890000}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	got, err := src.Load()
	require.NoError(t, err)
	assert.Equal(t, "a1", got.AccessToken)
	assert.Equal(t, "r1", got.RefreshToken)
	assert.Equal(t, int64(1234567890000), got.ExpiresAt)
}

func TestFSSourceMissingFile(t *testing.T) {
	src := NewFSSource(filepath.Join(t.TempDir(), "auth.json"))
	_, err := src.Load()
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestFSSourceRejectsEmptyToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"tokens":{"refresh_token":"r"}}`), 0600))

	_, err := NewFSSource(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing access_token")
}

func TestOpen(t *testing.T) {
	src, err := Open("fs", "/tmp/auth.json", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "fs", src.Name())

	src, err = Open("ENV", "", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "env", src.Name())

	src, err = Open("keychain", "", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "keychain", src.Name())

	_, err = Open("fs", "", zerolog.Nop())
	assert.Error(t, err)
	_, err = Open("vault", "", zerolog.Nop())
	assert.Error(t, err)
}
