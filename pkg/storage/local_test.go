package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"guardian/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageUploadDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStorage(dir, "http://localhost:8080/uploads/")
	require.NoError(t, err)
	ctx := context.Background()

	resp, err := store.Upload(ctx, &UploadRequest{
		Key:         "incident-media/audio-1.webm",
		Reader:      strings.NewReader("audio-bytes"),
		ContentType: "audio/webm",
	})
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080/uploads/incident-media/audio-1.webm", resp.URL)
	assert.Equal(t, int64(len("audio-bytes")), resp.Size)

	data, err := os.ReadFile(filepath.Join(dir, "incident-media", "audio-1.webm"))
	require.NoError(t, err)
	assert.Equal(t, "audio-bytes", string(data))

	exists, err := store.FileExists(ctx, "incident-media/audio-1.webm")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.Delete(ctx, "incident-media/audio-1.webm"))
	exists, err = store.FileExists(ctx, "incident-media/audio-1.webm")
	require.NoError(t, err)
	assert.False(t, exists)

	// Deleting a missing object is not an error.
	assert.NoError(t, store.Delete(ctx, "incident-media/audio-1.webm"))
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key   string
		valid bool
	}{
		{"incident-media/outfit-1-me.jpg", true},
		{"", false},
		{"/etc/passwd", false},
		{"incident-media/../../secret", false},
		{"a//b", false},
		{`a\b`, false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidKey)
			}
		})
	}
}

func TestLocalStorageRejectsTraversal(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir(), "http://localhost/uploads")
	require.NoError(t, err)

	_, err = store.Upload(context.Background(), &UploadRequest{Key: "../escape.txt", Reader: strings.NewReader("x")})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "audio/webm", ContentTypeFor("incident-media/audio-1.webm"))
	assert.Equal(t, "image/jpeg", ContentTypeFor("outfit.JPG"))
	assert.Equal(t, "application/octet-stream", ContentTypeFor("blob"))
}

func TestNewSelectsProvider(t *testing.T) {
	cfg := &config.StorageConfig{
		Provider: "local",
		Local:    &config.LocalStorageConfig{BasePath: t.TempDir(), BaseURL: "http://localhost/uploads"},
	}

	provider, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &LocalStorage{}, provider)

	cfg.Provider = "ftp"
	_, err = New(context.Background(), cfg)
	assert.Error(t, err)

	cfg.Provider = "aws"
	cfg.AWS = &config.AWSStorageConfig{}
	_, err = New(context.Background(), cfg)
	assert.ErrorContains(t, err, "AWS_S3_BUCKET")
}
