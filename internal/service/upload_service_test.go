package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courierchat/courier/internal/domain"
	"github.com/courierchat/courier/pkg/apperr"
)

func newTestUploader(t *testing.T, maxBytes int64) (*UploadService, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewDiskStore(dir, "/uploads")
	require.NoError(t, err)
	return NewUploadService(store, maxBytes), dir
}

func TestUpload(t *testing.T) {
	svc, dir := newTestUploader(t, 1<<20)

	body := "some pdf bytes"
	meta, err := svc.Upload(context.Background(), "report.pdf", "application/pdf", int64(len(body)), strings.NewReader(body))
	require.NoError(t, err)

	assert.Equal(t, "report.pdf", meta.Name)
	assert.Equal(t, int64(len(body)), meta.Size)
	assert.Equal(t, "application/pdf", meta.MimeType)
	assert.True(t, strings.HasPrefix(meta.URL, "/uploads/"))
	assert.True(t, strings.HasSuffix(meta.URL, "_report.pdf"))

	// The bytes landed on disk under the randomized name.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, body, string(data))
}

func TestUploadStripsPath(t *testing.T) {
	svc, dir := newTestUploader(t, 1<<20)

	meta, err := svc.Upload(context.Background(), "../../etc/passwd", "text/plain", 4, strings.NewReader("data"))
	require.NoError(t, err)
	assert.Equal(t, "passwd", meta.Name, "directory components must not survive")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasSuffix(entries[0].Name(), "_passwd"))
}

func TestUploadRejectsMissingFilename(t *testing.T) {
	svc, _ := newTestUploader(t, 1<<20)

	_, err := svc.Upload(context.Background(), "", "text/plain", 4, strings.NewReader("data"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestUploadRejectsDeclaredOversize(t *testing.T) {
	svc, _ := newTestUploader(t, 10)

	_, err := svc.Upload(context.Background(), "big.bin", "application/octet-stream", 11, strings.NewReader("irrelevant"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestUploadRejectsActualOversize(t *testing.T) {
	// The client lies about the size; the copy cap still catches it.
	svc, _ := newTestUploader(t, 10)

	_, err := svc.Upload(context.Background(), "big.bin", "application/octet-stream", 5, strings.NewReader(strings.Repeat("x", 64)))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestUploadDefaultsContentType(t *testing.T) {
	svc, _ := newTestUploader(t, 1<<20)

	meta, err := svc.Upload(context.Background(), "blob", "", 4, strings.NewReader("data"))
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", meta.MimeType)
}

func TestKindForMime(t *testing.T) {
	assert.Equal(t, domain.KindImage, KindForMime("image/png"))
	assert.Equal(t, domain.KindImage, KindForMime("image/jpeg"))
	assert.Equal(t, domain.KindVoice, KindForMime("audio/ogg"))
	assert.Equal(t, domain.KindDocument, KindForMime("application/pdf"))
	assert.Equal(t, domain.KindDocument, KindForMime("video/mp4"))
	assert.Equal(t, domain.KindDocument, KindForMime(""))
}
