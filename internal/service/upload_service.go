package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/courierchat/courier/internal/domain"
	"github.com/courierchat/courier/pkg/apperr"
)

// BlobStore is where attachment bytes actually live. The chat core only
// keeps the returned reference; swapping in object storage means
// implementing this interface.
type BlobStore interface {
	Save(ctx context.Context, name, contentType string, r io.Reader) (url string, size int64, err error)
}

// DiskStore stores blobs on the local filesystem and serves them under
// baseURL. Good enough for a single-node deployment.
type DiskStore struct {
	dir     string
	baseURL string
}

func NewDiskStore(dir, baseURL string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}
	return &DiskStore{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

func (s *DiskStore) Save(ctx context.Context, name, contentType string, r io.Reader) (string, int64, error) {
	// Random prefix keeps uploads collision-free and the original name
	// recognizable.
	stored := uuid.New().String() + "_" + filepath.Base(name)

	f, err := os.Create(filepath.Join(s.dir, stored))
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		os.Remove(f.Name())
		return "", 0, err
	}
	return s.baseURL + "/" + stored, size, nil
}

type UploadService struct {
	store    BlobStore
	maxBytes int64
}

func NewUploadService(store BlobStore, maxBytes int64) *UploadService {
	return &UploadService{store: store, maxBytes: maxBytes}
}

// Upload stores the attachment and returns the metadata a message will
// carry. size is the client-declared length; the stream is still capped at
// maxBytes while copying.
func (u *UploadService) Upload(ctx context.Context, filename, contentType string, size int64, r io.Reader) (*domain.FileMeta, error) {
	if filename == "" {
		return nil, fmt.Errorf("%w: filename is required", apperr.ErrValidation)
	}
	if u.maxBytes > 0 && size > u.maxBytes {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", apperr.ErrValidation, u.maxBytes)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	limited := r
	if u.maxBytes > 0 {
		limited = io.LimitReader(r, u.maxBytes+1)
	}

	url, written, err := u.store.Save(ctx, filename, contentType, limited)
	if err != nil {
		return nil, fmt.Errorf("storing upload: %w", err)
	}
	if u.maxBytes > 0 && written > u.maxBytes {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", apperr.ErrValidation, u.maxBytes)
	}

	return &domain.FileMeta{
		URL:      url,
		Name:     filepath.Base(filename),
		Size:     written,
		MimeType: contentType,
	}, nil
}

// KindForMime maps an upload's content type to the message kind it will be
// sent as.
func KindForMime(contentType string) domain.MessageKind {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return domain.KindImage
	case strings.HasPrefix(contentType, "audio/"):
		return domain.KindVoice
	default:
		return domain.KindDocument
	}
}
