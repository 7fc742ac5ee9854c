package handlers

import (
	"net/http"

	"github.com/courierchat/courier/internal/service"
)

type UploadHandler struct {
	uploadService *service.UploadService
	maxBytes      int64
}

func NewUploadHandler(uploadService *service.UploadService, maxBytes int64) *UploadHandler {
	return &UploadHandler{uploadService: uploadService, maxBytes: maxBytes}
}

// Upload accepts one multipart file field named "file" and returns the
// metadata to attach to a message send.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+1<<20)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "MISSING_FILE", "A multipart field named 'file' is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	meta, err := h.uploadService.Upload(r.Context(), header.Filename, contentType, header.Size, file)
	if err != nil {
		writeServiceError(w, "upload", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"file": meta,
		"kind": service.KindForMime(meta.MimeType),
	})
}
