package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/courierchat/courier/internal/service"
)

type PresenceHandler struct {
	presenceService *service.PresenceService
}

func NewPresenceHandler(presenceService *service.PresenceService) *PresenceHandler {
	return &PresenceHandler{presenceService: presenceService}
}

func (h *PresenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid user ID")
		return
	}

	p, err := h.presenceService.Get(r.Context(), userID)
	if err != nil {
		writeServiceError(w, "get presence", err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}
