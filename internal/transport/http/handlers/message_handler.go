package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/courierchat/courier/internal/service"
	"github.com/courierchat/courier/internal/transport/http/middleware"
	"github.com/courierchat/courier/pkg/validator"
)

type MessageHandler struct {
	chatService *service.ChatService
}

func NewMessageHandler(chatService *service.ChatService) *MessageHandler {
	return &MessageHandler{chatService: chatService}
}

func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	convID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid conversation ID")
		return
	}

	var input service.SendInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	if errs := validator.ValidateSendMessage(input.Content, input.File != nil); errs.HasErrors() {
		writeValidationErrors(w, errs)
		return
	}

	msg, err := h.chatService.Send(r.Context(), userID, convID, input)
	if err != nil {
		writeServiceError(w, "send message", err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// List returns paginated history. Fetching as the receiving side lazily
// marks pending messages delivered.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	convID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid conversation ID")
		return
	}

	var before *uuid.UUID
	if beforeStr := r.URL.Query().Get("before"); beforeStr != "" {
		id, err := uuid.Parse(beforeStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid before cursor")
			return
		}
		before = &id
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	resp, err := h.chatService.ListMessages(r.Context(), userID, convID, before, limit)
	if err != nil {
		writeServiceError(w, "list messages", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// MarkRead marks every pending message in the conversation read for the
// caller. A conversation with nothing unread is a no-op, not an error.
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	convID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid conversation ID")
		return
	}

	if err := h.chatService.MarkRead(r.Context(), convID, userID); err != nil {
		writeServiceError(w, "mark read", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
