package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/courierchat/courier/internal/service"
	"github.com/courierchat/courier/internal/transport/http/middleware"
)

type ConversationHandler struct {
	chatService *service.ChatService
}

func NewConversationHandler(chatService *service.ChatService) *ConversationHandler {
	return &ConversationHandler{chatService: chatService}
}

// GetOrCreate finds or creates the conversation between the caller and
// another user. Calling it twice with the same pair returns the same
// conversation id.
func (h *ConversationHandler) GetOrCreate(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var input struct {
		UserID uuid.UUID `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}
	if input.UserID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "MISSING_USER_ID", "user_id is required")
		return
	}

	conv, err := h.chatService.GetOrCreateConversation(r.Context(), userID, input.UserID)
	if err != nil {
		writeServiceError(w, "get or create conversation", err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	convs, err := h.chatService.ListConversations(r.Context(), userID)
	if err != nil {
		writeServiceError(w, "list conversations", err)
		return
	}

	writeJSON(w, http.StatusOK, convs)
}
