package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"connect-chat/internal/adapters/dto"
)

// ChatStarter creates a contact upstream
type ChatStarter interface {
	StartChat(ctx context.Context, instanceID, contactFlowID string, req dto.StartChatRequest) (*dto.StartChatResult, error)
}

// StartChatHandler proxies POST /start-chat for the browser widget.
// It answers {data: result} or {error: message} instead of the envelope.
type StartChatHandler struct {
	starter       ChatStarter
	instanceID    string
	contactFlowID string
}

// NewStartChatHandler creates a new start-chat handler
func NewStartChatHandler(starter ChatStarter, instanceID, contactFlowID string) *StartChatHandler {
	return &StartChatHandler{
		starter:       starter,
		instanceID:    instanceID,
		contactFlowID: contactFlowID,
	}
}

type startChatError struct {
	Error string `json:"error"`
}

type startChatData struct {
	Data *dto.StartChatResult `json:"data"`
}

// StartChat handles POST /start-chat
func (h *StartChatHandler) StartChat(w http.ResponseWriter, r *http.Request) {
	var req dto.StartChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, startChatError{Error: "invalid JSON body"})
		return
	}
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	if req.CustomerName == "" {
		writeJSON(w, http.StatusBadRequest, startChatError{Error: "customerName is required"})
		return
	}

	result, err := h.starter.StartChat(r.Context(), h.instanceID, h.contactFlowID, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
		slog.Error("Start chat failed",
			"error", err,
			"status", status,
		)
		writeJSON(w, status, startChatError{Error: "failed to start chat"})
		return
	}

	slog.Info("💬 Chat started",
		"contact_id", result.ContactID,
		"participant_id", result.ParticipantID,
	)
	writeJSON(w, http.StatusOK, startChatData{Data: result})
}
