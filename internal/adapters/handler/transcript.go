package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"connect-chat/internal/core/domain"
	"connect-chat/internal/core/services"
)

// SessionService is the slice of the session manager the HTTP layer drives
type SessionService interface {
	Open(p services.OpenParams) (domain.Snapshot, error)
	Ingest(ctx context.Context, sessionID string, raw []json.RawMessage) (domain.Snapshot, error)
	Send(ctx context.Context, sessionID string, kind domain.ItemKind, content domain.Content) (domain.NormalizedItem, error)
	Retry(ctx context.Context, sessionID, itemID string) (domain.NormalizedItem, error)
	LoadPrevious(ctx context.Context, sessionID string) (domain.Snapshot, error)
	SetConnectivity(sessionID string, c domain.Connectivity, reason string) (domain.Snapshot, error)
	End(ctx context.Context, sessionID string) (domain.Snapshot, error)
	Snapshot(sessionID string) (domain.Snapshot, error)
}

// TranscriptHandler exposes session operations over HTTP
type TranscriptHandler struct {
	sessions SessionService
}

// NewTranscriptHandler creates a new transcript handler
func NewTranscriptHandler(sessions SessionService) *TranscriptHandler {
	return &TranscriptHandler{sessions: sessions}
}

// OpenRequest is the body of POST /api/sessions/{id}
type OpenRequest struct {
	ParticipantID   string `json:"participantId"`
	ConnectionToken string `json:"connectionToken"`
	DisplayName     string `json:"displayName"`
	Online          *bool  `json:"online,omitempty"`
}

// SendRequest is the body of POST /api/sessions/{id}/messages
type SendRequest struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// ConnectivityRequest is the body of PUT /api/sessions/{id}/connectivity
type ConnectivityRequest struct {
	Online bool   `json:"online"`
	Reason string `json:"reason"`
}

// Open handles POST /api/sessions/{id}
func (h *TranscriptHandler) Open(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var req OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, BadRequestResponse("Invalid JSON body"))
		return
	}

	params := services.OpenParams{
		SessionID:       sessionID,
		ParticipantID:   req.ParticipantID,
		ConnectionToken: req.ConnectionToken,
		DisplayName:     req.DisplayName,
	}
	if req.Online != nil {
		params.Connectivity = connectivityOf(*req.Online)
	}

	snap, err := h.sessions.Open(params)
	if err != nil {
		writeError(w, err, "Failed to open session", "session_id", sessionID)
		return
	}
	writeJSON(w, http.StatusOK, NewSuccessResponse(snap))
}

// Ingest handles POST /api/sessions/{id}/events with a JSON array of raw items
func (h *TranscriptHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var raw []json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSON(w, http.StatusBadRequest, BadRequestResponse("Body must be a JSON array of transcript items"))
		return
	}

	snap, err := h.sessions.Ingest(r.Context(), sessionID, raw)
	if err != nil {
		writeError(w, err, "Failed to ingest items", "session_id", sessionID)
		return
	}
	writeJSON(w, http.StatusOK, NewSuccessResponse(snap))
}

// Send handles POST /api/sessions/{id}/messages.
// A failed delivery still answers 200; the item carries SendFailed.
func (h *TranscriptHandler) Send(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, BadRequestResponse("Invalid JSON body"))
		return
	}
	if req.ContentType == "" {
		req.ContentType = domain.ContentTypePlainText
	}

	kind, ok := domain.KindForContentType(req.ContentType)
	if !ok {
		writeJSON(w, http.StatusBadRequest, BadRequestResponse("Unsupported content type: "+req.ContentType))
		return
	}
	if kind == domain.KindMessage && strings.TrimSpace(req.Content) == "" {
		writeJSON(w, http.StatusBadRequest, BadRequestResponse("Message content must not be empty"))
		return
	}

	item, err := h.sessions.Send(r.Context(), sessionID, kind, domain.Content{
		Data: req.Content,
		Type: req.ContentType,
	})
	if err != nil {
		writeError(w, err, "Failed to send item", "session_id", sessionID)
		return
	}
	writeJSON(w, http.StatusOK, NewSuccessResponse(item))
}

// Retry handles POST /api/sessions/{id}/messages/{itemId}/retry
func (h *TranscriptHandler) Retry(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	itemID := chi.URLParam(r, "itemId")

	item, err := h.sessions.Retry(r.Context(), sessionID, itemID)
	if err != nil {
		writeError(w, err, "Failed to retry item", "session_id", sessionID, "item_id", itemID)
		return
	}
	writeJSON(w, http.StatusOK, NewSuccessResponse(item))
}

// LoadPrevious handles POST /api/sessions/{id}/history
func (h *TranscriptHandler) LoadPrevious(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	snap, err := h.sessions.LoadPrevious(r.Context(), sessionID)
	if err != nil {
		writeError(w, err, "Failed to load previous transcript page", "session_id", sessionID)
		return
	}
	writeJSON(w, http.StatusOK, NewSuccessResponse(snap))
}

// SetConnectivity handles PUT /api/sessions/{id}/connectivity
func (h *TranscriptHandler) SetConnectivity(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var req ConnectivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, BadRequestResponse("Invalid JSON body"))
		return
	}
	if req.Reason == "" {
		req.Reason = "client reported"
	}

	snap, err := h.sessions.SetConnectivity(sessionID, connectivityOf(req.Online), req.Reason)
	if err != nil {
		writeError(w, err, "Failed to update connectivity", "session_id", sessionID)
		return
	}
	writeJSON(w, http.StatusOK, NewSuccessResponse(snap))
}

// Get handles GET /api/sessions/{id}
func (h *TranscriptHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	snap, err := h.sessions.Snapshot(sessionID)
	if err != nil {
		writeError(w, err, "Failed to read session", "session_id", sessionID)
		return
	}
	writeJSON(w, http.StatusOK, NewSuccessResponse(snap))
}

// End handles DELETE /api/sessions/{id}
func (h *TranscriptHandler) End(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	snap, err := h.sessions.End(r.Context(), sessionID)
	if err != nil {
		writeError(w, err, "Failed to end session", "session_id", sessionID)
		return
	}
	writeJSON(w, http.StatusOK, NewSuccessResponse(snap))
}

func connectivityOf(online bool) domain.Connectivity {
	if online {
		return domain.ConnectivityOnline
	}
	return domain.ConnectivityOffline
}
