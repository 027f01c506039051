// Package email is a stand-in mail server. Messages are validated, logged and kept in a
// small in-memory outbox.
package email

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"sync"
	"time"
)

const defaultOutboxSize = 100

type Handler struct {
	logger *slog.Logger

	mu     sync.Mutex
	outbox []SentMessage
	limit  int
	now    func() time.Time
}

func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{
		logger: logger,
		limit:  defaultOutboxSize,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type sendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type sendResponse struct {
	Status string `json:"status"`
}

type SentMessage struct {
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := mail.ParseAddress(req.To); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid recipient address")
		return
	}
	if strings.TrimSpace(req.Subject) == "" {
		h.writeError(w, http.StatusBadRequest, "subject is required")
		return
	}

	h.record(SentMessage{To: req.To, Subject: req.Subject, Body: req.Body, SentAt: h.now()})

	h.logger.Info("email sent", "to", req.To, "subject", req.Subject)
	h.writeJSON(w, http.StatusOK, sendResponse{Status: "sent"})
}

// HandleList returns the outbox, newest first.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	messages := make([]SentMessage, 0, len(h.outbox))
	for i := len(h.outbox) - 1; i >= 0; i-- {
		messages = append(messages, h.outbox[i])
	}
	h.mu.Unlock()

	h.writeJSON(w, http.StatusOK, messages)
}

func (h *Handler) record(msg SentMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outbox = append(h.outbox, msg)
	if len(h.outbox) > h.limit {
		h.outbox = h.outbox[len(h.outbox)-h.limit:]
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
