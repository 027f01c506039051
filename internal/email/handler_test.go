package email

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newHandler() *Handler {
	return NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHandler_HandleSend(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"valid message", `{"to":"alice@example.com","subject":"Order Confirmation #1","body":"hi"}`, http.StatusOK},
		{"invalid json", `{`, http.StatusBadRequest},
		{"bad recipient", `{"to":"alice","subject":"s"}`, http.StatusBadRequest},
		{"missing subject", `{"to":"alice@example.com","subject":"  "}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandler()
			req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			h.HandleSend(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandler_Outbox(t *testing.T) {
	h := newHandler()
	h.limit = 2

	for _, subject := range []string{"one", "two", "three"} {
		body := `{"to":"alice@example.com","subject":"` + subject + `"}`
		rec := httptest.NewRecorder()
		h.HandleSend(rec, httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(body)))
		if rec.Code != http.StatusOK {
			t.Fatalf("send %s: status %d", subject, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	h.HandleList(rec, httptest.NewRequest(http.MethodGet, "/messages", nil))

	var messages []SentMessage
	if err := json.NewDecoder(rec.Body).Decode(&messages); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(messages) != 2 || messages[0].Subject != "three" || messages[1].Subject != "two" {
		t.Fatalf("unexpected outbox: %+v", messages)
	}
}
