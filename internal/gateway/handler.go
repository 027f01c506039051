package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// forwardedResponseHeaders are copied back to the client. Set-Cookie issues the session.
var forwardedResponseHeaders = []string{"Content-Type", "Set-Cookie", "Location"}

type Handler struct {
	shopProxy *ServiceProxy
	mailProxy *ServiceProxy
	logger    *slog.Logger
}

func NewHandler(shopProxy, mailProxy *ServiceProxy, logger *slog.Logger) *Handler {
	return &Handler{
		shopProxy: shopProxy,
		mailProxy: mailProxy,
		logger:    logger,
	}
}

func (h *Handler) HandleShop(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.shopProxy, r.URL.Path)
}

// HandleMail exposes the email service outbox under /mail.
func (h *Handler) HandleMail(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/mail")
	h.proxyRequest(w, r, h.mailProxy, path)
}

func (h *Handler) proxyRequest(w http.ResponseWriter, r *http.Request, proxy *ServiceProxy, path string) {
	resp, err := proxy.ForwardRequest(r.Context(), r, path)
	if err != nil {
		h.logger.Error("failed to forward request", "error", err, "path", path)
		h.writeError(w, http.StatusBadGateway, "service unavailable")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	for _, name := range forwardedResponseHeaders {
		for _, v := range resp.Header.Values(name) {
			w.Header().Add(name, v)
		}
	}

	w.WriteHeader(resp.StatusCode)

	h.logger.Info("request proxied", "method", r.Method, "path", path, "status", resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Error("failed to copy response body", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		h.logger.Error("failed to encode error response", "error", err)
	}
}
