package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sonarbridge/sonarbridge/internal/domain"
	"github.com/sonarbridge/sonarbridge/internal/observability"
	"github.com/sonarbridge/sonarbridge/internal/telemetry"
)

// Handler handles HTTP requests.
type Handler struct {
	gateway  *domain.GatewayService
	registry domain.ModelRegistry
	store    domain.ConversationStore
	metrics  *telemetry.Metrics
}

// NewHandler creates a new HTTP handler (DI constructor).
func NewHandler(
	gateway *domain.GatewayService,
	registry domain.ModelRegistry,
	store domain.ConversationStore,
	metrics *telemetry.Metrics,
) *Handler {
	return &Handler{
		gateway:  gateway,
		registry: registry,
		store:    store,
		metrics:  metrics,
	}
}

// HandleChatCompletion processes chat completion requests.
func (h *Handler) HandleChatCompletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
		return
	}

	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", fmt.Sprintf("invalid request body: %v", err))
		return
	}

	clientKey := clientKey(r)
	ctx = observability.WithClientKey(ctx, observability.ClientKeyFingerprint(clientKey))
	ctx = observability.WithModel(ctx, req.Model)
	if req.ConversationID != "" {
		ctx = observability.WithConversationID(ctx, req.ConversationID)
	}

	logger := observability.FromContext(ctx)
	logger.Info("chat completion request received",
		zap.String("model", req.Model),
		zap.Bool("stream", req.Stream),
		zap.Int("messages", len(req.Messages)),
	)

	if req.Stream {
		h.handleStream(ctx, w, clientKey, &req)
		return
	}

	completion, err := h.gateway.Complete(ctx, clientKey, &req)
	if err != nil {
		logger.Error("completion failed", zap.Error(err))
		writeDomainError(w, err)
		return
	}

	logger.Info("completion succeeded",
		zap.String("conversation_id", completion.ConversationID),
		zap.Int("tokens", completion.Usage.TotalTokens),
	)

	writeJSON(w, http.StatusOK, completion)
}

func (h *Handler) handleStream(
	ctx context.Context,
	w http.ResponseWriter,
	clientKey string,
	req *domain.ChatRequest,
) {
	logger := observability.FromContext(ctx)

	chunks, err := h.gateway.Stream(ctx, clientKey, req)
	if err != nil {
		logger.Error("stream failed to start", zap.Error(err))
		writeDomainError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.Error("streaming not supported by response writer")
		writeError(w, http.StatusInternalServerError, "server_error", "streaming not supported")
		return
	}

	// Headers only after the turn opened: pre-stream failures above still
	// get a proper status code.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for chunk := range chunks {
		data, err := json.Marshal(chunk)
		if err != nil {
			logger.Error("failed to marshal chunk", zap.Error(err))
			break
		}

		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
	logger.Info("stream completed")
}

// HandleListModels serves the cached model catalog.
func (h *Handler) HandleListModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
		return
	}

	models, err := h.registry.List(r.Context())
	if err != nil {
		observability.FromContext(r.Context()).Error("model listing failed", zap.Error(err))
		writeDomainError(w, err)
		return
	}

	data := make([]modelEntry, 0, len(models))
	for _, m := range models {
		data = append(data, modelEntry{
			ModelDescriptor: m,
			Object:          "model",
			OwnedBy:         m.Provider,
		})
	}

	writeJSON(w, http.StatusOK, listResponse[modelEntry]{Object: "list", Data: data})
}

// HandleRefreshModels forces a catalog refresh.
func (h *Handler) HandleRefreshModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
		return
	}

	count, err := h.registry.Refresh(r.Context())
	if err != nil {
		observability.FromContext(r.Context()).Error("catalog refresh failed", zap.Error(err))
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

// HandleListConversations serves the session introspection list.
func (h *Handler) HandleListConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
		return
	}

	infos := h.store.List(r.Context())
	writeJSON(w, http.StatusOK, listResponse[domain.SessionInfo]{Object: "list", Data: infos})
}

// HandleStats serves process-wide counters.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
		return
	}

	writeJSON(w, http.StatusOK, h.metrics.Snapshot())
}

// HandleHealth handles health check requests.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type listResponse[T any] struct {
	Object string `json:"object"`
	Data   []T    `json:"data"`
}

type modelEntry struct {
	domain.ModelDescriptor
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

// errorResponse is the OpenAI error envelope.
type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// clientKey derives the rate-limit identity: the inbound API key when
// present, else the network origin.
func clientKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok && token != "" {
			return token
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeDomainError maps the gateway error taxonomy to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var rateErr *domain.RateLimitError
	var translationErr *domain.TranslationError

	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())

	case errors.Is(err, domain.ErrUnknownModel):
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())

	case errors.As(err, &rateErr):
		seconds := int(rateErr.RetryAfter.Round(time.Second).Seconds())
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		writeError(w, http.StatusTooManyRequests, "rate_limit_error", rateErr.Error())

	case errors.Is(err, domain.ErrUpstreamAuth):
		writeErrorCode(w, http.StatusBadGateway, "server_error", "upstream_auth", err.Error())

	case errors.Is(err, domain.ErrUpstreamUnavailable):
		writeErrorCode(w, http.StatusBadGateway, "server_error", "upstream_unavailable", err.Error())

	case errors.Is(err, domain.ErrUpstreamProtocol), errors.As(err, &translationErr):
		writeErrorCode(w, http.StatusBadGateway, "server_error", "upstream_protocol", err.Error())

	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeErrorCode(w, status, errType, "", message)
}

func writeErrorCode(w http.ResponseWriter, status int, errType, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorDetail{
		Message: message,
		Type:    errType,
		Code:    code,
	}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
