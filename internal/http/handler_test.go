package http_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sonarbridge/sonarbridge/internal/conversation"
	"github.com/sonarbridge/sonarbridge/internal/domain"
	sonarhttp "github.com/sonarbridge/sonarbridge/internal/http"
	"github.com/sonarbridge/sonarbridge/internal/ratelimit"
	"github.com/sonarbridge/sonarbridge/internal/registry"
	"github.com/sonarbridge/sonarbridge/internal/telemetry"
)

type stubUpstream struct {
	events []domain.RawEvent
	err    error
}

func (s *stubUpstream) OpenTurn(context.Context, domain.TurnRequest) (<-chan domain.RawEvent, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan domain.RawEvent, len(s.events))
	for _, ev := range s.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

type stubFetcher struct {
	models []domain.ModelDescriptor
	err    error
}

func (s *stubFetcher) FetchModels(context.Context) ([]domain.ModelDescriptor, error) {
	return s.models, s.err
}

type fixture struct {
	handler *sonarhttp.Handler
	store   *conversation.Store
	metrics *telemetry.Metrics
}

func newFixture(t *testing.T, upstream *stubUpstream, limiter domain.RateLimiter) *fixture {
	t.Helper()

	store := conversation.NewStore(time.Hour)
	reg := registry.NewRegistry(&stubFetcher{models: []domain.ModelDescriptor{
		{ID: "pplx_pro", DisplayName: "Perplexity Pro (Auto)", Provider: "Perplexity"},
		{ID: "claude45sonnet", DisplayName: "Claude 4.5 Sonnet", Provider: "Anthropic"},
	}}, "pplx_pro")
	metrics := telemetry.NewMetrics(store.Len)

	gateway := domain.NewGatewayService(upstream, reg, store, limiter, metrics, time.Minute)
	return &fixture{
		handler: sonarhttp.NewHandler(gateway, reg, store, metrics),
		store:   store,
		metrics: metrics,
	}
}

func happyUpstream() *stubUpstream {
	return &stubUpstream{events: []domain.RawEvent{
		{Type: domain.EventThreadRef, ThreadRef: "thread-abc"},
		{Type: domain.EventTextDelta, Text: "Hi"},
		{Type: domain.EventTextDelta, Text: " there"},
		{Type: domain.EventDone, Reason: domain.FinishStop},
	}}
}

func postCompletion(t *testing.T, handler http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestHandler_HandleChatCompletion(t *testing.T) {
	t.Run("should return aggregated completion for non-streaming request", func(t *testing.T) {
		f := newFixture(t, happyUpstream(), ratelimit.NewNoop())

		rec := postCompletion(t, f.handler.HandleChatCompletion,
			`{"model":"pplx_pro","messages":[{"role":"user","content":"hello"}]}`)

		require.Equal(t, http.StatusOK, rec.Code)

		var completion domain.ChatCompletion
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &completion))
		require.Equal(t, "chat.completion", completion.Object)
		require.Equal(t, "Hi there", completion.Choices[0].Message.Content)
		require.Equal(t, domain.FinishStop, completion.Choices[0].FinishReason)
		require.NotEmpty(t, completion.ConversationID)
		require.True(t, strings.HasPrefix(completion.ID, "chatcmpl-"))
	})

	t.Run("should stream chunks as server-sent events", func(t *testing.T) {
		f := newFixture(t, happyUpstream(), ratelimit.NewNoop())

		rec := postCompletion(t, f.handler.HandleChatCompletion,
			`{"model":"pplx_pro","stream":true,"messages":[{"role":"user","content":"hello"}]}`)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

		var payloads []string
		scanner := bufio.NewScanner(rec.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "data: ") {
				payloads = append(payloads, strings.TrimPrefix(line, "data: "))
			}
		}

		require.Equal(t, "[DONE]", payloads[len(payloads)-1])

		finish := 0
		var content strings.Builder
		for _, payload := range payloads[:len(payloads)-1] {
			var chunk domain.ChatCompletionChunk
			require.NoError(t, json.Unmarshal([]byte(payload), &chunk))
			require.Equal(t, "chat.completion.chunk", chunk.Object)
			content.WriteString(chunk.Choices[0].Delta.Content)
			if chunk.Choices[0].FinishReason != nil {
				finish++
			}
		}
		require.Equal(t, "Hi there", content.String())
		require.Equal(t, 1, finish)
	})

	t.Run("should reuse conversation across requests", func(t *testing.T) {
		f := newFixture(t, happyUpstream(), ratelimit.NewNoop())

		rec := postCompletion(t, f.handler.HandleChatCompletion,
			`{"model":"pplx_pro","conversation_id":"conv-1","messages":[{"role":"user","content":"hello"}]}`)
		require.Equal(t, http.StatusOK, rec.Code)

		session, err := f.store.Resolve(context.Background(), "conv-1")
		require.NoError(t, err)
		require.Equal(t, "thread-abc", session.ThreadRef())
	})

	t.Run("should return 400 for malformed body", func(t *testing.T) {
		f := newFixture(t, happyUpstream(), ratelimit.NewNoop())

		rec := postCompletion(t, f.handler.HandleChatCompletion, `{not json`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, rec.Body.String(), "invalid_request_error")
	})

	t.Run("should return 400 for empty messages", func(t *testing.T) {
		f := newFixture(t, happyUpstream(), ratelimit.NewNoop())

		rec := postCompletion(t, f.handler.HandleChatCompletion, `{"model":"pplx_pro","messages":[]}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("should return 429 with retry hint when rate limited", func(t *testing.T) {
		f := newFixture(t, happyUpstream(), ratelimit.NewMemory(1, time.Minute))

		body := `{"model":"pplx_pro","messages":[{"role":"user","content":"hello"}]}`
		require.Equal(t, http.StatusOK, postCompletion(t, f.handler.HandleChatCompletion, body).Code)

		rec := postCompletion(t, f.handler.HandleChatCompletion, body)
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		require.NotEmpty(t, rec.Header().Get("Retry-After"))
		require.Contains(t, rec.Body.String(), "rate_limit_error")
	})

	t.Run("should return 502 when upstream is unavailable", func(t *testing.T) {
		f := newFixture(t, &stubUpstream{err: domain.ErrUpstreamUnavailable}, ratelimit.NewNoop())

		rec := postCompletion(t, f.handler.HandleChatCompletion,
			`{"model":"pplx_pro","messages":[{"role":"user","content":"hello"}]}`)
		require.Equal(t, http.StatusBadGateway, rec.Code)
		require.Contains(t, rec.Body.String(), "upstream_unavailable")
	})

	t.Run("should return 502 when upstream auth is rejected", func(t *testing.T) {
		f := newFixture(t, &stubUpstream{err: domain.ErrUpstreamAuth}, ratelimit.NewNoop())

		rec := postCompletion(t, f.handler.HandleChatCompletion,
			`{"model":"pplx_pro","messages":[{"role":"user","content":"hello"}]}`)
		require.Equal(t, http.StatusBadGateway, rec.Code)
		require.Contains(t, rec.Body.String(), "upstream_auth")
	})

	t.Run("should reject non-POST methods", func(t *testing.T) {
		f := newFixture(t, happyUpstream(), ratelimit.NewNoop())

		req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
		rec := httptest.NewRecorder()
		f.handler.HandleChatCompletion(rec, req)
		require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestHandler_HandleListModels(t *testing.T) {
	t.Run("should list models in OpenAI list shape", func(t *testing.T) {
		f := newFixture(t, happyUpstream(), ratelimit.NewNoop())

		req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
		rec := httptest.NewRecorder()
		f.handler.HandleListModels(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Object string `json:"object"`
			Data   []struct {
				ID      string `json:"id"`
				Object  string `json:"object"`
				OwnedBy string `json:"owned_by"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, "list", resp.Object)
		require.Len(t, resp.Data, 2)
		for _, m := range resp.Data {
			require.Equal(t, "model", m.Object)
			require.NotEmpty(t, m.OwnedBy)
		}
	})
}

func TestHandler_HandleRefreshModels(t *testing.T) {
	t.Run("should return refreshed model count", func(t *testing.T) {
		f := newFixture(t, happyUpstream(), ratelimit.NewNoop())

		req := httptest.NewRequest(http.MethodPost, "/v1/models/refresh", nil)
		rec := httptest.NewRecorder()
		f.handler.HandleRefreshModels(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.JSONEq(t, `{"count":2}`, rec.Body.String())
	})

	t.Run("should reject non-POST methods", func(t *testing.T) {
		f := newFixture(t, happyUpstream(), ratelimit.NewNoop())

		req := httptest.NewRequest(http.MethodGet, "/v1/models/refresh", nil)
		rec := httptest.NewRecorder()
		f.handler.HandleRefreshModels(rec, req)
		require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestHandler_HandleListConversations(t *testing.T) {
	t.Run("should list live sessions without message content", func(t *testing.T) {
		f := newFixture(t, happyUpstream(), ratelimit.NewNoop())

		_, err := f.store.Resolve(context.Background(), "conv-1")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
		rec := httptest.NewRecorder()
		f.handler.HandleListConversations(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Object string               `json:"object"`
			Data   []domain.SessionInfo `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Data, 1)
		require.Equal(t, "conv-1", resp.Data[0].ID)
		require.NotContains(t, rec.Body.String(), "messages")
	})
}

func TestHandler_HandleStats(t *testing.T) {
	t.Run("should report request and session counters", func(t *testing.T) {
		f := newFixture(t, happyUpstream(), ratelimit.NewNoop())

		rec := postCompletion(t, f.handler.HandleChatCompletion,
			`{"model":"pplx_pro","messages":[{"role":"user","content":"hello"}]}`)
		require.Equal(t, http.StatusOK, rec.Code)

		req := httptest.NewRequest(http.MethodGet, "/stats", nil)
		statsRec := httptest.NewRecorder()
		f.handler.HandleStats(statsRec, req)

		require.Equal(t, http.StatusOK, statsRec.Code)

		var stats telemetry.Stats
		require.NoError(t, json.Unmarshal(statsRec.Body.Bytes(), &stats))
		require.Equal(t, int64(1), stats.RequestsServed)
		require.Equal(t, 1, stats.ActiveSessions)
	})

	t.Run("should reject non-GET methods", func(t *testing.T) {
		f := newFixture(t, happyUpstream(), ratelimit.NewNoop())

		req := httptest.NewRequest(http.MethodPost, "/stats", nil)
		rec := httptest.NewRecorder()
		f.handler.HandleStats(rec, req)
		require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestHandler_HandleHealth(t *testing.T) {
	t.Run("should report healthy", func(t *testing.T) {
		f := newFixture(t, happyUpstream(), ratelimit.NewNoop())

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		f.handler.HandleHealth(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
	})

	t.Run("should reject non-GET methods", func(t *testing.T) {
		f := newFixture(t, happyUpstream(), ratelimit.NewNoop())

		req := httptest.NewRequest(http.MethodPost, "/health", nil)
		rec := httptest.NewRecorder()
		f.handler.HandleHealth(rec, req)
		require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}
