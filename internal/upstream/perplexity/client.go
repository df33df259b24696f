// Package perplexity is the network boundary to the upstream web service.
// The wire shape is not a published API: payload fields were inferred from
// the browser client and may drift, so parsing is deliberately tolerant
// and every unparseable payload is surfaced rather than dropped.
package perplexity

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sonarbridge/sonarbridge/internal/domain"
	"github.com/sonarbridge/sonarbridge/internal/observability"
)

const (
	sessionCookieName = "__Secure-next-auth.session-token"
	askPath           = "/rest/sse/perplexity_ask"

	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

// Client holds the authenticated upstream session and issues turns
// against the upstream service. It mutates no shared state.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates an upstream client from config.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.SessionToken == "" {
		return nil, errors.New("upstream session token is not configured")
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   time.Duration(cfg.Timeout) * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: time.Duration(cfg.Timeout) * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &Client{
		cfg: *cfg,
		// No overall client timeout: turn streams outlive any sane
		// per-request deadline and are bounded by the caller's context.
		httpClient: &http.Client{Transport: transport},
	}, nil
}

// askPayload is the turn request body.
type askPayload struct {
	Query           string `json:"query_str"`
	ModelPreference string `json:"model_preference"`
	LastBackendUUID string `json:"last_backend_uuid,omitempty"`
	FrontendUUID    string `json:"frontend_uuid"`
	Source          string `json:"source"`
	Mode            string `json:"mode"`
}

// askEvent is one SSE data payload of a turn stream.
type askEvent struct {
	Output       string `json:"output"`
	DisplayModel string `json:"display_model"`
	BackendUUID  string `json:"backend_uuid"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Truncated    bool   `json:"truncated"`
}

// OpenTurn issues one conversational turn and returns its raw event
// sequence. One transparent retry is attempted on transient transport
// errors; authentication failures are never retried. The returned channel
// is closed by the reader goroutine; cancelling ctx aborts the stream and
// releases the connection.
func (c *Client) OpenTurn(ctx context.Context, turn domain.TurnRequest) (<-chan domain.RawEvent, error) {
	body, err := json.Marshal(askPayload{
		Query:           turn.Query,
		ModelPreference: turn.ModelID,
		LastBackendUUID: turn.ThreadRef,
		FrontendUUID:    uuid.NewString(),
		Source:          "default",
		Mode:            "copilot",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal turn payload: %w", err)
	}

	resp, err := c.openStream(ctx, body)
	if err != nil {
		return nil, err
	}

	events := make(chan domain.RawEvent)
	go c.readEvents(ctx, resp.Body, events)

	return events, nil
}

// openStream executes the turn request, retrying once on a transient
// transport failure.
func (c *Client) openStream(ctx context.Context, body []byte) (*http.Response, error) {
	logger := observability.FromContext(ctx)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		resp, retryable, err := c.tryOpenStream(ctx, body)
		if err == nil {
			return resp, nil
		}

		lastErr = err
		if !retryable || ctx.Err() != nil {
			return nil, err
		}

		logger.Warn("transient upstream failure, retrying turn", observability.Error(err))
	}

	return nil, lastErr
}

func (c *Client) tryOpenStream(ctx context.Context, body []byte) (*http.Response, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+askPath, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create turn request: %w", err)
	}

	c.applyHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, false, nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		drainAndClose(resp.Body)
		return nil, false, fmt.Errorf("%w: upstream returned status %d", domain.ErrUpstreamAuth, resp.StatusCode)

	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		drainAndClose(resp.Body)
		return nil, true, fmt.Errorf("%w: upstream returned status %d", domain.ErrUpstreamUnavailable, resp.StatusCode)

	default:
		drainAndClose(resp.Body)
		return nil, false, fmt.Errorf("%w: unexpected status %d", domain.ErrUpstreamProtocol, resp.StatusCode)
	}
}

// readEvents parses the SSE stream into raw events. The channel always
// ends with EventDone or EventError unless ctx is cancelled.
func (c *Client) readEvents(ctx context.Context, body io.ReadCloser, events chan<- domain.RawEvent) {
	defer close(events)
	defer body.Close()

	emit := func(ev domain.RawEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var (
		threadSent bool
		modelSent  bool
		terminal   bool
	)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var ev askEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			emit(domain.RawEvent{Type: domain.EventError, Detail: fmt.Sprintf("malformed upstream payload: %v", err)})
			return
		}

		if !threadSent && ev.BackendUUID != "" {
			threadSent = true
			if !emit(domain.RawEvent{Type: domain.EventThreadRef, ThreadRef: ev.BackendUUID}) {
				return
			}
		}

		if !modelSent && ev.DisplayModel != "" {
			modelSent = true
			if !emit(domain.RawEvent{Type: domain.EventModelSelected, ModelID: ev.DisplayModel}) {
				return
			}
		}

		if ev.Output != "" {
			if !emit(domain.RawEvent{Type: domain.EventTextDelta, Text: ev.Output}) {
				return
			}
		}

		switch ev.Status {
		case "failed":
			detail := ev.ErrorMessage
			if detail == "" {
				detail = "upstream reported failure"
			}
			emit(domain.RawEvent{Type: domain.EventError, Detail: detail})
			return

		case "completed":
			reason := domain.FinishStop
			if ev.Truncated {
				reason = domain.FinishLength
			}
			emit(domain.RawEvent{Type: domain.EventDone, Reason: reason})
			terminal = true
		}

		if terminal {
			return
		}
	}

	if ctx.Err() != nil {
		// Caller cancelled; nobody is listening for a terminal event.
		return
	}

	if err := scanner.Err(); err != nil {
		emit(domain.RawEvent{Type: domain.EventError, Detail: fmt.Sprintf("upstream stream broke: %v", err)})
		return
	}

	// Stream ended with [DONE] (or EOF) before a completed status.
	emit(domain.RawEvent{Type: domain.EventDone, Reason: domain.FinishStop})
}

// applyHeaders sets the session cookie and browser-shaped headers the
// upstream expects from its web client.
func (c *Client) applyHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("DNT", "1")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Origin", c.cfg.BaseURL)
	req.Header.Set("Referer", c.cfg.BaseURL+"/")
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: c.cfg.SessionToken})
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4*1024))
	_ = body.Close()
}
