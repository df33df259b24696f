package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sonarbridge/sonarbridge/internal/observability"
)

// MetricsRecorder counts gateway-level events for the stats endpoints.
type MetricsRecorder interface {
	IncRequests()
	IncRateLimitRejections()
	IncUpstreamErrors()
}

// GatewayService orchestrates one request end to end: admission, session
// resolution, model resolution, the upstream turn, and translation.
type GatewayService struct {
	upstream    UpstreamClient
	registry    ModelRegistry
	store       ConversationStore
	limiter     RateLimiter
	translator  *Translator
	metrics     MetricsRecorder
	turnTimeout time.Duration
}

// NewGatewayService creates a new gateway service (DI constructor).
func NewGatewayService(
	upstream UpstreamClient,
	registry ModelRegistry,
	store ConversationStore,
	limiter RateLimiter,
	metrics MetricsRecorder,
	turnTimeout time.Duration,
) *GatewayService {
	if turnTimeout <= 0 {
		turnTimeout = 3 * time.Minute
	}

	return &GatewayService{
		upstream:    upstream,
		registry:    registry,
		store:       store,
		limiter:     limiter,
		translator:  NewTranslator(),
		metrics:     metrics,
		turnTimeout: turnTimeout,
	}
}

// Complete handles a non-streaming chat request and returns one aggregated
// completion.
func (g *GatewayService) Complete(ctx context.Context, clientKey string, req *ChatRequest) (*ChatCompletion, error) {
	turn, err := g.openTurn(ctx, clientKey, req)
	if err != nil {
		return nil, err
	}
	defer turn.cancel()

	completion, err := g.translator.Collect(turn.ctx, turn.meta, turn.events)
	if err != nil {
		var translationErr *TranslationError
		if errors.As(err, &translationErr) && g.metrics != nil {
			g.metrics.IncUpstreamErrors()
		}
		return nil, err
	}

	completion.Usage = EstimateUsage(req, completion.Choices[0].Message.Content)
	completion.ConversationID = turn.session.ID
	return completion, nil
}

// Stream handles a streaming chat request. Once the returned channel has
// produced its first chunk, failures surface as a terminal error chunk
// inside the stream, never as an out-of-band error.
func (g *GatewayService) Stream(ctx context.Context, clientKey string, req *ChatRequest) (<-chan ChatCompletionChunk, error) {
	turn, err := g.openTurn(ctx, clientKey, req)
	if err != nil {
		return nil, err
	}

	// The translator reads against the caller's context: if the turn times
	// out the producer closes the event channel and the translator still
	// emits the in-stream terminal error chunk.
	chunks := g.translator.Stream(ctx, turn.meta, turn.events)

	// Release the turn context once the translated stream is drained so
	// the upstream connection is not held past the last chunk. If the
	// caller disconnects, ctx cancels the in-flight turn instead.
	out := make(chan ChatCompletionChunk)
	go func() {
		defer close(out)
		defer turn.cancel()

		for chunk := range chunks {
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// openedTurn is the result of the shared front half of a request.
type openedTurn struct {
	session *Session
	meta    TurnMeta
	events  <-chan RawEvent
	ctx     context.Context
	cancel  context.CancelFunc
}

// openTurn runs the shared front half of the request state machine:
// validate, admit, resolve session, resolve model, dispatch upstream.
func (g *GatewayService) openTurn(ctx context.Context, clientKey string, req *ChatRequest) (*openedTurn, error) {
	if g.metrics != nil {
		g.metrics.IncRequests()
	}

	if err := validateRequest(req); err != nil {
		return nil, err
	}

	decision := g.limiter.Admit(ctx, clientKey, time.Now())
	if !decision.Allowed {
		if g.metrics != nil {
			g.metrics.IncRateLimitRejections()
		}
		return nil, &RateLimitError{RetryAfter: decision.RetryAfter}
	}

	session, err := g.store.Resolve(ctx, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve conversation: %w", err)
	}

	model, err := g.registry.Resolve(ctx, req.Model)
	if err != nil {
		return nil, err
	}

	logger := observability.FromContext(ctx)
	logger.Info("dispatching upstream turn",
		observability.String("conversation_id", session.ID),
		observability.String("model", model.ID),
		observability.Bool("continuation", session.ThreadRef() != ""),
	)

	turnCtx, cancel := context.WithTimeout(ctx, g.turnTimeout)

	threadRef := session.ThreadRef()
	events, err := g.upstream.OpenTurn(turnCtx, TurnRequest{
		ThreadRef: threadRef,
		ModelID:   model.ID,
		Query:     req.Prompt(threadRef != ""),
	})
	if err != nil {
		cancel()
		if g.metrics != nil {
			g.metrics.IncUpstreamErrors()
		}
		return nil, err
	}

	return &openedTurn{
		session: session,
		meta: TurnMeta{
			ID:             "chatcmpl-" + uuid.NewString(),
			Created:        time.Now().Unix(),
			Model:          model.ID,
			ConversationID: session.ID,
		},
		events: g.bindThread(turnCtx, session, events),
		ctx:    turnCtx,
		cancel: cancel,
	}, nil
}

// bindThread intercepts thread-handle events and records them on the
// session; all other events pass through unchanged and in order. Session
// mutation stays here so the translator remains pure. The send honors
// ctx so the pipeline exits when the consumer stops reading.
func (g *GatewayService) bindThread(ctx context.Context, session *Session, in <-chan RawEvent) <-chan RawEvent {
	out := make(chan RawEvent)

	go func() {
		defer close(out)
		for ev := range in {
			if ev.Type == EventThreadRef {
				session.BindThread(ev.ThreadRef)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func validateRequest(req *ChatRequest) error {
	if req == nil {
		return fmt.Errorf("%w: request cannot be nil", ErrInvalidRequest)
	}

	if len(req.Messages) == 0 {
		return fmt.Errorf("%w: messages cannot be empty", ErrInvalidRequest)
	}

	for i, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("%w: message %d has invalid role %q", ErrInvalidRequest, i, msg.Role)
		}
	}

	return nil
}
