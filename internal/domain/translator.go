package domain

import (
	"context"
	"strings"

	"github.com/sonarbridge/sonarbridge/internal/observability"
)

// TurnMeta carries the identifying fields stamped on every chunk of a turn.
type TurnMeta struct {
	ID             string
	Created        int64
	Model          string
	ConversationID string
}

// Translator reshapes the upstream raw event sequence of one turn into
// OpenAI-compatible output. Emission order is preserved; deltas are never
// reordered or coalesced.
type Translator struct{}

// NewTranslator creates a translator.
func NewTranslator() *Translator {
	return &Translator{}
}

// Stream converts raw events into completion chunks as they arrive.
// Exactly one emitted chunk carries a non-nil finish reason and it is the
// last one: EventDone maps to its normalized reason, EventError and an
// upstream sequence that ends without a terminal event both map to
// FinishError. The returned channel is closed after the terminal chunk.
func (t *Translator) Stream(ctx context.Context, meta TurnMeta, events <-chan RawEvent) <-chan ChatCompletionChunk {
	out := make(chan ChatCompletionChunk)

	go func() {
		defer close(out)

		logger := observability.FromContext(ctx)
		model := meta.Model
		first := true
		terminal := false

		emit := func(chunk ChatCompletionChunk) bool {
			select {
			case out <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for ev := range events {
			switch ev.Type {
			case EventTextDelta:
				delta := Delta{Content: ev.Text}
				if first {
					delta.Role = RoleAssistant
					first = false
				}
				if !emit(t.chunk(meta, model, delta, nil)) {
					return
				}

			case EventModelSelected:
				if ev.ModelID != "" {
					model = ev.ModelID
				}

			case EventThreadRef:
				// Bound further up by the gateway; nothing to emit.

			case EventDone:
				reason := normalizeFinish(ev.Reason)
				emit(t.chunk(meta, model, Delta{}, &reason))
				terminal = true
				return

			case EventError:
				logger.Error("upstream turn failed mid-stream",
					observability.String("detail", ev.Detail))
				reason := FinishError
				emit(t.chunk(meta, model, Delta{}, &reason))
				terminal = true
				return
			}
		}

		if !terminal && ctx.Err() == nil {
			// Upstream closed without a terminal event.
			logger.Warn("upstream event sequence ended without terminal event")
			reason := FinishError
			emit(t.chunk(meta, model, Delta{}, &reason))
		}
	}()

	return out
}

// Collect buffers the full raw event sequence and returns one aggregated
// completion whose content is the in-order concatenation of all text
// deltas. An EventError surfaces as *TranslationError; any chunks already
// emitted do not exist in this mode, so the caller gets a plain error.
func (t *Translator) Collect(ctx context.Context, meta TurnMeta, events <-chan RawEvent) (*ChatCompletion, error) {
	var content strings.Builder

	model := meta.Model
	reason := FinishStop
	terminal := false

	for ev := range events {
		switch ev.Type {
		case EventTextDelta:
			content.WriteString(ev.Text)

		case EventModelSelected:
			if ev.ModelID != "" {
				model = ev.ModelID
			}

		case EventThreadRef:
			// Bound further up by the gateway.

		case EventDone:
			reason = normalizeFinish(ev.Reason)
			terminal = true

		case EventError:
			return nil, &TranslationError{Detail: ev.Detail}
		}

		if terminal {
			break
		}
	}

	// A turn that reached its terminal event is complete even if the
	// context expired while it was being drained.
	if !terminal {
		if ctx.Err() != nil {
			return nil, ErrUpstreamUnavailable
		}
		return nil, &TranslationError{Detail: "event sequence ended without terminal event"}
	}

	return &ChatCompletion{
		ID:      meta.ID,
		Object:  ObjectChatCompletion,
		Created: meta.Created,
		Model:   model,
		Choices: []CompletionChoice{{
			Index:        0,
			Message:      Message{Role: RoleAssistant, Content: content.String()},
			FinishReason: reason,
		}},
		ConversationID: meta.ConversationID,
	}, nil
}

func (t *Translator) chunk(meta TurnMeta, model string, delta Delta, reason *FinishReason) ChatCompletionChunk {
	return ChatCompletionChunk{
		ID:      meta.ID,
		Object:  ObjectChatCompletionChunk,
		Created: meta.Created,
		Model:   model,
		Choices: []ChunkChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: reason,
		}},
		ConversationID: meta.ConversationID,
	}
}

func normalizeFinish(reason FinishReason) FinishReason {
	switch reason {
	case FinishStop, FinishLength, FinishError:
		return reason
	default:
		return FinishStop
	}
}
