package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sonarbridge/sonarbridge/internal/domain"
)

func TestChatRequest_Prompt(t *testing.T) {
	t.Run("should send single message as-is on fresh thread", func(t *testing.T) {
		req := &domain.ChatRequest{Messages: []domain.Message{
			{Role: domain.RoleUser, Content: "hello"},
		}}

		require.Equal(t, "hello", req.Prompt(false))
	})

	t.Run("should flatten history on fresh thread", func(t *testing.T) {
		req := &domain.ChatRequest{Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "be brief"},
			{Role: domain.RoleUser, Content: "hello"},
		}}

		require.Equal(t, "system: be brief\n\nuser: hello", req.Prompt(false))
	})

	t.Run("should send only latest user message on continued thread", func(t *testing.T) {
		req := &domain.ChatRequest{Messages: []domain.Message{
			{Role: domain.RoleUser, Content: "hello"},
			{Role: domain.RoleAssistant, Content: "hi"},
			{Role: domain.RoleUser, Content: "follow up"},
		}}

		require.Equal(t, "follow up", req.Prompt(true))
	})

	t.Run("should fall back to flattened history when continuation has no user message", func(t *testing.T) {
		req := &domain.ChatRequest{Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "be brief"},
			{Role: domain.RoleAssistant, Content: "ok"},
		}}

		require.Equal(t, "system: be brief\n\nassistant: ok", req.Prompt(true))
	})
}

func TestEstimateUsage(t *testing.T) {
	t.Run("should count prompt and completion tokens", func(t *testing.T) {
		req := &domain.ChatRequest{Messages: []domain.Message{
			{Role: domain.RoleUser, Content: "what is the capital of France"},
		}}

		usage := domain.EstimateUsage(req, "The capital of France is Paris.")

		require.Positive(t, usage.PromptTokens)
		require.Positive(t, usage.CompletionTokens)
		require.Equal(t, usage.PromptTokens+usage.CompletionTokens, usage.TotalTokens)
	})

	t.Run("should count short non-empty text as at least one token", func(t *testing.T) {
		req := &domain.ChatRequest{Messages: []domain.Message{
			{Role: domain.RoleUser, Content: "hi"},
		}}

		usage := domain.EstimateUsage(req, "ok")

		require.Equal(t, 1, usage.PromptTokens)
		require.Equal(t, 1, usage.CompletionTokens)
	})

	t.Run("should count empty completion as zero tokens", func(t *testing.T) {
		req := &domain.ChatRequest{Messages: []domain.Message{
			{Role: domain.RoleUser, Content: "hi"},
		}}

		usage := domain.EstimateUsage(req, "")
		require.Zero(t, usage.CompletionTokens)
	})
}

func TestSession(t *testing.T) {
	t.Run("should keep first bound thread handle until rebound", func(t *testing.T) {
		session := domain.NewSession("conv-1", time.Now())

		require.Empty(t, session.ThreadRef())

		session.BindThread("thread-a")
		require.Equal(t, "thread-a", session.ThreadRef())

		session.BindThread("")
		require.Equal(t, "thread-a", session.ThreadRef())

		session.BindThread("thread-b")
		require.Equal(t, "thread-b", session.ThreadRef())
	})
}
