package domain

import "unicode/utf8"

// avgCharsPerToken is the rough character-to-token ratio for English text.
// The upstream reports no token accounting, so usage is an estimate.
const avgCharsPerToken = 4

// EstimateUsage estimates token usage for a completed turn from the
// request messages and the aggregated completion text.
func EstimateUsage(req *ChatRequest, completion string) Usage {
	prompt := 0
	for _, msg := range req.Messages {
		prompt += estimateTokens(msg.Content)
	}

	out := estimateTokens(completion)

	return Usage{
		PromptTokens:     prompt,
		CompletionTokens: out,
		TotalTokens:      prompt + out,
	}
}

func estimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}

	tokens := n / avgCharsPerToken
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}
