package perplexity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/sonarbridge/sonarbridge/internal/domain"
	"github.com/sonarbridge/sonarbridge/internal/observability"
)

// The upstream publishes no model listing endpoint. The catalog is
// embedded in the web client: the landing page's __NEXT_DATA__ blob plus
// identifier patterns in inline scripts, with a couple of session
// endpoints as fallbacks and a built-in catalog as the last resort.

const (
	maxPageBytes     = 8 * 1024 * 1024
	maxSearchDepth   = 10
	minIdentifierLen = 3
)

var (
	nextDataPattern = regexp.MustCompile(`(?s)<script id="__NEXT_DATA__" type="application/json">(.*?)</script>`)

	identifierPatterns = []*regexp.Regexp{
		regexp.MustCompile(`"identifier"\s*:\s*"([a-z0-9_]+)"`),
		regexp.MustCompile(`"model"\s*:\s*"([a-z0-9_]+)"`),
		regexp.MustCompile(`(?i)modelId["']?\s*[:=]\s*["']([a-z0-9_]+)["']`),
	}

	validIDPrefixes = regexp.MustCompile(`(?i)^(pplx_|gpt\d|claude|gemini|grok|sonar|experimental|kimi|llama|mistral|deepseek)`)

	excludedIDPrefixes = regexp.MustCompile(`(?i)^(api_|user_|session|token|auth|config)`)
)

// displayNames maps known identifiers to human-readable names.
var displayNames = map[string]string{
	"pplx_beta":              "Perplexity Labs",
	"pplx_alpha":             "Perplexity Research",
	"pplx_pro":               "Perplexity Pro (Auto)",
	"experimental":           "Sonar",
	"gpt51":                  "GPT-5.1",
	"gpt52":                  "GPT-5.2",
	"gpt51_thinking":         "GPT-5.1 Thinking",
	"claude45sonnet":         "Claude 4.5 Sonnet",
	"claude45sonnetthinking": "Claude 4.5 Sonnet Thinking",
	"claudeopus45":           "Claude Opus 4.5",
	"gemini30pro":            "Gemini 3.0 Pro Thinking",
	"grok41nonreasoning":     "Grok 4.1",
	"kimik2thinking":         "Kimi K2 Thinking",
}

// FetchModels fetches the model catalog from upstream. Transport and
// authentication failures surface as errors so the registry can keep its
// previous cache; a reachable upstream that yields nothing extractable
// falls back to the built-in catalog.
func (c *Client) FetchModels(ctx context.Context) ([]domain.ModelDescriptor, error) {
	logger := observability.FromContext(ctx)

	page, err := c.fetchPage(ctx, "/")
	if err != nil {
		return nil, err
	}

	models := extractModelsFromHTML(page)

	if len(models) == 0 {
		logger.Info("no models found in page, trying session endpoints")
		models = c.fetchFromSettings(ctx)
	}

	if len(models) == 0 {
		logger.Warn("model discovery found nothing, using built-in catalog")
		models = DefaultCatalog()
	}

	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

func (c *Client) fetchPage(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create catalog request: %w", err)
	}

	c.applyHeaders(req)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: catalog fetch returned status %d", domain.ErrUpstreamAuth, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("%w: catalog fetch returned status %d", domain.ErrUpstreamUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}

	return string(body), nil
}

// extractModelsFromHTML harvests model identifiers from the page.
func extractModelsFromHTML(html string) []domain.ModelDescriptor {
	var models []domain.ModelDescriptor

	if m := nextDataPattern.FindStringSubmatch(html); m != nil {
		var data map[string]any
		if err := json.Unmarshal([]byte(m[1]), &data); err == nil {
			models = parseNextData(data)
		}
	}

	seen := make(map[string]bool, len(models))
	for _, m := range models {
		seen[m.ID] = true
	}

	for _, pattern := range identifierPatterns {
		for _, match := range pattern.FindAllStringSubmatch(html, -1) {
			id := strings.ToLower(match[1])
			if !seen[id] && isValidModelID(id) {
				seen[id] = true
				models = append(models, describeModel(id))
			}
		}
	}

	return models
}

// parseNextData recursively searches the __NEXT_DATA__ tree for objects
// that look like model definitions.
func parseNextData(data map[string]any) []domain.ModelDescriptor {
	var models []domain.ModelDescriptor
	seen := make(map[string]bool)

	var walk func(node map[string]any, depth int)
	walk = func(node map[string]any, depth int) {
		if depth > maxSearchDepth {
			return
		}

		id, _ := node["identifier"].(string)
		if id == "" {
			id, _ = node["modelId"].(string)
		}
		if id != "" && isValidModelID(id) && !seen[id] {
			seen[id] = true
			desc := describeModel(id)
			if name, ok := node["name"].(string); ok && name != "" {
				desc.DisplayName = name
			}
			if description, ok := node["description"].(string); ok {
				desc.Description = description
			}
			models = append(models, desc)
		}

		for _, value := range node {
			switch v := value.(type) {
			case map[string]any:
				walk(v, depth+1)
			case []any:
				for _, item := range v {
					if child, ok := item.(map[string]any); ok {
						walk(child, depth+1)
					}
				}
			}
		}
	}

	walk(data, 0)
	return models
}

// fetchFromSettings tries session endpoints that sometimes list models.
func (c *Client) fetchFromSettings(ctx context.Context) []domain.ModelDescriptor {
	var models []domain.ModelDescriptor
	seen := make(map[string]bool)

	for _, endpoint := range []string{"/api/auth/session", "/api/user/settings"} {
		body, err := c.fetchPage(ctx, endpoint)
		if err != nil {
			continue
		}

		var data map[string]any
		if err := json.Unmarshal([]byte(body), &data); err != nil {
			continue
		}

		for _, key := range []string{"models", "availableModels", "supportedModels"} {
			list, ok := data[key].([]any)
			if !ok {
				continue
			}

			for _, item := range list {
				switch v := item.(type) {
				case string:
					if isValidModelID(v) && !seen[v] {
						seen[v] = true
						models = append(models, describeModel(v))
					}
				case map[string]any:
					id, _ := v["identifier"].(string)
					if id == "" || !isValidModelID(id) || seen[id] {
						continue
					}
					seen[id] = true
					desc := describeModel(id)
					if name, ok := v["name"].(string); ok && name != "" {
						desc.DisplayName = name
					}
					models = append(models, desc)
				}
			}
		}
	}

	return models
}

func isValidModelID(id string) bool {
	if len(id) < minIdentifierLen {
		return false
	}
	if excludedIDPrefixes.MatchString(id) {
		return false
	}
	return validIDPrefixes.MatchString(id)
}

// describeModel builds a descriptor from a bare identifier: display name
// from the known-name table (or title-cased), provider and capability
// tags inferred from the identifier.
func describeModel(id string) domain.ModelDescriptor {
	name, ok := displayNames[id]
	if !ok {
		name = titleCase(strings.ReplaceAll(id, "_", " "))
	}

	provider := inferProvider(id)

	var caps []string
	lower := strings.ToLower(id)
	if strings.Contains(lower, "pro") || strings.Contains(lower, "alpha") {
		caps = append(caps, domain.CapabilityPro)
	}
	if strings.Contains(lower, "thinking") || strings.Contains(lower, "reasoning") {
		caps = append(caps, domain.CapabilityReasoning)
	}

	return domain.ModelDescriptor{
		ID:           id,
		DisplayName:  name,
		Description:  provider + " model",
		Provider:     provider,
		Capabilities: caps,
	}
}

func inferProvider(id string) string {
	lower := strings.ToLower(id)

	switch {
	case strings.HasPrefix(lower, "pplx") || lower == "experimental" || strings.HasPrefix(lower, "sonar"):
		return "Perplexity"
	case strings.HasPrefix(lower, "gpt"):
		return "OpenAI"
	case strings.HasPrefix(lower, "claude"):
		return "Anthropic"
	case strings.HasPrefix(lower, "gemini"):
		return "Google"
	case strings.HasPrefix(lower, "grok"):
		return "xAI"
	case strings.HasPrefix(lower, "kimi"):
		return "Moonshot AI"
	case strings.HasPrefix(lower, "llama"):
		return "Meta"
	case strings.HasPrefix(lower, "mistral"):
		return "Mistral AI"
	case strings.HasPrefix(lower, "deepseek"):
		return "DeepSeek"
	default:
		return "Unknown"
	}
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// DefaultCatalog returns the built-in model catalog used when discovery
// yields nothing.
func DefaultCatalog() []domain.ModelDescriptor {
	known := []struct {
		id          string
		description string
	}{
		{"pplx_pro", "Auto-selects the best model"},
		{"pplx_alpha", "Deep research mode"},
		{"pplx_beta", "Experimental features"},
		{"experimental", "Fast model for quick queries"},
		{"gpt51", "OpenAI's GPT-5.1"},
		{"gpt52", "OpenAI's GPT-5.2"},
		{"gpt51_thinking", "GPT-5.1 with reasoning"},
		{"claude45sonnet", "Anthropic's Claude 4.5 Sonnet"},
		{"claude45sonnetthinking", "Claude 4.5 with reasoning"},
		{"claudeopus45", "Anthropic's Claude Opus 4.5"},
		{"gemini30pro", "Google's Gemini with reasoning"},
		{"grok41nonreasoning", "xAI's Grok 4.1"},
		{"kimik2thinking", "Moonshot AI's Kimi K2"},
	}

	models := make([]domain.ModelDescriptor, 0, len(known))
	for _, k := range known {
		desc := describeModel(k.id)
		desc.Description = k.description
		models = append(models, desc)
	}
	return models
}
