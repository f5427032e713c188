package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"hivemind/internal/logging"
)

// GenAIClient is the production oracle backed by Google's Gemini API.
type GenAIClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	cache   *resultCache
}

// NewGenAIClient creates a Gemini-backed oracle client.
func NewGenAIClient(apiKey, model string, timeout, cacheTTL time.Duration) (*GenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("oracle API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GenAIClient{
		client:  client,
		model:   model,
		timeout: timeout,
		cache:   newResultCache(cacheTTL),
	}, nil
}

// Query implements Oracle. Failures of any kind - transport, provider, empty
// reply - come back as ok=false and are logged, never propagated.
func (c *GenAIClient) Query(ctx context.Context, prompt string, opts QueryOpts) (string, bool) {
	if text, hit := c.cache.get(opts.CacheKey); hit {
		logging.Get(logging.CategoryOracle).Debug("cache hit for %q", opts.CacheKey)
		return text, true
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cfg := &genai.GenerateContentConfig{}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.Temperature > 0 {
		t := float32(opts.Temperature)
		cfg.Temperature = &t
	}

	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	start := time.Now()
	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		logging.Get(logging.CategoryOracle).Warn("generate failed after %v: %v", time.Since(start), err)
		return "", false
	}

	text := strings.TrimSpace(result.Text())
	if text == "" {
		logging.Get(logging.CategoryOracle).Warn("empty reply from %s", c.model)
		return "", false
	}

	logging.Get(logging.CategoryOracle).Debug("reply in %v: %.60s", time.Since(start), text)
	c.cache.put(opts.CacheKey, text)
	return text, true
}
