// Package llm implements the LLMClient: a process-wide concurrency-capped,
// retrying wrapper around a narrowed Provider interface, built for the
// single use case this pipeline needs — one non-streaming, tool-free,
// JSON-structured call per resume text.
package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	parsepipe "github.com/quillhq/parsepipe"
)

// ChatRequest is the narrowed request shape this pipeline's single call
// site needs: a flat prompt plus the field keys the response must
// contain.
type ChatRequest struct {
	Prompt      string
	FieldKeys   []string
	Temperature float64
}

// ChatResponse is the raw provider reply before JSON-object parsing.
type ChatResponse struct {
	Content string
	Usage   Usage
}

// Usage reports token accounting for one Chat call, when the provider
// exposes it, for ObservedProvider's cost/metrics wiring.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Provider abstracts the LLM backend. Resume structuring is a single
// non-streaming, tool-free call, so that is the whole surface.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	Name() string
}

// Client caps in-flight requests process-wide (constructed once and
// shared across every worker's pipeline, not one semaphore per
// pipeline), retries with a three-way error classification, and never
// errors on final failure.
type Client struct {
	provider Provider
	logger   *slog.Logger
	sem      *semaphore.Weighted

	maxRetries int
	retryDelay time.Duration
}

// Config configures a Client.
type Config struct {
	Concurrency int           // process-wide in-flight request cap
	MaxRetries  int           // attempts per request
	RetryDelay  time.Duration // backoff base
}

// New builds an LLMClient sharing one process-wide semaphore of size
// Concurrency across every caller.
func New(provider Provider, cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		provider:   provider,
		logger:     logger,
		sem:        semaphore.NewWeighted(int64(cfg.Concurrency)),
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}
}

// Extract runs one structured-extraction call for a single text,
// returning a field map with every key present (null on failure or empty
// input). Never returns an error: a record with all nulls is
// semantically valid.
func (c *Client) Extract(ctx context.Context, prompt string, fieldKeys []string, text string) map[string]any {
	if strings.TrimSpace(text) == "" {
		return nullRecord(fieldKeys)
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nullRecord(fieldKeys)
	}
	defer c.sem.Release(1)

	req := ChatRequest{
		Prompt:      prompt + "\n\nResume Text:\n" + text,
		FieldKeys:   fieldKeys,
		Temperature: 0,
	}

	fields, err := parsepipe.Retry(ctx, c.maxRetries, c.retryDelay, "llm.extract", c.classify, func() (map[string]any, error) {
		resp, err := c.provider.Chat(ctx, req)
		if err != nil {
			return nil, err
		}
		return parseFields(resp.Content, fieldKeys)
	})
	if err != nil {
		c.logger.Info("llm: extraction failed after retries, returning all-null record",
			"provider", c.provider.Name(), "err", err)
		return nullRecord(fieldKeys)
	}
	return fields
}

// ExtractBatch schedules every text concurrently through the shared
// semaphore, firing progressCB after each completion (completion order,
// not input order), preserving input order in the returned slice.
func (c *Client) ExtractBatch(ctx context.Context, prompt string, fieldKeys []string, texts []string, progressCB func(completed, total int)) []map[string]any {
	total := len(texts)
	out := make([]map[string]any, total)

	var wg sync.WaitGroup
	var completedMu sync.Mutex
	completed := 0

	for i, text := range texts {
		i, text := i, text
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i] = c.Extract(ctx, prompt, fieldKeys, text)
			completedMu.Lock()
			completed++
			n := completed
			completedMu.Unlock()
			if progressCB != nil {
				progressCB(n, total)
			}
		}()
	}
	wg.Wait()
	return out
}

// classify implements the three-way error classification: rate-limit
// backs off exponentially, other-transient sleeps the flat base delay,
// parse failure retries immediately with no delay at all.
func (c *Client) classify(err error) parsepipe.RetryClass {
	if err == nil {
		return parsepipe.RetryGiveUp
	}
	if _, ok := err.(*parseFailure); ok {
		return parsepipe.RetryImmediate
	}
	if _, ok := err.(*parsepipe.ErrLLMRateLimited); ok {
		return parsepipe.RetryBackoff
	}
	// Everything else (HTTP 5xx, connection resets) is transient but not
	// quota-related: growing the delay each attempt buys nothing.
	return parsepipe.RetryFlat
}

// parseFailure marks a response that was present but not valid JSON, or
// that parsed to a non-object — retried immediately.
type parseFailure struct{ reason string }

func (p *parseFailure) Error() string { return "llm: parse failure: " + p.reason }

// parseFields parses content as a JSON object and returns a map
// containing exactly fieldKeys, defaulting any missing key to nil. A task
// that declares no field keys takes the response's own key set instead —
// the record's shape is then whatever the model returned.
func parseFields(content string, fieldKeys []string) (map[string]any, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var raw map[string]any
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, &parseFailure{reason: err.Error()}
	}
	return projectFields(raw, fieldKeys), nil
}

func projectFields(raw map[string]any, fieldKeys []string) map[string]any {
	if len(fieldKeys) == 0 {
		return raw
	}
	out := make(map[string]any, len(fieldKeys))
	for _, k := range fieldKeys {
		if v, ok := raw[k]; ok {
			out[k] = v
		} else {
			out[k] = nil
		}
	}
	return out
}

func nullRecord(fieldKeys []string) map[string]any {
	out := make(map[string]any, len(fieldKeys))
	for _, k := range fieldKeys {
		out[k] = nil
	}
	return out
}
