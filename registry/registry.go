// Package registry implements parsepipe.RegistryClient against the
// Next.js task-registry HTTP API. Requests go through an
// otelhttp-instrumented client, and the operations a pipeline cannot
// proceed without (task fetch, completion) are wrapped in a
// sony/gobreaker circuit breaker so a dying registry fails fast instead
// of stalling every worker behind individual timeouts.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	parsepipe "github.com/quillhq/parsepipe"
)

// Client implements parsepipe.RegistryClient over the registry's REST
// API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker

	maxAttempts int
	retryBase   time.Duration
}

// New builds a registry Client. baseURL is NEXT_API_URL; timeout bounds
// every individual HTTP call.
func New(baseURL string, timeout time.Duration) *Client {
	httpClient := &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "registry",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Client{
		baseURL:     baseURL,
		httpClient:  httpClient,
		breaker:     breaker,
		maxAttempts: 3,
		retryBase:   500 * time.Millisecond,
	}
}

// --- wire response envelopes ---

type taskEnvelope struct {
	Data struct {
		ParsingTask parsepipe.Task `json:"parsingTask"`
	} `json:"data"`
}

type promptEnvelope struct {
	Data struct {
		Prompt string `json:"prompt"`
	} `json:"data"`
}

type filesEnvelope struct {
	Data struct {
		ParseableFiles []parsepipe.ParseableFile `json:"parseableFiles"`
	} `json:"data"`
}

// GetTask fetches the task record, going through the circuit breaker and
// a bounded exponential-backoff retry — a pipeline cannot start without
// it.
func (c *Client) GetTask(ctx context.Context, taskID string) (*parsepipe.Task, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return parsepipe.Retry(ctx, c.maxAttempts, c.retryBase, "registry.fetch_task", parsepipe.SimpleBackoffClassifier, func() (*parsepipe.Task, error) {
			var env taskEnvelope
			if err := c.getJSON(ctx, "/parsing-task", url.Values{"taskId": {taskID}}, &env); err != nil {
				return nil, err
			}
			return &env.Data.ParsingTask, nil
		})
	})
	if err != nil {
		return nil, &parsepipe.ErrRegistryUnavailable{Op: "fetch_task", Err: err}
	}
	return result.(*parsepipe.Task), nil
}

// GetExtractionPrompt fetches the task's extraction prompt; persistent
// failure fails the task.
func (c *Client) GetExtractionPrompt(ctx context.Context, taskID string) (string, error) {
	prompt, err := parsepipe.Retry(ctx, c.maxAttempts, c.retryBase, "registry.fetch_prompt", parsepipe.SimpleBackoffClassifier, func() (string, error) {
		var env promptEnvelope
		if err := c.getJSON(ctx, "/parsing-task/extraction-prompt", url.Values{"taskId": {taskID}}, &env); err != nil {
			return "", err
		}
		return env.Data.Prompt, nil
	})
	if err != nil {
		return "", &parsepipe.ErrRegistryUnavailable{Op: "fetch_prompt", Err: err}
	}
	return prompt, nil
}

// GetParseableFiles fetches the task's pre-registered file list (direct
// mode), retrying up to 5 times with 2s spacing — the registry can
// momentarily return an empty list for a task whose files are still
// being inserted by the upload API. Empty after all retries is fatal.
func (c *Client) GetParseableFiles(ctx context.Context, taskID string) ([]parsepipe.ParseableFile, error) {
	const maxAttempts = 5
	const spacing = 2 * time.Second

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(spacing)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		var env filesEnvelope
		err := c.getJSON(ctx, "/parseable-files", url.Values{"taskId": {taskID}}, &env)
		if err == nil && len(env.Data.ParseableFiles) > 0 {
			return env.Data.ParseableFiles, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("empty parseable file list")
		}
	}
	return nil, &parsepipe.ErrRegistryUnavailable{Op: "fetch_parseable_files", Err: lastErr}
}

// UpdateFileCounts sets the task's total/invalid file counts once, after
// working-set classification. Best-effort: logged by the caller, never
// fatal.
func (c *Client) UpdateFileCounts(ctx context.Context, taskID string, total, invalid int) error {
	return c.patchTask(ctx, taskID, map[string]any{
		"totalFiles":   total,
		"invalidFiles": invalid,
	})
}

// UpdateProgress reports the processed-file count so far; callers
// throttle calls to this, not this client. Best-effort.
func (c *Client) UpdateProgress(ctx context.Context, taskID string, processed int) error {
	return c.patchTask(ctx, taskID, map[string]any{"processedFiles": processed})
}

// InsertParseableFiles records archive-mode materialization, best-effort.
func (c *Client) InsertParseableFiles(ctx context.Context, taskID string, files []parsepipe.ParseableFile) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/parseable-files", nil, map[string]any{"parseableFiles": files})
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Complete marks the task completed and sets both artifact paths in one
// atomic PATCH, going through the circuit breaker since it is the
// operation a hung registry must not be allowed to block forever on.
// jsonPath and sheetPath are only ever set together, and only here.
func (c *Client) Complete(ctx context.Context, taskID, jsonPath, sheetPath string) error {
	_, err := c.breaker.Execute(func() (any, error) {
		_, retryErr := parsepipe.Retry(ctx, c.maxAttempts, c.retryBase, "registry.mark_completed", parsepipe.SimpleBackoffClassifier, func() (struct{}, error) {
			return struct{}{}, c.patchTask(ctx, taskID, map[string]any{
				"status":    parsepipe.StatusCompleted,
				"jsonPath":  jsonPath,
				"sheetPath": sheetPath,
			})
		})
		return nil, retryErr
	})
	if err != nil {
		return &parsepipe.ErrRegistryUnavailable{Op: "mark_completed", Err: err}
	}
	return nil
}

// Fail marks the task failed with reason, a terminal, best-effort
// transition.
func (c *Client) Fail(ctx context.Context, taskID, reason string) error {
	return c.patchTask(ctx, taskID, map[string]any{
		"status": parsepipe.StatusFailed,
		"error":  reason,
	})
}

func (c *Client) patchTask(ctx context.Context, taskID string, fields map[string]any) error {
	req, err := c.newRequest(ctx, http.MethodPatch, "/parsing-task", url.Values{"taskId": {taskID}}, fields)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &parsepipe.ErrHTTP{Status: resp.StatusCode, Body: string(body)}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

var _ parsepipe.RegistryClient = (*Client)(nil)
