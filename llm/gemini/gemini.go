// Package gemini implements llm.Provider for Google Gemini: a single
// non-streaming generateContent call per text, with responseMimeType
// application/json and, when the task declares field keys, a
// responseSchema enforcing string-or-null values for exactly those keys.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	parsepipe "github.com/quillhq/parsepipe"
	"github.com/quillhq/parsepipe/llm"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Gemini implements llm.Provider.
type Gemini struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// New creates a Gemini provider bound to apiKey/model, using httpClient
// (or http.DefaultClient if nil).
func New(apiKey, model string, httpClient *http.Client) *Gemini {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Gemini{apiKey: apiKey, model: model, baseURL: defaultBaseURL, httpClient: httpClient}
}

// Name returns "gemini".
func (g *Gemini) Name() string { return "gemini" }

// Chat sends req.Prompt as a single user turn with a JSON response MIME
// type and, when req.FieldKeys is non-empty, a responseSchema built from it.
func (g *Gemini) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	body := map[string]any{
		"contents": []map[string]any{
			{
				"role":  "user",
				"parts": []map[string]any{{"text": req.Prompt}},
			},
		},
		"generationConfig": generationConfig(req),
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return llm.ChatResponse{}, fmt.Errorf("gemini: marshal body: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, g.model, g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		return llm.ChatResponse{}, fmt.Errorf("gemini: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return llm.ChatResponse{}, fmt.Errorf("gemini: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return llm.ChatResponse{}, fmt.Errorf("gemini: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusTooManyRequests || strings.Contains(strings.ToLower(string(respBody)), "quota") {
			return llm.ChatResponse{}, &parsepipe.ErrLLMRateLimited{Provider: "gemini", Message: string(respBody)}
		}
		return llm.ChatResponse{}, &parsepipe.ErrHTTP{Status: resp.StatusCode, Body: string(respBody)}
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return llm.ChatResponse{}, fmt.Errorf("gemini: parse response: %w", err)
	}

	var content strings.Builder
	if len(parsed.Candidates) > 0 {
		for _, part := range parsed.Candidates[0].Content.Parts {
			content.WriteString(part.Text)
		}
	}
	return llm.ChatResponse{
		Content: content.String(),
		Usage: llm.Usage{
			InputTokens:  parsed.UsageMetadata.PromptTokenCount,
			OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
		},
	}, nil
}

// generationConfig builds the request's generationConfig. The
// responseSchema is only attached when the task declares field keys; a
// schema-less task still gets JSON output via responseMimeType, shaped by
// the prompt alone.
func generationConfig(req llm.ChatRequest) map[string]any {
	cfg := map[string]any{
		"temperature":      req.Temperature,
		"responseMimeType": "application/json",
	}
	if len(req.FieldKeys) > 0 {
		cfg["responseSchema"] = buildSchema(req.FieldKeys)
	}
	return cfg
}

// buildSchema constructs a Gemini responseSchema enforcing exactly
// fieldKeys as top-level string-or-null properties.
func buildSchema(fieldKeys []string) map[string]any {
	props := make(map[string]any, len(fieldKeys))
	for _, k := range fieldKeys {
		props[k] = map[string]any{"type": "STRING", "nullable": true}
	}
	return map[string]any{
		"type":       "OBJECT",
		"properties": props,
		"required":   fieldKeys,
	}
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}
