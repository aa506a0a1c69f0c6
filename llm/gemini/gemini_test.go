package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	parsepipe "github.com/quillhq/parsepipe"
	"github.com/quillhq/parsepipe/llm"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Gemini {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	g := New("test-key", "gemini-2.5-flash", srv.Client())
	g.baseURL = srv.URL
	return g
}

func TestChatParsesCandidatesAndUsage(t *testing.T) {
	var gotBody map[string]any
	g := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]any{{"text": `{"name":"Alice"}`}}}},
			},
			"usageMetadata": map[string]any{"promptTokenCount": 42, "candidatesTokenCount": 7},
		})
	})

	resp, err := g.Chat(context.Background(), llm.ChatRequest{
		Prompt:    "extract",
		FieldKeys: []string{"name"},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Content != `{"name":"Alice"}` {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage.InputTokens != 42 || resp.Usage.OutputTokens != 7 {
		t.Errorf("Usage = %+v", resp.Usage)
	}

	genCfg, ok := gotBody["generationConfig"].(map[string]any)
	if !ok {
		t.Fatalf("request body missing generationConfig: %+v", gotBody)
	}
	if genCfg["responseMimeType"] != "application/json" {
		t.Errorf("responseMimeType = %v", genCfg["responseMimeType"])
	}
	if _, ok := genCfg["responseSchema"]; !ok {
		t.Error("responseSchema should be set when field keys are declared")
	}
}

func TestChatOmitsSchemaWithoutFieldKeys(t *testing.T) {
	var gotBody map[string]any
	g := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{"candidates": []any{}})
	})

	if _, err := g.Chat(context.Background(), llm.ChatRequest{Prompt: "extract"}); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	genCfg := gotBody["generationConfig"].(map[string]any)
	if _, ok := genCfg["responseSchema"]; ok {
		t.Error("responseSchema should be omitted when no field keys are declared")
	}
}

func TestChatClassifies429AsRateLimited(t *testing.T) {
	g := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	})

	_, err := g.Chat(context.Background(), llm.ChatRequest{Prompt: "extract"})
	var rateLimited *parsepipe.ErrLLMRateLimited
	if !errors.As(err, &rateLimited) {
		t.Fatalf("error = %v (%T), want *parsepipe.ErrLLMRateLimited", err, err)
	}
}

func TestChatClassifiesQuotaMessageAsRateLimited(t *testing.T) {
	g := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"message":"Quota exceeded for this project"}}`))
	})

	_, err := g.Chat(context.Background(), llm.ChatRequest{Prompt: "extract"})
	var rateLimited *parsepipe.ErrLLMRateLimited
	if !errors.As(err, &rateLimited) {
		t.Fatalf("error = %v (%T), want *parsepipe.ErrLLMRateLimited", err, err)
	}
}

func TestChatOtherHTTPErrorIsErrHTTP(t *testing.T) {
	g := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	})

	_, err := g.Chat(context.Background(), llm.ChatRequest{Prompt: "extract"})
	var httpErr *parsepipe.ErrHTTP
	if !errors.As(err, &httpErr) {
		t.Fatalf("error = %v (%T), want *parsepipe.ErrHTTP", err, err)
	}
	if httpErr.Status != http.StatusInternalServerError {
		t.Errorf("Status = %d", httpErr.Status)
	}
}
