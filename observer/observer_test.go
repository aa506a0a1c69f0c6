package observer

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/log/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/quillhq/parsepipe/llm"
)

type mockProvider struct {
	name     string
	chatResp llm.ChatResponse
	chatErr  error
}

func (m *mockProvider) Name() string { return m.name }
func (m *mockProvider) Chat(_ context.Context, _ llm.ChatRequest) (llm.ChatResponse, error) {
	return m.chatResp, m.chatErr
}

// testInstruments builds an Instruments backed by in-memory SDK providers,
// so tests exercise the same instrument-recording code paths as Init
// without reaching out to an OTLP endpoint.
func testInstruments(t *testing.T) *Instruments {
	t.Helper()
	tp := sdktrace.NewTracerProvider()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})

	tracer := tp.Tracer(scopeName)
	meter := mp.Meter(scopeName)
	logger := noop.NewLoggerProvider().Logger(scopeName)

	tokenUsage, err := meter.Int64Counter("llm.token.usage")
	if err != nil {
		t.Fatal(err)
	}
	costTotal, err := meter.Float64Counter("llm.cost.total")
	if err != nil {
		t.Fatal(err)
	}
	llmRequests, err := meter.Int64Counter("llm.requests")
	if err != nil {
		t.Fatal(err)
	}
	llmDuration, err := meter.Float64Histogram("llm.duration")
	if err != nil {
		t.Fatal(err)
	}

	return &Instruments{
		Tracer:      tracer,
		Meter:       meter,
		Logger:      logger,
		TokenUsage:  tokenUsage,
		CostTotal:   costTotal,
		LLMRequests: llmRequests,
		LLMDuration: llmDuration,
		Cost:        NewCostCalculator(nil),
	}
}

func TestObservedProviderName(t *testing.T) {
	inner := &mockProvider{name: "gemini"}
	p := WrapProvider(inner, "gemini-2.5-flash", testInstruments(t))
	if got := p.Name(); got != "gemini" {
		t.Errorf("Name() = %q, want %q", got, "gemini")
	}
}

func TestObservedProviderChat(t *testing.T) {
	inner := &mockProvider{
		name: "gemini",
		chatResp: llm.ChatResponse{
			Content: `{"name":"Alice"}`,
			Usage:   llm.Usage{InputTokens: 100, OutputTokens: 20},
		},
	}
	p := WrapProvider(inner, "gemini-2.5-flash", testInstruments(t))

	resp, err := p.Chat(context.Background(), llm.ChatRequest{Prompt: "extract"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Content != `{"name":"Alice"}` {
		t.Errorf("Chat() content = %q", resp.Content)
	}
	if resp.Usage.InputTokens != 100 || resp.Usage.OutputTokens != 20 {
		t.Errorf("Chat() usage = %+v, want passthrough of inner usage", resp.Usage)
	}
}

func TestObservedProviderChatError(t *testing.T) {
	wantErr := errors.New("boom")
	inner := &mockProvider{name: "gemini", chatErr: wantErr}
	p := WrapProvider(inner, "gemini-2.5-flash", testInstruments(t))

	_, err := p.Chat(context.Background(), llm.ChatRequest{Prompt: "extract"})
	if !errors.Is(err, wantErr) {
		t.Errorf("Chat() error = %v, want %v", err, wantErr)
	}
}

var _ llm.Provider = (*ObservedProvider)(nil)
