package parser

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creditmate/card-data-worker/config"
	"github.com/creditmate/card-data-worker/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDecodeRecords(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     int
	}{
		{"bare array", `[{"name": "Gold Card"}, {"name": "Platinum Card"}]`, 2},
		{"wrapper object", `{"credit_cards": [{"name": "Gold Card"}]}`, 1},
		{"single object", `{"name": "Gold Card", "annual_fee": 1500}`, 1},
		{"fenced json", "```json\n[{\"name\": \"Gold Card\"}]\n```", 1},
		{"plain fence", "```\n[{\"name\": \"Gold Card\"}]\n```", 1},
		{"empty array", `[]`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := decodeRecords(tt.response)
			require.NoError(t, err)
			assert.Len(t, records, tt.want)
		})
	}
}

func TestDecodeRecordsMalformed(t *testing.T) {
	_, err := decodeRecords("I could not find any credit cards on this page.")
	require.Error(t, err)
	var stageErr *model.StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, model.FailParsing, stageErr.Reason)
	assert.False(t, stageErr.Retryable, "malformed json must not be retried")
}

func TestCleanMarkdown(t *testing.T) {
	assert.Equal(t, `[{"name":"x"}]`, cleanMarkdown("```json\n[{\"name\":\"x\"}]\n```"))
	assert.Equal(t, `[{"name":"x"}]`, cleanMarkdown(`[{"name":"x"}]`))
}

func TestBuildPromptTruncatesContent(t *testing.T) {
	content := make([]byte, 100)
	for i := range content {
		content[i] = 'a'
	}
	prompt := buildPrompt(string(content), "Test Bank", 10)
	assert.Contains(t, prompt, "Test Bank")
	assert.NotContains(t, prompt, string(content[:20]), "content beyond the limit must be dropped")
}

func completionResponse(t *testing.T, content string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": content}}},
	})
	require.NoError(t, err)
	return body
}

func newParserFor(t *testing.T, servers ...*httptest.Server) *LLMParser {
	t.Helper()
	cfg := &config.ParserConfig{
		RetryAttempts: 0,
		RetryDelay:    time.Millisecond,
		ContentLimit:  16000,
	}
	for i, s := range servers {
		cfg.Providers = append(cfg.Providers, &config.ProviderConfig{
			Name:    "provider-" + string(rune('a'+i)),
			BaseUrl: s.URL + "/v1",
			ApiKey:  "test-key",
			Model:   "test-model",
		})
	}
	return NewLLMParser(cfg, testLogger())
}

func TestParseHappyPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(completionResponse(t, `[{"name": "Gold Card", "annual_fee": 1500}]`))
	}))
	defer server.Close()

	records, err := newParserFor(t, server).Parse(context.Background(), &ParseRequest{
		Content:  "Gold Card, annual fee TK 1,500",
		BankName: "Test Bank",
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Gold Card", records[0]["name"])
}

func TestParseFallsBackToNextProvider(t *testing.T) {
	var firstCalls int
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		firstCalls++
		http.Error(w, `{"error": {"message": "upstream overloaded"}}`, http.StatusBadGateway)
	}))
	defer failing.Close()
	working := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(completionResponse(t, `[{"name": "Platinum Card"}]`))
	}))
	defer working.Close()

	records, err := newParserFor(t, failing, working).Parse(context.Background(), &ParseRequest{
		Content:  "Platinum Card details",
		BankName: "Test Bank",
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Platinum Card", records[0]["name"])
	assert.Positive(t, firstCalls, "first provider must have been tried")
}

func TestParseMemoizesByFingerprint(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write(completionResponse(t, `[{"name": "Gold Card"}]`))
	}))
	defer server.Close()

	p := newParserFor(t, server)
	req := &ParseRequest{Content: "Gold Card", BankName: "Test Bank", Fingerprint: "abc123"}

	_, err := p.Parse(context.Background(), req)
	require.NoError(t, err)
	_, err = p.Parse(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "second parse of the same fingerprint must hit the cache")
}

func TestParseNoProvidersConfigured(t *testing.T) {
	p := NewLLMParser(&config.ParserConfig{
		Providers: []*config.ProviderConfig{{Name: "no-key", Model: "m"}},
	}, testLogger())

	_, err := p.Parse(context.Background(), &ParseRequest{Content: "x", BankName: "b"})
	require.Error(t, err)
	assert.Equal(t, model.FailParsing, model.ReasonOf(err))
}
