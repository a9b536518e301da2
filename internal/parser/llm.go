package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/creditmate/card-data-worker/config"
	"github.com/creditmate/card-data-worker/internal/model"
	jsoniter "github.com/json-iterator/go"
	"github.com/patrickmn/go-cache"
	openai "github.com/sashabaranov/go-openai"
)

// ParseRequest carries one extraction job to the structured parser.
type ParseRequest struct {
	Content     string
	BankName    string
	ContentKind model.ContentKind
	Fingerprint string
}

// StructuredParser turns extracted document text into raw card records.
// The output is untrusted and must pass the validator before storage.
type StructuredParser interface {
	Parse(ctx context.Context, req *ParseRequest) ([]model.RawCardRecord, error)
}

type providerClient struct {
	name   string
	model  string
	client *openai.Client
}

// LLMParser calls OpenAI-compatible chat-completion providers in a
// configured fallback order. Which provider answered is invisible to the
// pipeline. Responses are memoized per content fingerprint so identical
// documents seen by different sources within the TTL are parsed once.
type LLMParser struct {
	cfg       *config.ParserConfig
	log       *slog.Logger
	providers []*providerClient
	results   *cache.Cache
}

func NewLLMParser(cfg *config.ParserConfig, log *slog.Logger) *LLMParser {
	p := &LLMParser{
		cfg:     cfg,
		log:     log,
		results: cache.New(cfg.ResultCacheTtl, cfg.ResultCacheTtl),
	}
	for _, pc := range cfg.Providers {
		if pc.ApiKey == "" {
			log.Warn("skipping parser provider without api key.", slog.String("provider", pc.Name))
			continue
		}
		clientCfg := openai.DefaultConfig(pc.ApiKey)
		if pc.BaseUrl != "" {
			clientCfg.BaseURL = pc.BaseUrl
		}
		p.providers = append(p.providers, &providerClient{
			name:   pc.Name,
			model:  pc.Model,
			client: openai.NewClientWithConfig(clientCfg),
		})
		log.Info("parser provider configured.", slog.String("provider", pc.Name),
			slog.String("model", pc.Model))
	}

	return p
}

func (p *LLMParser) Parse(ctx context.Context, req *ParseRequest) ([]model.RawCardRecord, error) {
	if len(p.providers) == 0 {
		return nil, model.NewParsingError(false, errors.New("no parser providers configured"))
	}
	if req.Fingerprint != "" {
		if v, ok := p.results.Get(req.Fingerprint); ok {
			p.log.Debug("parse result served from cache.", slog.String("bank", req.BankName))
			return v.([]model.RawCardRecord), nil
		}
	}

	prompt := buildPrompt(req.Content, req.BankName, p.cfg.ContentLimit)
	var lastErr error
	for _, provider := range p.providers {
		records, err := p.parseWithProvider(ctx, provider, prompt, req.BankName)
		if err == nil {
			if req.Fingerprint != "" {
				p.results.Set(req.Fingerprint, records, cache.DefaultExpiration)
			}
			return records, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		p.log.Warn("parser provider failed. trying next.", slog.String("provider", provider.name),
			slog.String("err", err.Error()))
	}

	return nil, lastErr
}

// parseWithProvider retries transient provider errors (rate limits, 5xx,
// timeouts) with exponential backoff; a malformed response fails at once.
func (p *LLMParser) parseWithProvider(ctx context.Context, provider *providerClient,
	prompt, bankName string) ([]model.RawCardRecord, error) {
	var lastErr error
	delay := p.cfg.RetryDelay
	for attempt := 0; attempt <= p.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, model.NewParsingError(false, ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}

		resp, err := provider.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       provider.model,
			Temperature: p.cfg.Temperature,
			MaxTokens:   p.cfg.MaxTokens,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		})
		if err != nil {
			lastErr = classifyProviderError(err)
			if !model.IsRetryable(lastErr) {
				return nil, lastErr
			}
			continue
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
			return nil, model.NewParsingError(false,
				fmt.Errorf("empty response from provider %s for %s", provider.name, bankName))
		}

		return decodeRecords(resp.Choices[0].Message.Content)
	}

	return nil, lastErr
}

func classifyProviderError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		retryable := apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
		return model.NewParsingError(retryable, err)
	}
	// transport error, likely a timeout
	return model.NewParsingError(true, err)
}

// decodeRecords accepts the response shapes providers actually produce:
// a bare array, a {"credit_cards": [...]} wrapper, or a single object.
// Markdown code fences are stripped first.
func decodeRecords(raw string) ([]model.RawCardRecord, error) {
	cleaned := cleanMarkdown(raw)

	var records []model.RawCardRecord
	if err := jsoniter.UnmarshalFromString(cleaned, &records); err == nil {
		return records, nil
	}

	var wrapper map[string]jsoniter.RawMessage
	if err := jsoniter.UnmarshalFromString(cleaned, &wrapper); err != nil {
		return nil, model.NewParsingError(false, fmt.Errorf("malformed json response: %w", err))
	}
	if inner, ok := wrapper["credit_cards"]; ok {
		if err := jsoniter.Unmarshal(inner, &records); err != nil {
			return nil, model.NewParsingError(false, fmt.Errorf("malformed credit_cards array: %w", err))
		}
		return records, nil
	}

	var single model.RawCardRecord
	if err := jsoniter.UnmarshalFromString(cleaned, &single); err != nil {
		return nil, model.NewParsingError(false, fmt.Errorf("malformed json response: %w", err))
	}

	return []model.RawCardRecord{single}, nil
}

func cleanMarkdown(response string) string {
	response = strings.TrimSpace(response)
	if strings.HasPrefix(response, "```json") {
		response = strings.TrimPrefix(response, "```json")
	} else if strings.HasPrefix(response, "```") {
		response = strings.TrimPrefix(response, "```")
	}
	response = strings.TrimSuffix(strings.TrimSpace(response), "```")

	return strings.TrimSpace(response)
}
