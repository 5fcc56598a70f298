// Package chat proxies assistant conversations to an OpenAI-compatible
// upstream (OpenRouter by default).
package chat

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"triplab/internal/domain"
	"triplab/internal/observability"
	apperrors "triplab/pkg/errors"
)

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	DefaultModel   = "anthropic/claude-3.5-sonnet"
	AppTitle       = "TripLab - Collaborative Trip Planner"

	maxTokens   = 1024
	temperature = 0.7
)

type Config struct {
	APIKey        string
	BaseURL       string
	DefaultModel  string
	SiteURL       string
	RatePerMinute int
	Timeout       time.Duration
}

// Service forwards chat completions upstream.
type Service struct {
	client  *openai.Client
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger
	metrics *observability.Metrics
}

func NewService(cfg Config, logger *zap.Logger, metrics *observability.Metrics) *Service {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel
	}
	if cfg.SiteURL == "" {
		cfg.SiteURL = "http://localhost:5173"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	conf := openai.DefaultConfig(cfg.APIKey)
	conf.BaseURL = cfg.BaseURL
	conf.HTTPClient = &http.Client{
		Timeout: cfg.Timeout,
		Transport: &headerTransport{
			base: http.DefaultTransport,
			headers: map[string]string{
				"HTTP-Referer": cfg.SiteURL,
				"X-Title":      AppTitle,
			},
		},
	}

	limit := rate.Inf
	burst := 0
	if cfg.RatePerMinute > 0 {
		limit = rate.Limit(float64(cfg.RatePerMinute) / 60)
		burst = cfg.RatePerMinute
	}

	return &Service{
		client:  openai.NewClientWithConfig(conf),
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
		metrics: metrics,
	}
}

// Complete validates req locally, then forwards it. Upstream error statuses
// are passed through to the caller.
func (s *Service) Complete(ctx context.Context, req *domain.ChatRequest) (*openai.ChatCompletionResponse, error) {
	if req == nil || req.Messages == nil {
		return nil, apperrors.NewValidationError("Messages array is required", nil)
	}
	if s.cfg.APIKey == "" {
		s.logger.Error("chat_api_key_missing")
		return nil, apperrors.NewInternalError("API key not configured", nil)
	}
	if !s.limiter.Allow() {
		s.metrics.ChatRequest(http.StatusTooManyRequests)
		return nil, apperrors.NewRateLimitError("Too many chat requests, try again shortly")
	}

	model := req.Model
	if model == "" {
		model = s.cfg.DefaultModel
	}
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	start := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		appErr := upstreamError(err)
		s.metrics.ChatRequest(appErr.StatusCode)
		s.logger.Warn("chat_upstream_failed",
			zap.String("model", model),
			zap.Int("status", appErr.StatusCode),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return nil, appErr
	}

	s.metrics.ChatRequest(http.StatusOK)
	s.logger.Debug("chat_completed",
		zap.String("model", model),
		zap.Int("choices", len(resp.Choices)),
		zap.Duration("duration", time.Since(start)))
	return &resp, nil
}

func upstreamError(err error) *apperrors.AppError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = "Failed to get response from AI"
		}
		return apperrors.NewUpstreamError(apiErr.HTTPStatusCode, msg, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return apperrors.NewUpstreamError(reqErr.HTTPStatusCode, "Failed to get response from AI", err)
	}
	return apperrors.NewInternalError("Internal server error", err)
}

type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		r.Header.Set(k, v)
	}
	return t.base.RoundTrip(r)
}
