package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/loomworks/api/internal/models"
	"go.uber.org/zap"
)

// HTTPProvider calls an OpenAI-style chat-completion endpoint. Each call
// carries its own timeout, distinct from the request deadline, so one slow
// provider triggers fallback instead of burning the whole request budget.
type HTTPProvider struct {
	descriptor models.ProviderDescriptor
	endpoint   string
	apiKey     string
	timeout    time.Duration
	client     *http.Client
	logger     *zap.Logger
}

// NewHTTPProvider creates a provider backed by a remote chat endpoint
func NewHTTPProvider(descriptor models.ProviderDescriptor, endpoint, apiKey string, timeout time.Duration, logger *zap.Logger) *HTTPProvider {
	return &HTTPProvider{
		descriptor: descriptor,
		endpoint:   endpoint,
		apiKey:     apiKey,
		timeout:    timeout,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (p *HTTPProvider) ID() string {
	return p.descriptor.ID
}

func (p *HTTPProvider) CapabilityTags() []string {
	return p.descriptor.CapabilityTags
}

func (p *HTTPProvider) EstimateCost(req models.GenerationRequest) float64 {
	in, out := EstimateTokens(req)
	return CostFor(&p.descriptor, in, out)
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Generate posts the structured prompt and maps transport and protocol
// failures onto the typed provider errors.
func (p *HTTPProvider) Generate(ctx context.Context, req models.GenerationRequest) (*Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model: p.descriptor.ID,
		Messages: []chatMessage{
			{Role: "system", Content: "You generate production-quality web artifacts. Respond with the artifact only."},
			{Role: "user", Content: BuildPrompt(req)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%s: %w", p.descriptor.ID, ErrTimeout)
		}
		return nil, fmt.Errorf("%s: %w: %v", p.descriptor.ID, ErrInvalidResponse, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%s: %w", p.descriptor.ID, ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%s: %w: status %d", p.descriptor.ID, ErrInvalidResponse, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", p.descriptor.ID, ErrInvalidResponse, err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%s: %w", p.descriptor.ID, ErrInvalidResponse)
	}

	artifact := parsed.Choices[0].Message.Content
	if artifact == "" {
		return nil, fmt.Errorf("%s: %w: empty completion", p.descriptor.ID, ErrInvalidResponse)
	}

	tokensIn, tokensOut := parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens
	if tokensIn == 0 && tokensOut == 0 {
		// Some endpoints omit usage; fall back to the estimate so cost
		// accounting never records a free generation.
		tokensIn, tokensOut = EstimateTokens(req)
	}

	p.logger.Info("provider call completed",
		zap.String("provider", p.descriptor.ID),
		zap.Int("tokens_in", tokensIn),
		zap.Int("tokens_out", tokensOut),
		zap.Duration("latency", time.Since(start)),
	)

	return &Result{
		Artifact:  artifact,
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
	}, nil
}
