// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	genai "google.golang.org/genai"

	"github.com/pdiddy/advisor-engine/pkg/types"
)

// backoffBase controls the base duration for exponential backoff. Tests
// override this to avoid real sleeps.
var backoffBase = time.Second

// Gemini is an Invoker backed by the Google Gemini API via the official
// genai client (prd006-models R2).
type Gemini struct {
	cli     *genai.Client
	cfg     types.ModelConfig
	limiter *rate.Limiter
	logger  *zap.Logger

	closeOnce sync.Once
	closed    atomic.Bool
}

// NewGemini builds a Gemini client from config. When cfg.APIKey is empty
// the genai client falls back to the GEMINI_API_KEY environment variable.
func NewGemini(ctx context.Context, cfg types.ModelConfig, logger *zap.Logger) (*Gemini, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Gemini{
		cli:     cli,
		cfg:     cfg,
		limiter: limiter,
		logger:  logger.With(zap.String("component", "model_gemini")),
	}, nil
}

// Invoke sends one request, retrying transient failures with exponential
// backoff (R2.3). The client-side rate limit applies per attempt because
// each attempt consumes backend quota.
func (g *Gemini) Invoke(ctx context.Context, req Request) (Response, error) {
	if g.closed.Load() {
		return Response{}, ErrClosed
	}
	if req.Model == "" {
		return Response{}, errors.New("model: request has no model identifier")
	}

	maxRetries := g.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	text, err := callWithRetry(ctx, maxRetries, func(ctx context.Context) (string, error) {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return "", err
			}
		}
		return g.generate(ctx, req)
	})
	if err != nil {
		return Response{}, err
	}
	return Response{Text: text}, nil
}

// generate performs a single GenerateContent call under the per-request
// timeout.
func (g *Gemini) generate(ctx context.Context, req Request) (string, error) {
	timeout := g.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	full := req.Input
	if req.System != "" {
		full = req.System + "\n\n" + req.Input
	}

	var genCfg *genai.GenerateContentConfig
	if req.ForceJSON {
		genCfg = &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	}

	start := time.Now()
	resp, err := g.cli.Models.GenerateContent(ctx, req.Model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: full}}}},
		genCfg,
	)
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", ErrEmptyResponse
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	text := b.String()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}

	g.logger.Debug("model call complete",
		zap.String("model", req.Model),
		zap.Int("response_bytes", len(text)),
		zap.Duration("elapsed", time.Since(start)))
	return text, nil
}

// Close marks the client closed. Safe to call more than once; later calls
// are no-ops (prd006-models R4.2).
func (g *Gemini) Close() error {
	g.closeOnce.Do(func() {
		g.closed.Store(true)
		g.logger.Debug("model client closed")
	})
	return nil
}

// callWithRetry runs call with exponential backoff on transient errors.
// Non-transient errors and context cancellation return immediately.
func callWithRetry(ctx context.Context, maxRetries int, call func(context.Context) (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * backoffBase
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		text, err := call(ctx)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !transientError(err) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("after %d retries: %w", maxRetries, lastErr)
}

// transientError reports whether err looks like a rate-limit or
// availability problem worth retrying. A timed-out attempt is transient
// as long as the caller's context is still live.
func transientError(err error) bool {
	if errors.Is(err, ErrEmptyResponse) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "500", "502", "503", "504",
		"resource_exhausted", "unavailable", "internal",
		"rate limit", "overloaded", "connection reset",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
