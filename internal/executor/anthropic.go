package executor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/issuepilot/internal/config"
	"github.com/fyrsmithlabs/issuepilot/internal/logging"
)

// rate-limit fragments seen in API error output. Pattern matching is a
// fallback for errors that arrive without a usable status code.
var rateLimitFragments = []string{
	"rate limit",
	"rate_limit_error",
	"overloaded_error",
	"quota exceeded",
	"too many requests",
	"429",
}

// Anthropic implements Executor over the Anthropic Messages API. It
// produces text only; tasks that must edit the checkout run through
// Command instead.
type Anthropic struct {
	cfg     config.ExecutorConfig
	clients []anthropic.Client
	limiter *rate.Limiter
	log     *logging.Logger

	// keyIndex is the credential currently in use. Rotated on rate
	// limit. Safe without a lock: one invocation runs one task at a
	// time in this process model.
	keyIndex int
}

// NewAnthropic creates an executor backed by one client per API key.
func NewAnthropic(cfg config.ExecutorConfig, log *logging.Logger) (*Anthropic, error) {
	if len(cfg.APIKeys) == 0 {
		return nil, errors.New("no executor API keys configured")
	}
	clients := make([]anthropic.Client, 0, len(cfg.APIKeys))
	for _, key := range cfg.APIKeys {
		clients = append(clients, anthropic.NewClient(option.WithAPIKey(key.Value())))
	}
	return &Anthropic{
		cfg:     cfg,
		clients: clients,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60.0), 1),
		log:     log.Named("executor"),
	}, nil
}

// ExecuteTask runs the prompt to completion with retry/backoff. Rate
// limits rotate to the next credential before backing off.
func (a *Anthropic) ExecuteTask(ctx context.Context, prompt string) (TaskResult, error) {
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout.Duration())
		defer cancel()
	}

	backoff := 2 * time.Second
	var lastErr error

	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		if err := a.limiter.Wait(ctx); err != nil {
			return TaskResult{}, fmt.Errorf("waiting for request slot: %w", err)
		}

		output, err := a.call(ctx, prompt)
		if err == nil {
			return TaskResult{Success: true, Output: output}, nil
		}
		lastErr = err

		if !IsRateLimited(err.Error()) {
			// Non-rate-limit API failures are reported, not retried;
			// the dispatch layer owns transient retry policy.
			return TaskResult{Success: false, Error: err.Error()}, err
		}

		if len(a.clients) > 1 {
			a.keyIndex = (a.keyIndex + 1) % len(a.clients)
			a.log.Info(ctx, "rotated executor credential",
				zap.Int("key_index", a.keyIndex))
		}

		if attempt == a.cfg.MaxRetries {
			break
		}

		// Full jitter keeps concurrent invocations from thundering in
		// lockstep after a shared limit resets.
		sleep := backoff + time.Duration(rand.Int63n(int64(backoff)))
		a.log.Warn(ctx, "executor rate limited, backing off",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", sleep))

		select {
		case <-ctx.Done():
			return TaskResult{}, ctx.Err()
		case <-time.After(sleep):
			backoff *= 2
		}
	}

	return TaskResult{Success: false, Error: lastErr.Error()},
		fmt.Errorf("executor failed after %d retries: %w", a.cfg.MaxRetries, lastErr)
}

func (a *Anthropic) call(ctx context.Context, prompt string) (string, error) {
	client := a.clients[a.keyIndex]

	resp, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.cfg.Model),
		MaxTokens: int64(a.cfg.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("messages API: %w", err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return "", errors.New("empty response from messages API")
	}

	var out strings.Builder
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			out.WriteString(block.AsText().Text)
		}
	}
	return out.String(), nil
}

// IsRateLimited reports whether the output/error text indicates a rate
// limit. Exported for the dispatch layer, which applies the same
// detection to task output.
func IsRateLimited(text string) bool {
	lower := strings.ToLower(text)
	for _, frag := range rateLimitFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}
