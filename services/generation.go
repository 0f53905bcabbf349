package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

type ProviderState string

const (
	ProviderPending   ProviderState = "PENDING"
	ProviderTrying    ProviderState = "TRYING"
	ProviderSucceeded ProviderState = "SUCCEEDED"
	ProviderFailed    ProviderState = "FAILED"
	ProviderTimedOut  ProviderState = "TIMED_OUT"
)

// ImageProvider is one backend able to render an outfit visualization.
type ImageProvider interface {
	Name() string
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
}

// ProviderOutcome records what happened with one provider attempt.
type ProviderOutcome struct {
	Provider string
	State    ProviderState
	Err      error
	Elapsed  time.Duration
}

// ProviderTimeoutError marks an attempt that hit the per-provider budget.
type ProviderTimeoutError struct {
	Provider string
	Timeout  time.Duration
}

func (e *ProviderTimeoutError) Error() string {
	return fmt.Sprintf("provider %s timed out after %s", e.Provider, e.Timeout)
}

// GenerationUnavailableError aggregates the whole exhausted chain.
type GenerationUnavailableError struct {
	Outcomes []ProviderOutcome
}

func (e *GenerationUnavailableError) Error() string {
	parts := make([]string, 0, len(e.Outcomes))
	for _, o := range e.Outcomes {
		if o.Err != nil {
			parts = append(parts, fmt.Sprintf("%s: %v", o.Provider, o.Err))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", o.Provider, o.State))
		}
	}
	return "all generation providers failed: " + strings.Join(parts, "; ")
}

// GenerationChain walks providers in order until one succeeds. One
// attempt per provider, no inner retries.
type GenerationChain struct {
	Providers          []ImageProvider
	PerProviderTimeout time.Duration
}

// orderProviders moves preferred (by name) to the front, keeping the
// rest of the configured order stable.
func orderProviders(providers []ImageProvider, preferred string) []ImageProvider {
	if preferred == "" {
		return providers
	}
	ordered := make([]ImageProvider, 0, len(providers))
	for _, p := range providers {
		if strings.EqualFold(p.Name(), preferred) {
			ordered = append(ordered, p)
		}
	}
	for _, p := range providers {
		if !strings.EqualFold(p.Name(), preferred) {
			ordered = append(ordered, p)
		}
	}
	return ordered
}

// Generate tries each provider once within its timeout budget. Returns
// the image bytes, the succeeding provider name and every recorded
// outcome. When the chain is exhausted the error is a
// *GenerationUnavailableError carrying the same outcomes.
func (c *GenerationChain) Generate(ctx context.Context, prompt string, preferred string) ([]byte, string, []ProviderOutcome, error) {
	ordered := orderProviders(c.Providers, preferred)

	outcomes := make([]ProviderOutcome, 0, len(ordered))
	for _, p := range ordered {
		if err := ctx.Err(); err != nil {
			outcomes = append(outcomes, ProviderOutcome{Provider: p.Name(), State: ProviderPending, Err: err})
			continue
		}

		fmt.Printf("[Generation: %s] trying provider\n", p.Name())
		attemptCtx := ctx
		var cancel context.CancelFunc
		if c.PerProviderTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, c.PerProviderTimeout)
		}
		started := time.Now()
		image, err := p.GenerateImage(attemptCtx, prompt)
		elapsed := time.Since(started)
		if cancel != nil {
			cancel()
		}

		if err == nil && len(image) > 0 {
			outcomes = append(outcomes, ProviderOutcome{Provider: p.Name(), State: ProviderSucceeded, Elapsed: elapsed})
			fmt.Printf("[Generation: %s] succeeded in %s\n", p.Name(), elapsed)
			return image, p.Name(), outcomes, nil
		}
		if err == nil {
			err = fmt.Errorf("provider returned no image data")
		}

		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			terr := &ProviderTimeoutError{Provider: p.Name(), Timeout: c.PerProviderTimeout}
			outcomes = append(outcomes, ProviderOutcome{Provider: p.Name(), State: ProviderTimedOut, Err: terr, Elapsed: elapsed})
			fmt.Printf("[Generation: %s] %v\n", p.Name(), terr)
			continue
		}
		outcomes = append(outcomes, ProviderOutcome{Provider: p.Name(), State: ProviderFailed, Err: err, Elapsed: elapsed})
		fmt.Printf("[Generation: %s] failed: %v\n", p.Name(), err)
	}

	unavailable := &GenerationUnavailableError{Outcomes: outcomes}
	sentry.CaptureException(unavailable)
	return nil, "", outcomes, unavailable
}
