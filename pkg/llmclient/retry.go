package llmclient

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dbincident/diagd/pkg/diagerr"
)

// RetryPolicy bounds the exponential backoff applied around a ChatModel
// or Embedder call. Only transient-upstream failures are retried;
// permanent-upstream, data-integrity, and invariant-violation errors
// fail immediately.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p RetryPolicy) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.5
	return backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
}

// RetryingChatModel wraps a ChatModel with exponential-backoff retry.
type RetryingChatModel struct {
	inner  ChatModel
	policy RetryPolicy
	log    *slog.Logger
}

// NewRetryingChatModel wraps inner with the given retry policy.
func NewRetryingChatModel(inner ChatModel, policy RetryPolicy) *RetryingChatModel {
	return &RetryingChatModel{inner: inner, policy: policy, log: slog.With("component", "llmclient.retry")}
}

func (r *RetryingChatModel) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var resp *ChatResponse
	attempt := 0

	op := func() error {
		attempt++
		var err error
		resp, err = r.inner.Chat(ctx, req)
		if err == nil {
			return nil
		}
		if diagerr.ClassifyOf(err) != diagerr.KindTransientUpstream {
			return backoff.Permanent(err)
		}
		r.log.WarnContext(ctx, "chat call failed, retrying", "attempt", attempt, "err", err)
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(r.policy.newBackOff(), ctx)); err != nil {
		return nil, unwrapPermanent(err)
	}
	return resp, nil
}

// RetryingEmbedder wraps an Embedder with exponential-backoff retry.
type RetryingEmbedder struct {
	inner  Embedder
	policy RetryPolicy
	log    *slog.Logger
}

// NewRetryingEmbedder wraps inner with the given retry policy.
func NewRetryingEmbedder(inner Embedder, policy RetryPolicy) *RetryingEmbedder {
	return &RetryingEmbedder{inner: inner, policy: policy, log: slog.With("component", "llmclient.retry")}
}

func (r *RetryingEmbedder) Dimension() int { return r.inner.Dimension() }

func (r *RetryingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var vecs [][]float32
	attempt := 0

	op := func() error {
		attempt++
		var err error
		vecs, err = r.inner.Embed(ctx, texts)
		if err == nil {
			return nil
		}
		if diagerr.ClassifyOf(err) != diagerr.KindTransientUpstream {
			return backoff.Permanent(err)
		}
		r.log.WarnContext(ctx, "embed call failed, retrying", "attempt", attempt, "err", err)
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(r.policy.newBackOff(), ctx)); err != nil {
		return nil, unwrapPermanent(err)
	}
	return vecs, nil
}

func unwrapPermanent(err error) error {
	if pe, ok := err.(*backoff.PermanentError); ok {
		return pe.Err
	}
	return err
}
