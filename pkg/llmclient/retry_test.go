package llmclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbincident/diagd/pkg/diagerr"
)

type fakeChatModel struct {
	calls   int
	fail    int
	failErr error
	resp    *ChatResponse
}

func (f *fakeChatModel) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	f.calls++
	if f.calls <= f.fail {
		return nil, f.failErr
	}
	return f.resp, nil
}

func testPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
}

func TestRetryingChatModel_RetriesTransientThenSucceeds(t *testing.T) {
	fake := &fakeChatModel{
		fail:    2,
		failErr: diagerr.New(diagerr.KindTransientUpstream, "rate limited"),
		resp:    &ChatResponse{Text: "ok"},
	}
	r := NewRetryingChatModel(fake, testPolicy())

	resp, err := r.Chat(context.Background(), ChatRequest{Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 3, fake.calls)
}

func TestRetryingChatModel_DoesNotRetryPermanent(t *testing.T) {
	fake := &fakeChatModel{
		fail:    1,
		failErr: diagerr.New(diagerr.KindPermanentUpstream, "bad request"),
	}
	r := NewRetryingChatModel(fake, testPolicy())

	_, err := r.Chat(context.Background(), ChatRequest{Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.Equal(t, diagerr.KindPermanentUpstream, diagerr.ClassifyOf(err))
	assert.Equal(t, 1, fake.calls)
}

func TestRetryingChatModel_GivesUpAfterMaxAttempts(t *testing.T) {
	fake := &fakeChatModel{
		fail:    10,
		failErr: diagerr.New(diagerr.KindTransientUpstream, "still down"),
	}
	r := NewRetryingChatModel(fake, testPolicy())

	_, err := r.Chat(context.Background(), ChatRequest{Messages: []ChatMessage{{Role: RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.Equal(t, 3, fake.calls)
}

type fakeEmbedder struct {
	calls int
	fail  int
	vecs  [][]float32
}

func (f *fakeEmbedder) Dimension() int { return 3 }

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.calls <= f.fail {
		return nil, diagerr.New(diagerr.KindTransientUpstream, "timeout")
	}
	return f.vecs, nil
}

func TestRetryingEmbedder_RetriesThenSucceeds(t *testing.T) {
	fake := &fakeEmbedder{fail: 1, vecs: [][]float32{{0.1, 0.2, 0.3}}}
	r := NewRetryingEmbedder(fake, testPolicy())

	vecs, err := r.Embed(context.Background(), []string{"text"})
	require.NoError(t, err)
	assert.Equal(t, fake.vecs, vecs)
	assert.Equal(t, 2, fake.calls)
}
