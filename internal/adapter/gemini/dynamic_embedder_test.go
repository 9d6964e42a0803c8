package gemini

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/iterator"

	"pagechat/internal/apperr"
	"pagechat/internal/llm"
	"pagechat/internal/settings"
)

// MockRepo implements settings.Repository
type MockRepo struct {
	Settings *settings.Settings
	Err      error
}

func (m *MockRepo) Get(ctx context.Context) (*settings.Settings, error) {
	return m.Settings, m.Err
}

func (m *MockRepo) Update(ctx context.Context, s *settings.Settings) error {
	return nil
}

func TestDynamicEmbedder_Embed_NoKey(t *testing.T) {
	svc := settings.NewService(&MockRepo{Settings: &settings.Settings{}})
	embedder := NewDynamicEmbedder(svc)

	_, err := embedder.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, apperr.ErrEmbeddingProvider)
	assert.Contains(t, err.Error(), "gemini api key not configured")
}

func TestDynamicEmbedder_Embed_SettingsError(t *testing.T) {
	svc := settings.NewService(&MockRepo{Err: errors.New("db fail")})
	embedder := NewDynamicEmbedder(svc)

	_, err := embedder.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, apperr.ErrEmbeddingProvider)
	assert.Contains(t, err.Error(), "failed to get settings")
}

func TestDynamicEmbedder_RateLimitHonoursContext(t *testing.T) {
	svc := settings.NewService(&MockRepo{Settings: &settings.Settings{}})
	embedder := NewDynamicEmbedder(svc).WithRateLimit(0.001)

	// First call consumes the only token.
	_, _ = embedder.Embed(context.Background(), "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := embedder.Embed(ctx, "b")
	assert.ErrorIs(t, err, apperr.ErrEmbeddingProvider)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, apperr.Transient(err))
}

func TestClientCache_Switching(t *testing.T) {
	cache := &clientCache{}
	ctx := context.Background()

	client1, err := cache.getClient(ctx, "key1")
	assert.NoError(t, err)
	assert.NotNil(t, client1)
	assert.Equal(t, "key1", cache.currentKey)

	client2, err := cache.getClient(ctx, "key1")
	assert.NoError(t, err)
	assert.Equal(t, client1, client2)

	client3, err := cache.getClient(ctx, "key2")
	assert.NoError(t, err)
	assert.NotEqual(t, client1, client3)
	assert.Equal(t, "key2", cache.currentKey)
}

func TestDynamicChatModel_Validation(t *testing.T) {
	svc := settings.NewService(&MockRepo{Settings: &settings.Settings{}})
	chat := NewDynamicChatModel(svc)
	ctx := context.Background()

	_, err := chat.StreamChat(ctx, nil, 0.1)
	assert.ErrorIs(t, err, apperr.ErrModelProvider)

	_, err = chat.StreamChat(ctx, []llm.Message{{Role: llm.RoleAssistant, Text: "hi"}}, 0.1)
	assert.ErrorIs(t, err, apperr.ErrModelProvider)

	_, err = chat.StreamChat(ctx, []llm.Message{{Role: llm.RoleUser, Text: "hi"}}, 0.1)
	assert.ErrorIs(t, err, apperr.ErrModelProvider)
	assert.Contains(t, err.Error(), "gemini api key not configured")
}

func textResponse(parts ...string) *genai.GenerateContentResponse {
	content := &genai.Content{Role: "model"}
	for _, p := range parts {
		content.Parts = append(content.Parts, genai.Text(p))
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: content}}}
}

func TestTokenStream(t *testing.T) {
	responses := []*genai.GenerateContentResponse{
		textResponse("The capital ", "is"),
		{},
		textResponse(" Lostville."),
	}
	i := 0
	cancelled := 0
	s := &tokenStream{
		next: func() (*genai.GenerateContentResponse, error) {
			if i == len(responses) {
				return nil, iterator.Done
			}
			i++
			return responses[i-1], nil
		},
		cancel: func() { cancelled++ },
	}

	var got []string
	for {
		tok, err := s.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, tok)
	}
	assert.Equal(t, []string{"The capital ", "is", " Lostville."}, got)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, cancelled)
}

func TestTokenStream_ProviderError(t *testing.T) {
	s := &tokenStream{
		next:   func() (*genai.GenerateContentResponse, error) { return nil, errors.New("503 unavailable") },
		cancel: func() {},
	}
	_, err := s.Recv()
	assert.ErrorIs(t, err, apperr.ErrModelProvider)
}
