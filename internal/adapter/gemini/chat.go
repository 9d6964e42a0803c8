package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"pagechat/internal/apperr"
	"pagechat/internal/llm"
	"pagechat/internal/settings"
)

const ChatModel = "gemini-2.5-flash"

// DynamicChatModel streams completions with the key currently in settings.
type DynamicChatModel struct {
	clients clientCache
	model   string
}

func NewDynamicChatModel(svc *settings.Service, opts ...option.ClientOption) *DynamicChatModel {
	return &DynamicChatModel{
		clients: clientCache{settingsSvc: svc, clientOpts: opts},
		model:   ChatModel,
	}
}

// StreamChat sends the last message as the user turn; system messages become
// the system instruction and the rest become chat history.
func (m *DynamicChatModel) StreamChat(ctx context.Context, messages []llm.Message, temperature float32) (llm.TokenStream, error) {
	if len(messages) == 0 || messages[len(messages)-1].Role != llm.RoleUser {
		return nil, fmt.Errorf("%w: conversation must end with a user message", apperr.ErrModelProvider)
	}

	client, err := m.clients.get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrModelProvider, err)
	}

	model := client.GenerativeModel(m.model)
	model.SetTemperature(temperature)

	var system []string
	var history []*genai.Content
	for _, msg := range messages[:len(messages)-1] {
		switch msg.Role {
		case llm.RoleSystem:
			system = append(system, msg.Text)
		case llm.RoleAssistant:
			history = append(history, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(msg.Text)}})
		default:
			history = append(history, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(msg.Text)}})
		}
	}
	if len(system) > 0 {
		model.SystemInstruction = genai.NewUserContent(genai.Text(strings.Join(system, "\n\n")))
	}

	streamCtx, cancel := context.WithCancel(ctx)
	cs := model.StartChat()
	cs.History = history
	it := cs.SendMessageStream(streamCtx, genai.Text(messages[len(messages)-1].Text))

	return &tokenStream{next: it.Next, cancel: cancel}, nil
}

type tokenStream struct {
	next    func() (*genai.GenerateContentResponse, error)
	cancel  context.CancelFunc
	pending []string
	once    sync.Once
}

func (s *tokenStream) Recv() (string, error) {
	for len(s.pending) == 0 {
		resp, err := s.next()
		if errors.Is(err, iterator.Done) {
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", apperr.ErrModelProvider, err)
		}
		s.pending = responseText(resp)
	}
	tok := s.pending[0]
	s.pending = s.pending[1:]
	return tok, nil
}

func (s *tokenStream) Close() error {
	s.once.Do(s.cancel)
	return nil
}

func responseText(resp *genai.GenerateContentResponse) []string {
	var out []string
	if resp == nil {
		return out
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok && t != "" {
				out = append(out, string(t))
			}
		}
	}
	return out
}
