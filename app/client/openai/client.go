package openai

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"groupchat/app/config"
	"groupchat/app/service/history"

	"github.com/samber/do"
	"github.com/sashabaranov/go-openai"
)

// Client issues chat-completion requests against an OpenAI-compatible API.
// Requests for the same conversation are serialized; failures come back as
// the typed errors in errors.go. No retries at this layer.
type Client struct {
	cfg     *config.Config
	timeout time.Duration

	mu       sync.Mutex
	inFlight map[string]*sync.Mutex
}

func New(di *do.Injector) (*Client, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return &Client{
		cfg:      cfg,
		timeout:  time.Duration(cfg.OpenAI.TimeoutSeconds) * time.Second,
		inFlight: make(map[string]*sync.Mutex),
	}, nil
}

// Complete sends the conversation's history and returns the assistant's
// reply text. The credential is the conversation's own API key.
func (c *Client) Complete(ctx context.Context, conversationID string, entries []history.Entry, apiKey string) (string, error) {
	if strings.TrimSpace(apiKey) == "" {
		return "", ErrMissingCredential
	}

	lock := c.lockFor(conversationID)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	response, err := c.apiClient(apiKey).CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.OpenAI.Model,
		Messages:    toWireMessages(entries),
		Temperature: c.cfg.OpenAI.Temperature,
		MaxTokens:   c.cfg.OpenAI.MaxTokens,
	})
	if err != nil {
		return "", classify(err)
	}

	if len(response.Choices) == 0 {
		return "", ErrMalformedResponse
	}

	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}

func (c *Client) lockFor(conversationID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	lock, ok := c.inFlight[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		c.inFlight[conversationID] = lock
	}

	return lock
}

func (c *Client) apiClient(apiKey string) *openai.Client {
	clientConfig := openai.DefaultConfig(apiKey)

	clientConfig.BaseURL = c.cfg.OpenAI.BaseURL
	clientConfig.HTTPClient = &http.Client{
		Timeout: c.timeout,
	}

	return openai.NewClientWithConfig(clientConfig)
}

func toWireMessages(entries []history.Entry) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(entries))

	for _, entry := range entries {
		msg := openai.ChatCompletionMessage{
			Role:    string(entry.Role),
			Content: entry.Content,
		}
		if entry.Role == history.RoleUser {
			msg.Name = entry.Name
		}
		result = append(result, msg)
	}

	return result
}
