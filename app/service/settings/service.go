package settings

import (
	"strings"
	"sync"

	"groupchat/app/config"

	"github.com/samber/do"
)

// Assistant is the per-conversation assistant configuration. A conversation
// without an APIKey has AI participation disabled.
type Assistant struct {
	ConversationID     string `json:"conversationId"`
	AssistantName      string `json:"assistantName"`
	CustomInstructions string `json:"customInstructions,omitempty"`
	APIKey             string `json:"-"`
}

// Update is a partial settings change. Nil fields are left untouched.
type Update struct {
	AssistantName      *string `json:"assistantName"`
	CustomInstructions *string `json:"customInstructions"`
	APIKey             *string `json:"apiKey"`
}

type Service struct {
	cfg *config.Config

	mu   sync.RWMutex
	byID map[string]Assistant
}

func New(di *do.Injector) (*Service, error) {
	return &Service{
		cfg:  do.MustInvoke[*config.Config](di),
		byID: make(map[string]Assistant),
	}, nil
}

// Get returns the conversation's settings, defaulting them on first access.
// It never fails: an unknown conversation yields a fresh default.
func (s *Service) Get(conversationID string) Assistant {
	s.mu.RLock()
	current, ok := s.byID[conversationID]
	s.mu.RUnlock()

	if ok {
		return current
	}

	return Assistant{
		ConversationID: conversationID,
		AssistantName:  s.cfg.Chat.DefaultAssistantName,
	}
}

// Set merges the update into the conversation's settings and returns the new
// value plus whether the assistant name or custom instructions changed. A
// change to either must be followed by a prompt-history reset, which the
// orchestrator forwards.
func (s *Service) Set(conversationID string, update Update) (Assistant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[conversationID]
	if !ok {
		current = Assistant{
			ConversationID: conversationID,
			AssistantName:  s.cfg.Chat.DefaultAssistantName,
		}
	}

	promptChanged := false

	if update.AssistantName != nil {
		name := strings.TrimSpace(*update.AssistantName)
		if name == "" {
			name = s.cfg.Chat.DefaultAssistantName
		}
		if name != current.AssistantName {
			current.AssistantName = name
			promptChanged = true
		}
	}

	if update.CustomInstructions != nil && *update.CustomInstructions != current.CustomInstructions {
		current.CustomInstructions = *update.CustomInstructions
		promptChanged = true
	}

	if update.APIKey != nil {
		current.APIKey = *update.APIKey
	}

	s.byID[conversationID] = current

	return current, promptChanged
}
