package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"groupchat/app/client/openai"
	"groupchat/app/config"
	"groupchat/app/service/addressing"
	"groupchat/app/service/history"
	"groupchat/app/service/settings"
	"groupchat/app/store/messages"

	"github.com/samber/do"
)

// Service coordinates one conversation turn end to end: ledger update,
// addressing decision, completion call, reply persistence. Each
// conversation's ledger mutations are serialized; the completion call itself
// runs with the ledger unlocked once the prompt snapshot has been taken.
type Service struct {
	cfg         *config.Config
	settingsSvc *settings.Service
	historySvc  *history.Service
	policy      *addressing.Policy
	completions *openai.Client
	msgStore    *messages.Service

	mu     sync.Mutex
	states map[string]*conversationState
	locks  map[string]*sync.Mutex
}

func New(di *do.Injector) (*Service, error) {
	return &Service{
		cfg:         do.MustInvoke[*config.Config](di),
		settingsSvc: do.MustInvoke[*settings.Service](di),
		historySvc:  do.MustInvoke[*history.Service](di),
		policy:      do.MustInvoke[*addressing.Policy](di),
		completions: do.MustInvoke[*openai.Client](di),
		msgStore:    do.MustInvoke[*messages.Service](di),
		states:      make(map[string]*conversationState),
		locks:       make(map[string]*sync.Mutex),
	}, nil
}

// HandleIncoming persists an inbound human message, decides whether the
// assistant should respond, and if so produces the assistant's reply. The
// reply is persisted to the message store and returned; a nil reply with
// OutcomeSkipped means the message was not addressed to the assistant. A
// failed completion still yields a reply carrying a short user-facing
// explanation, so the conversation never goes silent on an addressed message.
func (s *Service) HandleIncoming(ctx context.Context, msg messages.Message) (*messages.Message, Outcome, error) {
	assistant := s.settingsSvc.Get(msg.ConversationID)

	lock := s.lockFor(msg.ConversationID)
	lock.Lock()

	if err := s.ensureSyncedLocked(ctx, msg.ConversationID); err != nil {
		lock.Unlock()
		return nil, OutcomeFailed, fmt.Errorf("failed to sync history: %w", err)
	}

	stored, err := s.msgStore.Append(ctx, msg)
	if err != nil {
		lock.Unlock()
		return nil, OutcomeFailed, fmt.Errorf("failed to persist message: %w", err)
	}

	previous, _ := s.historySvc.Last(msg.ConversationID)
	s.historySvc.Append(msg.ConversationID, history.RoleUser, stored.Text, stored.SenderName)

	shouldRespond := s.policy.ShouldRespond(stored.Text, assistant.AssistantName, previous)
	snapshot := s.historySvc.Snapshot(msg.ConversationID)

	lock.Unlock()

	if !shouldRespond {
		slog.Debug("Message not addressed to assistant",
			"conversation_id", msg.ConversationID)
		return nil, OutcomeSkipped, nil
	}

	replyText, err := s.completions.Complete(ctx, msg.ConversationID, snapshot, assistant.APIKey)
	if err != nil {
		slog.Error("Completion failed",
			"conversation_id", msg.ConversationID,
			"error", err)

		failure, storeErr := s.persistReply(ctx, msg.ConversationID, assistant.AssistantName, userFacingError(err))
		if storeErr != nil {
			return nil, OutcomeFailed, storeErr
		}

		return failure, OutcomeFailed, nil
	}

	lock.Lock()
	s.historySvc.Append(msg.ConversationID, history.RoleAssistant, replyText, "")
	lock.Unlock()

	reply, err := s.persistReply(ctx, msg.ConversationID, assistant.AssistantName, replyText)
	if err != nil {
		return nil, OutcomeFailed, err
	}

	slog.Info("Assistant replied",
		"conversation_id", msg.ConversationID,
		"length", len(replyText))

	return reply, OutcomeCompleted, nil
}

// UpdateSettings applies a partial settings change and resets the
// conversation's prompt history when the assistant name or custom
// instructions changed, so the next completion sees the new system prompt.
func (s *Service) UpdateSettings(conversationID string, update settings.Update) settings.Assistant {
	assistant, promptChanged := s.settingsSvc.Set(conversationID, update)

	if promptChanged {
		lock := s.lockFor(conversationID)
		lock.Lock()
		s.historySvc.Reset(conversationID)
		s.markUnsynced(conversationID)
		lock.Unlock()

		slog.Info("Assistant settings changed, prompt history reset",
			"conversation_id", conversationID,
			"assistant_name", assistant.AssistantName)
	}

	return assistant
}

// Settings returns the conversation's current assistant settings.
func (s *Service) Settings(conversationID string) settings.Assistant {
	return s.settingsSvc.Get(conversationID)
}

// Clear deletes the conversation's stored messages and re-seeds its prompt
// history.
func (s *Service) Clear(ctx context.Context, conversationID string) error {
	lock := s.lockFor(conversationID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.msgStore.Clear(ctx, conversationID); err != nil {
		return fmt.Errorf("msgStore.Clear: %w", err)
	}

	s.historySvc.Reset(conversationID)

	return nil
}

// Resync rebuilds the conversation's prompt history from the message store.
func (s *Service) Resync(ctx context.Context, conversationID string) error {
	lock := s.lockFor(conversationID)
	lock.Lock()
	defer lock.Unlock()

	return s.resyncLocked(ctx, conversationID)
}

func (s *Service) resyncLocked(ctx context.Context, conversationID string) error {
	stored, err := s.msgStore.List(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("msgStore.List: %w", err)
	}

	s.historySvc.Resync(conversationID, stored)

	s.mu.Lock()
	s.states[conversationID] = &conversationState{synced: true}
	s.mu.Unlock()

	return nil
}

// ensureSyncedLocked replays the stored feed into the ledger on the first
// touch of a conversation, so the prompt context survives restarts.
func (s *Service) ensureSyncedLocked(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	state, ok := s.states[conversationID]
	s.mu.Unlock()

	if ok && state.synced {
		return nil
	}

	return s.resyncLocked(ctx, conversationID)
}

func (s *Service) markUnsynced(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[conversationID] = &conversationState{synced: false}
}

func (s *Service) persistReply(ctx context.Context, conversationID, assistantName, text string) (*messages.Message, error) {
	stored, err := s.msgStore.Append(ctx, messages.Message{
		ConversationID: conversationID,
		SenderID:       messages.AssistantSenderID,
		SenderName:     assistantName,
		Text:           text,
		FromAssistant:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist assistant reply: %w", err)
	}

	return &stored, nil
}

func (s *Service) lockFor(conversationID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[conversationID] = lock
	}

	return lock
}
