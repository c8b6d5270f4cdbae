package history

import (
	"strings"
	"sync"

	"groupchat/app/config"
	"groupchat/app/service/prompt"
	"groupchat/app/service/settings"
	"groupchat/app/store/messages"

	"github.com/elliotchance/pie/v2"
	"github.com/samber/do"
)

const maxHandleLength = 64

// Service keeps the bounded, role-tagged prompt history of every
// conversation. Entry 0 is always the system prompt and is regenerated, never
// appended over. The history is a derived replay cache: the message store
// stays the source of truth and Resync rebuilds from it at any time.
type Service struct {
	cfg         *config.Config
	settingsSvc *settings.Service

	mu        sync.RWMutex
	histories map[string][]Entry
}

func New(di *do.Injector) (*Service, error) {
	return &Service{
		cfg:         do.MustInvoke[*config.Config](di),
		settingsSvc: do.MustInvoke[*settings.Service](di),
		histories:   make(map[string][]Entry),
	}, nil
}

// Ensure creates the conversation's history with a single system entry built
// from the current settings, if it does not exist yet.
func (s *Service) Ensure(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureLocked(conversationID)
}

func (s *Service) ensureLocked(conversationID string) []Entry {
	if existing, ok := s.histories[conversationID]; ok {
		return existing
	}

	seeded := []Entry{{
		Role:    RoleSystem,
		Content: prompt.Build(s.settingsSvc.Get(conversationID)),
	}}
	s.histories[conversationID] = seeded

	return seeded
}

// Append adds a turn to the conversation's history, sanitizing the display
// name of user turns into the handle transmitted to the model. The oldest
// non-system entries are evicted once the limit is exceeded.
func (s *Service) Append(conversationID string, role Role, content, displayName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.ensureLocked(conversationID)

	entry := Entry{Role: role, Content: content}
	if role == RoleUser {
		entry.Name = SanitizeHandle(displayName)
	}

	entries = append(entries, entry)

	if limit := s.cfg.Chat.HistoryLimit; len(entries) > limit {
		trimmed := make([]Entry, 0, limit)
		trimmed = append(trimmed, entries[0])
		trimmed = append(trimmed, entries[len(entries)-(limit-1):]...)
		entries = trimmed
	}

	s.histories[conversationID] = entries
}

// Reset discards the conversation's history and re-seeds the system entry
// from the current settings. Used after settings edits and explicit clears.
func (s *Service) Reset(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.histories[conversationID] = []Entry{{
		Role:    RoleSystem,
		Content: prompt.Build(s.settingsSvc.Get(conversationID)),
	}}
}

// Resync rebuilds the conversation's history from the durable message feed:
// clear, re-seed the system entry, replay every message in timestamp order.
// Calling it twice with the same snapshot yields the same history.
func (s *Service) Resync(conversationID string, msgs []messages.Message) {
	ordered := pie.SortStableUsing(msgs, func(a, b messages.Message) bool {
		return a.Timestamp.Before(b.Timestamp)
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := []Entry{{
		Role:    RoleSystem,
		Content: prompt.Build(s.settingsSvc.Get(conversationID)),
	}}

	for _, msg := range ordered {
		entry := Entry{Role: RoleUser, Content: msg.Text, Name: SanitizeHandle(msg.SenderName)}
		if msg.FromAssistant || msg.SenderID == messages.AssistantSenderID {
			entry = Entry{Role: RoleAssistant, Content: msg.Text}
		}
		entries = append(entries, entry)
	}

	if limit := s.cfg.Chat.HistoryLimit; len(entries) > limit {
		trimmed := make([]Entry, 0, limit)
		trimmed = append(trimmed, entries[0])
		trimmed = append(trimmed, entries[len(entries)-(limit-1):]...)
		entries = trimmed
	}

	s.histories[conversationID] = entries
}

// Last returns the most recent entry, or false for a fresh or system-only
// history.
func (s *Service) Last(conversationID string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, ok := s.histories[conversationID]
	if !ok || len(entries) < 2 {
		return Entry{}, false
	}

	return entries[len(entries)-1], true
}

// Snapshot returns a copy of the conversation's history for prompting.
func (s *Service) Snapshot(conversationID string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.ensureLocked(conversationID)

	result := make([]Entry, len(entries))
	copy(result, entries)

	return result
}

// SanitizeHandle normalizes a display name into the sender tag transmitted
// to the model: lowercase, alphanumeric only, capped length.
func SanitizeHandle(name string) string {
	var builder strings.Builder

	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			builder.WriteRune(r)
		}
		if builder.Len() >= maxHandleLength {
			break
		}
	}

	return builder.String()
}
