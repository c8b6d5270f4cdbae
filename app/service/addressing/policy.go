package addressing

import (
	"regexp"
	"strings"

	"groupchat/app/config"
	"groupchat/app/service/history"

	"github.com/samber/do"
)

const (
	MatchModeWord      = "word"
	MatchModeSubstring = "substring"
)

// Policy decides whether the assistant should respond to a human message.
// Purely in-memory string heuristics, no I/O.
type Policy struct {
	matchMode string
}

func New(di *do.Injector) (*Policy, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return &Policy{matchMode: cfg.Chat.MatchMode}, nil
}

// ShouldRespond reports whether a message addresses the assistant. It does
// when the message mentions the assistant by name, or when the assistant was
// the previous speaker (a follow-up question counts as such a continuation).
// All checks are case-insensitive.
func (p *Policy) ShouldRespond(messageText, assistantName string, previous history.Entry) bool {
	if p.mentionsName(messageText, assistantName) {
		return true
	}

	return previous.Role == history.RoleAssistant
}

func (p *Policy) mentionsName(messageText, assistantName string) bool {
	name := strings.TrimSpace(assistantName)
	if name == "" {
		return false
	}

	if p.matchMode == MatchModeSubstring {
		return strings.Contains(strings.ToLower(messageText), strings.ToLower(name))
	}

	pattern := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(name) + `\b`)

	return pattern.MatchString(messageText)
}
