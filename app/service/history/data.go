package history

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one turn of a conversation's prompt history. Name carries the
// sanitized sender handle and is only set for user turns.
type Entry struct {
	Role    Role
	Content string
	Name    string
}
