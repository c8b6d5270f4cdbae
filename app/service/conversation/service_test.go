package conversation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	openaiclient "groupchat/app/client/openai"
	"groupchat/app/config"
	"groupchat/app/service/addressing"
	"groupchat/app/service/history"
	"groupchat/app/service/settings"
	"groupchat/app/store/messages"

	"github.com/samber/do"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
		Name    string `json:"name"`
	} `json:"messages"`
}

type testStack struct {
	svc         *Service
	settingsSvc *settings.Service
	historySvc  *history.Service
	msgStore    *messages.Service
}

func newTestStack(t *testing.T, handler http.HandlerFunc, timeoutSeconds int) *testStack {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.Config{}
	cfg.DB.Path = filepath.Join(t.TempDir(), "test.db")
	cfg.OpenAI.BaseURL = srv.URL
	cfg.OpenAI.Model = "gpt-4o"
	cfg.OpenAI.Temperature = 0.7
	cfg.OpenAI.MaxTokens = 150
	cfg.OpenAI.TimeoutSeconds = timeoutSeconds
	cfg.Chat.DefaultAssistantName = "Assistant"
	cfg.Chat.HistoryLimit = 50
	cfg.Chat.MatchMode = addressing.MatchModeWord

	di := do.New()
	t.Cleanup(func() { _ = di.Shutdown() })

	do.ProvideValue(di, cfg)
	do.Provide(di, messages.New)
	do.Provide(di, settings.New)
	do.Provide(di, history.New)
	do.Provide(di, addressing.New)
	do.Provide(di, openaiclient.New)
	do.Provide(di, New)

	return &testStack{
		svc:         do.MustInvoke[*Service](di),
		settingsSvc: do.MustInvoke[*settings.Service](di),
		historySvc:  do.MustInvoke[*history.Service](di),
		msgStore:    do.MustInvoke[*messages.Service](di),
	}
}

func replyWith(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"` + content + `"}}]}`))
	}
}

func userMessage(text string) messages.Message {
	return messages.Message{
		ConversationID: "conv-1",
		SenderID:       "u1",
		SenderName:     "Jane Doe",
		Text:           text,
	}
}

func configureAssistant(stack *testStack, name string) {
	key := "sk-test"
	stack.svc.UpdateSettings("conv-1", settings.Update{AssistantName: &name, APIKey: &key})
}

func TestHandleIncoming_SkipsUnaddressedMessage(t *testing.T) {
	stack := newTestStack(t, replyWith("should not be called"), 5)
	configureAssistant(stack, "Nova")

	reply, outcome, err := stack.svc.HandleIncoming(context.Background(), userMessage("hello everyone"))
	require.NoError(t, err)
	assert.Nil(t, reply)
	assert.Equal(t, OutcomeSkipped, outcome)

	// The human message is still persisted.
	stored, err := stack.msgStore.List(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "hello everyone", stored[0].Text)
	assert.False(t, stored[0].FromAssistant)
}

func TestHandleIncoming_RepliesWhenAddressed(t *testing.T) {
	var captured capturedRequest

	stack := newTestStack(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		replyWith("hi Jane!")(w, r)
	}, 5)
	configureAssistant(stack, "Nova")

	reply, outcome, err := stack.svc.HandleIncoming(context.Background(), userMessage("hey Nova, how are you?"))
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Equal(t, "hi Jane!", reply.Text)
	assert.True(t, reply.FromAssistant)
	assert.Equal(t, "Nova", reply.SenderName)

	// Prompt contains the system entry and the tagged user turn.
	require.GreaterOrEqual(t, len(captured.Messages), 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Contains(t, captured.Messages[0].Content, "Nova")
	last := captured.Messages[len(captured.Messages)-1]
	assert.Equal(t, "user", last.Role)
	assert.Equal(t, "janedoe", last.Name)

	// Both turns are in the store, in order.
	stored, err := stack.msgStore.List(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.False(t, stored[0].FromAssistant)
	assert.True(t, stored[1].FromAssistant)
}

func TestHandleIncoming_ContinuationAfterAssistantTurn(t *testing.T) {
	stack := newTestStack(t, replyWith("sure thing"), 5)
	configureAssistant(stack, "Nova")

	_, outcome, err := stack.svc.HandleIncoming(context.Background(), userMessage("Nova, got a sec?"))
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, outcome)

	// No name mention this time; the assistant spoke last, so it continues.
	reply, outcome, err := stack.svc.HandleIncoming(context.Background(), userMessage("I disagree with that"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.NotNil(t, reply)
}

func TestHandleIncoming_MissingCredentialSurfacesConfigurationError(t *testing.T) {
	stack := newTestStack(t, replyWith("unused"), 5)
	name := "Nova"
	stack.svc.UpdateSettings("conv-1", settings.Update{AssistantName: &name})

	reply, outcome, err := stack.svc.HandleIncoming(context.Background(), userMessage("hey Nova"))
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Contains(t, reply.Text, "AI not configured")
	assert.True(t, reply.FromAssistant)
}

func TestHandleIncoming_TimeoutYieldsVisibleFailure(t *testing.T) {
	stack := newTestStack(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(3 * time.Second)
	}, 1)
	configureAssistant(stack, "Nova")

	reply, outcome, err := stack.svc.HandleIncoming(context.Background(), userMessage("Nova?"))
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.NotEmpty(t, reply.Text)
	assert.Contains(t, reply.Text, "timed out")

	// The failure is visible in the conversation like any assistant message.
	stored, err := stack.msgStore.List(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.True(t, stored[1].FromAssistant)
}

func TestHandleIncoming_UpstreamErrorMessageIsSurfaced(t *testing.T) {
	stack := newTestStack(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"The model is overloaded"}}`))
	}, 5)
	configureAssistant(stack, "Nova")

	reply, outcome, err := stack.svc.HandleIncoming(context.Background(), userMessage("hey Nova"))
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Contains(t, reply.Text, "The model is overloaded")
}

func TestUpdateSettings_NameChangePropagatesIntoSystemPrompt(t *testing.T) {
	var captured capturedRequest

	stack := newTestStack(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		replyWith("ok")(w, r)
	}, 5)
	configureAssistant(stack, "Nova")

	_, _, err := stack.svc.HandleIncoming(context.Background(), userMessage("hey Nova"))
	require.NoError(t, err)

	configureAssistant(stack, "Sage")

	_, outcome, err := stack.svc.HandleIncoming(context.Background(), userMessage("hey Sage"))
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, outcome)

	assert.Contains(t, captured.Messages[0].Content, "Sage")
	assert.NotContains(t, captured.Messages[0].Content, "Nova")
}

func TestClear_EmptiesStoreAndHistory(t *testing.T) {
	stack := newTestStack(t, replyWith("ok"), 5)
	configureAssistant(stack, "Nova")

	_, _, err := stack.svc.HandleIncoming(context.Background(), userMessage("hey Nova"))
	require.NoError(t, err)

	require.NoError(t, stack.svc.Clear(context.Background(), "conv-1"))

	stored, err := stack.msgStore.List(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Empty(t, stored)

	_, ok := stack.historySvc.Last("conv-1")
	assert.False(t, ok, "history is back to the system entry only")
}

func TestHandleIncoming_ResyncsFromStoreOnFirstTouch(t *testing.T) {
	var captured capturedRequest

	stack := newTestStack(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		replyWith("welcome back")(w, r)
	}, 5)
	configureAssistant(stack, "Nova")

	// Messages that predate this process, straight into the store.
	base := time.Now().UTC().Add(-time.Minute)
	_, err := stack.msgStore.Append(context.Background(), messages.Message{
		ConversationID: "conv-1",
		SenderID:       "u2",
		SenderName:     "Bob",
		Text:           "my favourite colour is teal",
		Timestamp:      base,
	})
	require.NoError(t, err)

	_, outcome, err := stack.svc.HandleIncoming(context.Background(), userMessage("Nova, what's Bob's favourite colour?"))
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, outcome)

	var sawReplayedTurn bool
	for _, msg := range captured.Messages {
		if msg.Content == "my favourite colour is teal" {
			sawReplayedTurn = true
		}
	}
	assert.True(t, sawReplayedTurn, "prompt includes turns replayed from the store")
}
