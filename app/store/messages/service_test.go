package messages

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"groupchat/app/config"

	"github.com/samber/do"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	cfg := &config.Config{}
	cfg.DB.Path = filepath.Join(t.TempDir(), "test.db")

	di := do.New()
	t.Cleanup(func() { _ = di.Shutdown() })

	do.ProvideValue(di, cfg)
	do.Provide(di, New)

	return do.MustInvoke[*Service](di)
}

func TestAppendAndList(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)

	_, err := svc.Append(ctx, Message{
		ConversationID: "conv-1",
		SenderID:       "u1",
		SenderName:     "Alice",
		Text:           "second",
		Timestamp:      base.Add(time.Second),
	})
	require.NoError(t, err)

	first, err := svc.Append(ctx, Message{
		ConversationID: "conv-1",
		SenderID:       "u2",
		SenderName:     "Bob",
		Text:           "first",
		Timestamp:      base,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID, "ID is generated when unset")

	stored, err := svc.List(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "first", stored[0].Text)
	assert.Equal(t, "second", stored[1].Text)
}

func TestList_ConversationsAreIsolated(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Append(ctx, Message{ConversationID: "conv-1", SenderID: "u1", SenderName: "Alice", Text: "hello"})
	require.NoError(t, err)

	stored, err := svc.List(ctx, "conv-2")
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestClear(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Append(ctx, Message{ConversationID: "conv-1", SenderID: "u1", SenderName: "Alice", Text: "hello"})
	require.NoError(t, err)

	require.NoError(t, svc.Clear(ctx, "conv-1"))

	stored, err := svc.List(ctx, "conv-1")
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestSubscribe_ReceivesAppendedMessages(t *testing.T) {
	svc := newTestService(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := svc.Subscribe(ctx, "conv-1")

	appended, err := svc.Append(context.Background(), Message{
		ConversationID: "conv-1",
		SenderID:       "u1",
		SenderName:     "Alice",
		Text:           "hello",
	})
	require.NoError(t, err)

	select {
	case received := <-feed:
		assert.Equal(t, appended.ID, received.ID)
		assert.Equal(t, "hello", received.Text)
	case <-time.After(time.Second):
		t.Fatal("no message received on subscription")
	}
}

func TestSubscribe_OtherConversationIsSilent(t *testing.T) {
	svc := newTestService(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := svc.Subscribe(ctx, "conv-2")

	_, err := svc.Append(context.Background(), Message{
		ConversationID: "conv-1",
		SenderID:       "u1",
		SenderName:     "Alice",
		Text:           "hello",
	})
	require.NoError(t, err)

	select {
	case msg := <-feed:
		t.Fatalf("unexpected message: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}
