package archive

import (
	"testing"

	"github.com/BaSui01/chatflow/conversation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSaveAndLoad(t *testing.T) {
	t.Parallel()

	store, err := NewStore(":memory:", nil)
	require.NoError(t, err)

	orch := restoredOrchestrator(t)
	result := &conversation.Result{
		ConversationID: orch.ID(),
		State:          conversation.StateCompleted,
		TurnCount:      2,
	}
	require.NoError(t, store.SaveRun(orch, result, ModeConversation))

	loaded, err := store.LoadArchive(orch.ID())
	require.NoError(t, err)
	assert.Equal(t, "Discuss cats", loaded.Topic)
	assert.Equal(t, ModeConversation, loaded.Metadata.Mode)
	assert.Equal(t, 6, loaded.Metadata.MaxTurns)
	require.Len(t, loaded.Metadata.Participants, 2)
	assert.Equal(t, "claude", loaded.Metadata.Participants[1].Provider)

	require.Len(t, loaded.Messages, 3)
	assert.Equal(t, conversation.UserAuthorName, loaded.Messages[0].From)
	assert.Equal(t, "meow", loaded.Messages[1].Content)
	assert.Equal(t, "claude (sonnet)", loaded.Messages[2].From)
}

func TestStoreSaveRunReplacesEarlierSnapshot(t *testing.T) {
	t.Parallel()

	store, err := NewStore(":memory:", nil)
	require.NoError(t, err)

	orch := restoredOrchestrator(t)
	result := &conversation.Result{State: conversation.StateStopped, TurnCount: 2}
	require.NoError(t, store.SaveRun(orch, result, ModeConversation))

	result.State = conversation.StateCompleted
	require.NoError(t, store.SaveRun(orch, result, ModeConversation))

	records, err := store.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, string(conversation.StateCompleted), records[0].State)
	assert.Equal(t, orch.ID(), records[0].ConversationID)
}

func TestStoreLoadUnknownConversation(t *testing.T) {
	t.Parallel()

	store, err := NewStore(":memory:", nil)
	require.NoError(t, err)

	_, err = store.LoadArchive("no-such-id")
	require.Error(t, err)
}

func TestStoreListEmpty(t *testing.T) {
	t.Parallel()

	store, err := NewStore(":memory:", nil)
	require.NoError(t, err)

	records, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, records)
}
