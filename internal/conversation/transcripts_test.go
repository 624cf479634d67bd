package conversation

import (
	"context"
	"testing"

	"github.com/pirate-talk/bot/internal/engine"
	"github.com/pirate-talk/bot/internal/models"
	"github.com/pirate-talk/bot/internal/speech"
	"github.com/pirate-talk/bot/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestTranscripts(eng engine.Engine) (*Transcripts, storage.Storage) {
	store := storage.NewMemoryStorage()
	tr := NewTranscripts(eng, store, Config{WorkspaceID: "ws-1"}, zap.NewNop())
	return tr, store
}

func TestTranscriptSaveKeysByCurrentTurn(t *testing.T) {
	eng := &stubEngine{context: engine.Context{ConversationID: "c1", TurnCounter: 4}, hasCtx: true}
	tr, store := newTestTranscripts(eng)

	record, err := tr.Save(context.Background(), "facebook", "u1", &speech.Transcript{
		Text:       "how do i order coffee",
		Confidence: 0.91,
		Seconds:    2.4,
	})
	require.NoError(t, err)
	assert.Equal(t, "c1:4", record.ID)
	assert.False(t, record.Modified)

	var saved models.Transcript
	require.NoError(t, store.Transcripts().Get(context.Background(), "c1:4", &saved))
	assert.Equal(t, "how do i order coffee", saved.Text)
	assert.Equal(t, 0.91, saved.Confidence)
	assert.Equal(t, "ws-1", saved.Workspace)
}

func TestTranscriptSaveRequiresActiveConversation(t *testing.T) {
	tr, _ := newTestTranscripts(&stubEngine{})

	_, err := tr.Save(context.Background(), "facebook", "u1", &speech.Transcript{Text: "hello"})
	assert.Error(t, err)
}

func TestTranscriptUpdateKeepsOriginalText(t *testing.T) {
	eng := &stubEngine{context: engine.Context{ConversationID: "c1", TurnCounter: 0}, hasCtx: true}
	tr, store := newTestTranscripts(eng)

	_, err := tr.Save(context.Background(), "facebook", "u1", &speech.Transcript{Text: "how do i order covfefe"})
	require.NoError(t, err)

	ok, err := tr.Update(context.Background(), "c1:0", "how do i order coffee")
	require.NoError(t, err)
	require.True(t, ok)

	var saved models.Transcript
	require.NoError(t, store.Transcripts().Get(context.Background(), "c1:0", &saved))
	assert.True(t, saved.Modified)
	assert.Equal(t, "how do i order coffee", saved.Text)
	assert.Equal(t, "how do i order covfefe", saved.Original)
}

func TestTranscriptUpdateDropsEmptyAndUnknown(t *testing.T) {
	eng := &stubEngine{context: engine.Context{ConversationID: "c1"}, hasCtx: true}
	tr, _ := newTestTranscripts(eng)

	ok, err := tr.Update(context.Background(), "c1:0", "")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = tr.Update(context.Background(), "c9:9", "corrected")
	require.NoError(t, err)
	assert.False(t, ok)
}
