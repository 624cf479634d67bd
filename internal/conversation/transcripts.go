package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pirate-talk/bot/internal/engine"
	"github.com/pirate-talk/bot/internal/models"
	"github.com/pirate-talk/bot/internal/speech"
	"github.com/pirate-talk/bot/internal/storage"
	"go.uber.org/zap"
)

// Transcripts persists speech-to-text results keyed by the same
// conversation:turn composite id used for feedback, so a transcript and
// its later correction land on the same record.
type Transcripts struct {
	engine engine.Engine
	store  storage.Storage
	logger *zap.Logger
	config Config
}

func NewTranscripts(eng engine.Engine, store storage.Storage, config Config, logger *zap.Logger) *Transcripts {
	return &Transcripts{
		engine: eng,
		store:  store,
		logger: logger,
		config: config.withDefaults(),
	}
}

// Save stores a fresh recognition result for the user's current turn and
// returns the persisted record.
func (t *Transcripts) Save(ctx context.Context, frontend, userID string, result *speech.Transcript) (*models.Transcript, error) {
	current, ok := t.engine.UserContext(userID)
	if !ok {
		return nil, fmt.Errorf("no active conversation for user %s", userID)
	}

	record := &models.Transcript{
		ID: models.CorrelationToken{
			ConversationID: current.ConversationID,
			TurnID:         current.TurnCounter,
		}.String(),
		Conversation: current.ConversationID,
		Workspace:    t.config.WorkspaceID,
		Frontend:     frontend,
		Text:         result.Text,
		URL:          result.URL,
		Confidence:   result.Confidence,
		Seconds:      result.Seconds,
		Modified:     false,
		Timestamp:    time.Now(),
	}

	if err := t.store.Transcripts().Save(ctx, record.ID, record); err != nil {
		return nil, fmt.Errorf("failed to save transcript %s: %w", record.ID, err)
	}
	return record, nil
}

// Update applies the user's correction to a stored transcript, keeping
// the machine text for later model review.
func (t *Transcripts) Update(ctx context.Context, transcriptID, text string) (bool, error) {
	if text == "" {
		return false, nil
	}

	var record models.Transcript
	err := t.store.Transcripts().Get(ctx, transcriptID, &record)
	if errors.Is(err, storage.ErrNotFound) {
		t.logger.Warn("Correction for unknown transcript dropped",
			zap.String("transcript_id", transcriptID))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load transcript %s: %w", transcriptID, err)
	}

	record.Original = record.Text
	record.Text = text
	record.Modified = true

	if err := t.store.Transcripts().Save(ctx, transcriptID, record); err != nil {
		return false, fmt.Errorf("failed to update transcript %s: %w", transcriptID, err)
	}
	return true, nil
}
