package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pirate-talk/bot/internal/engine"
	"github.com/pirate-talk/bot/internal/models"
	"github.com/pirate-talk/bot/internal/storage"
	"go.uber.org/zap"
)

// Correlator matches asynchronous feedback signals (button presses, form
// submissions) back to the dialog turn that produced them and persists
// the merged record. Storage writes are single-attempt; the caller
// surfaces a failure to the user as a friendly message.
type Correlator struct {
	registry *Registry
	engine   engine.Engine
	store    storage.Storage
	logger   *zap.Logger
	config   Config
}

func NewCorrelator(registry *Registry, eng engine.Engine, store storage.Storage, config Config, logger *zap.Logger) *Correlator {
	return &Correlator{
		registry: registry,
		engine:   eng,
		store:    store,
		logger:   logger,
		config:   config.withDefaults(),
	}
}

// RecordFeedback persists the user's rating of the turn the token points
// at. It returns false without error on a correlation miss: stale tokens
// and cross-session feedback are dropped, not stored, so they cannot
// corrupt another session's record.
func (c *Correlator) RecordFeedback(ctx context.Context, frontend, userID string, token models.CorrelationToken, action string, suggestion *models.Suggestion) (bool, error) {
	user := c.registry.FindOrCreate(userID, false)
	if user == nil {
		c.logger.Info("Feedback for unknown user dropped",
			zap.String("user_id", userID),
			zap.String("token", token.String()))
		return false, nil
	}

	// Reject feedback referring to a session other than the user's
	// current one.
	current, ok := c.engine.UserContext(userID)
	if !ok || current.ConversationID != token.ConversationID {
		c.logger.Info("Stale feedback dropped",
			zap.String("user_id", userID),
			zap.String("token", token.String()))
		return false, nil
	}

	turn := user.FindTurn(token.ConversationID, token.TurnID)
	if turn == nil {
		c.logger.Info("Feedback for unrecorded turn dropped",
			zap.String("user_id", userID),
			zap.String("token", token.String()))
		return false, nil
	}

	// What the bot asked before the rated answer; empty for turn 0.
	botAsked := []string{}
	if prev := user.FindTurn(token.ConversationID, token.TurnID-1); prev != nil {
		botAsked = prev.BotOutput
	}

	feedback := models.Feedback{
		ID:         token.String(),
		Workspace:  c.config.WorkspaceID,
		Frontend:   frontend,
		Action:     action,
		Suggestion: suggestion,
		BotAsked:   botAsked,
		Turn:       *turn,
	}

	if err := c.store.Feedbacks().Save(ctx, feedback.ID, feedback); err != nil {
		c.logger.Error("Failed to save feedback",
			zap.Error(err),
			zap.String("feedback_id", feedback.ID))
		return false, err
	}
	return true, nil
}

// UpdateSuggestion merges a later free-text correction into an already
// stored feedback record. Last write wins: at most one suggestion dialog
// can be open per user at a time, enforced by the UI flow.
func (c *Correlator) UpdateSuggestion(ctx context.Context, feedbackID string, suggestion models.Suggestion) (bool, error) {
	var feedback models.Feedback
	err := c.store.Feedbacks().Get(ctx, feedbackID, &feedback)
	if errors.Is(err, storage.ErrNotFound) {
		c.logger.Warn("Suggestion for unknown feedback dropped",
			zap.String("feedback_id", feedbackID))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load feedback %s: %w", feedbackID, err)
	}

	feedback.Suggestion = &suggestion
	if err := c.store.Feedbacks().Save(ctx, feedbackID, feedback); err != nil {
		return false, fmt.Errorf("failed to update feedback %s: %w", feedbackID, err)
	}
	return true, nil
}

// RecordSurvey stores an open-ended comment about the user's current
// conversation.
func (c *Correlator) RecordSurvey(ctx context.Context, frontend, userID, comment string) (bool, error) {
	current, ok := c.engine.UserContext(userID)
	if !ok {
		c.logger.Info("Survey without active conversation dropped",
			zap.String("user_id", userID))
		return false, nil
	}

	survey := models.Survey{
		ID:           current.ConversationID,
		Conversation: current.ConversationID,
		Workspace:    c.config.WorkspaceID,
		Frontend:     frontend,
		Comment:      comment,
		Timestamp:    time.Now(),
	}

	if err := c.store.Surveys().Save(ctx, survey.ID, survey); err != nil {
		c.logger.Error("Failed to save survey",
			zap.Error(err),
			zap.String("survey_id", survey.ID))
		return false, err
	}
	return true, nil
}
