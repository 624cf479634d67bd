package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pirate-talk/bot/internal/channel"
	"github.com/pirate-talk/bot/internal/conversation"
	"github.com/pirate-talk/bot/internal/models"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackChannel is what the handler needs from the Slack adapter beyond
// plain replies: popping the feedback dialogs tied to a trigger id.
type SlackChannel interface {
	channel.Adapter
	OpenSuggestionDialog(ctx context.Context, triggerID string, token models.CorrelationToken) error
	OpenSurveyDialog(ctx context.Context, triggerID string) error
}

// SlackHandler decodes Slack event and interactivity payloads. The Slack
// conversation (DM channel) id doubles as the core's user id: it is what
// replies are addressed to and it is stable per user.
type SlackHandler struct {
	dispatcher *conversation.Dispatcher
	correlator *conversation.Correlator
	adapter    SlackChannel
	logger     *zap.Logger
}

func NewSlackHandler(dispatcher *conversation.Dispatcher, correlator *conversation.Correlator, adapter SlackChannel, logger *zap.Logger) *SlackHandler {
	return &SlackHandler{
		dispatcher: dispatcher,
		correlator: correlator,
		adapter:    adapter,
		logger:     logger,
	}
}

type slackEventEnvelope struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Event     struct {
		Type    string `json:"type"`
		Subtype string `json:"subtype"`
		User    string `json:"user"`
		BotID   string `json:"bot_id"`
		Channel string `json:"channel"`
		Text    string `json:"text"`
		Ts      string `json:"ts"`
	} `json:"event"`
}

// Events handles the Slack Events API callback.
func (h *SlackHandler) Events(c *gin.Context) {
	var envelope slackEventEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	switch envelope.Type {
	case "url_verification":
		c.JSON(http.StatusOK, gin.H{"challenge": envelope.Challenge})
		return

	case "event_callback":
		event := envelope.Event
		// Ignore our own messages and non-message noise.
		if event.Type != "message" || event.BotID != "" || event.Subtype != "" {
			break
		}
		// Detached from the request context: Slack needs the 200 within
		// three seconds while the dialog turn may take longer.
		go h.dispatcher.HandleInbound(context.Background(), models.InboundMessage{
			UserID:    event.Channel,
			MessageID: event.Ts,
			Text:      event.Text,
		})
	}

	c.Status(http.StatusOK)
}

// Actions handles interactivity payloads: language and feedback button
// presses, and dialog submissions (suggestions, surveys).
func (h *SlackHandler) Actions(c *gin.Context) {
	var callback slack.InteractionCallback
	if err := json.Unmarshal([]byte(c.PostForm("payload")), &callback); err != nil {
		h.logger.Warn("Malformed interaction payload", zap.Error(err))
		c.Status(http.StatusBadRequest)
		return
	}

	switch callback.Type {
	case slack.InteractionTypeInteractionMessage:
		h.handleButtonPress(c.Request.Context(), &callback)

	case slack.InteractionTypeDialogSubmission:
		h.handleSubmission(c.Request.Context(), &callback)
	}

	c.Status(http.StatusOK)
}

func (h *SlackHandler) handleButtonPress(ctx context.Context, callback *slack.InteractionCallback) {
	if len(callback.ActionCallback.AttachmentActions) == 0 {
		return
	}
	action := callback.ActionCallback.AttachmentActions[0]
	userID := callback.Channel.ID

	// Remember the button message so a later dialog submission can be
	// acknowledged on it.
	ref := models.InteractiveRef{
		ChannelID: callback.Channel.ID,
		MessageID: callback.OriginalMessage.Timestamp,
		Text:      callback.OriginalMessage.Text,
	}
	if user := h.dispatcher.Registry().FindOrCreate(userID, true); user != nil {
		user.SetLastInteractive(&ref)
	}

	switch callback.CallbackID {
	case "pick_language_level":
		level := action.Name
		go h.dispatcher.HandleContinuation(context.Background(), userID, map[string]any{
			"language_level": level,
		})
		h.patchInteractive(ctx, ref, fmt.Sprintf("The story will be for a %s level", level))

	case "survey":
		if err := h.adapter.OpenSurveyDialog(ctx, callback.TriggerID); err != nil {
			h.logger.Error("Failed to open survey dialog", zap.Error(err))
		}

	default:
		h.handleFeedbackButton(ctx, callback, action, ref)
	}
}

func (h *SlackHandler) handleFeedbackButton(ctx context.Context, callback *slack.InteractionCallback, action *slack.AttachmentAction, ref models.InteractiveRef) {
	token, err := models.ParseToken(callback.CallbackID)
	if err != nil {
		h.logger.Warn("Unparseable callback id",
			zap.String("callback_id", callback.CallbackID))
		return
	}

	userID := callback.Channel.ID
	stored, err := h.correlator.RecordFeedback(ctx, h.adapter.Name(), userID, token, action.Value, nil)

	footer := "Thanks for the feedback :clap:"
	if err != nil || !stored {
		footer = "Some problem occurred when storing feedback :scream:"
	}
	h.patchInteractive(ctx, ref, footer)

	// A "maybe" rating invites a written suggestion on top of the stored
	// record.
	if stored && action.Value == "maybe" {
		if err := h.adapter.OpenSuggestionDialog(ctx, callback.TriggerID, token); err != nil {
			h.logger.Error("Failed to open suggestion dialog", zap.Error(err))
		}
	}
}

func (h *SlackHandler) handleSubmission(ctx context.Context, callback *slack.InteractionCallback) {
	userID := callback.Channel.ID

	if callback.CallbackID == "survey" {
		stored, err := h.correlator.RecordSurvey(ctx, h.adapter.Name(), userID, callback.Submission["comment"])
		if err != nil {
			h.logger.Error("Failed to store survey", zap.Error(err))
		}

		// The dialog was opened from a button press; acknowledge on that
		// message.
		if user := h.dispatcher.Registry().FindOrCreate(userID, false); user != nil {
			if ref := user.LastInteractive(); ref != nil {
				footer := "Thank you for your feedback! :hugging_face:"
				if err != nil || !stored {
					footer = "Some problem occurred when storing feedback :scream:"
				}
				h.patchInteractive(ctx, *ref, footer)
			}
		}
		return
	}

	// Suggestion dialogs reuse the feedback token as their callback id.
	if _, err := models.ParseToken(callback.CallbackID); err != nil {
		h.logger.Warn("Unparseable dialog callback id",
			zap.String("callback_id", callback.CallbackID))
		return
	}

	suggestion := models.Suggestion{
		What: callback.Submission["what"],
		How:  callback.Submission["how"],
	}
	if suggestion.What == "" {
		suggestion.What = "response"
	}

	if _, err := h.correlator.UpdateSuggestion(ctx, callback.CallbackID, suggestion); err != nil {
		h.logger.Error("Failed to store suggestion", zap.Error(err))
	}
}

func (h *SlackHandler) patchInteractive(ctx context.Context, ref models.InteractiveRef, footer string) {
	if err := h.adapter.SendInteractivePatch(ctx, ref, footer); err != nil {
		h.logger.Error("Failed to patch interactive message", zap.Error(err))
	}
}
