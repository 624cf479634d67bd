package webhook

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pirate-talk/bot/internal/channel"
	"github.com/pirate-talk/bot/internal/channel/messenger"
	"github.com/pirate-talk/bot/internal/conversation"
	"github.com/pirate-talk/bot/internal/models"
	"github.com/pirate-talk/bot/internal/speech"
	"go.uber.org/zap"
)

// FacebookHandler decodes Messenger webhook events and webview form
// submissions. Form payloads arrive dot-encoded (Messenger drops colons
// from query strings); they are translated back to the canonical token
// form here and nowhere else.
type FacebookHandler struct {
	dispatcher  *conversation.Dispatcher
	correlator  *conversation.Correlator
	transcripts *conversation.Transcripts
	recognizer  speech.Recognizer
	adapter     channel.Adapter
	verifyToken string

	// Transcripts at or above this confidence are fed straight into the
	// dialog; anything lower is parked for user confirmation first.
	autoAcceptConfidence float64

	logger *zap.Logger
}

func NewFacebookHandler(
	dispatcher *conversation.Dispatcher,
	correlator *conversation.Correlator,
	transcripts *conversation.Transcripts,
	recognizer speech.Recognizer,
	adapter channel.Adapter,
	verifyToken string,
	autoAcceptConfidence float64,
	logger *zap.Logger,
) *FacebookHandler {
	return &FacebookHandler{
		dispatcher:           dispatcher,
		correlator:           correlator,
		transcripts:          transcripts,
		recognizer:           recognizer,
		adapter:              adapter,
		verifyToken:          verifyToken,
		autoAcceptConfidence: autoAcceptConfidence,
		logger:               logger,
	}
}

// Verify answers the webhook subscription handshake.
func (h *FacebookHandler) Verify(c *gin.Context) {
	if c.Query("hub.mode") == "subscribe" && c.Query("hub.verify_token") == h.verifyToken {
		c.String(http.StatusOK, c.Query("hub.challenge"))
		return
	}
	c.Status(http.StatusForbidden)
}

type fbWebhook struct {
	Object string `json:"object"`
	Entry  []struct {
		Messaging []fbMessaging `json:"messaging"`
	} `json:"entry"`
}

type fbMessaging struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Message *struct {
		MID         string `json:"mid"`
		Text        string `json:"text"`
		IsEcho      bool   `json:"is_echo"`
		Attachments []struct {
			Type    string `json:"type"`
			Payload struct {
				URL string `json:"url"`
			} `json:"payload"`
		} `json:"attachments"`
	} `json:"message"`
	Delivery *struct {
		MIDs []string `json:"mids"`
	} `json:"delivery"`
	Postback *struct {
		Payload string `json:"payload"`
	} `json:"postback"`
}

// Webhook handles page messaging events: user messages, audio clips,
// delivery confirmations and button postbacks.
func (h *FacebookHandler) Webhook(c *gin.Context) {
	var body fbWebhook
	if err := c.ShouldBindJSON(&body); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	// Detached from the request context: Messenger expects the 200
	// promptly while dialog turns and transcriptions may take longer.
	for _, entry := range body.Entry {
		for _, event := range entry.Messaging {
			h.handleMessaging(context.Background(), event)
		}
	}
	c.Status(http.StatusOK)
}

func (h *FacebookHandler) handleMessaging(ctx context.Context, event fbMessaging) {
	userID := event.Sender.ID

	switch {
	case event.Delivery != nil:
		// Confirming a delivery can dispatch the deferred reply part,
		// which is a network send of its own; keep it off the webhook
		// request path.
		go h.dispatcher.HandleDelivery(ctx, userID, event.Delivery.MIDs)

	case event.Postback != nil:
		go h.handlePostback(ctx, userID, event.Postback.Payload)

	case event.Message != nil && !event.Message.IsEcho:
		if event.Message.Text != "" {
			go h.dispatcher.HandleInbound(ctx, models.InboundMessage{
				UserID:    userID,
				MessageID: event.Message.MID,
				Text:      event.Message.Text,
			})
			return
		}
		for _, att := range event.Message.Attachments {
			if att.Type == "audio" {
				go h.handleAudio(ctx, userID, event.Message.MID, att.Payload.URL)
				return
			}
		}
	}
}

func (h *FacebookHandler) handlePostback(ctx context.Context, userID, rawPayload string) {
	parts := strings.Split(rawPayload, ".")

	switch parts[0] {
	case "pick_language_level":
		if len(parts) < 2 {
			return
		}
		h.dispatcher.HandleContinuation(ctx, userID, map[string]any{
			"language_level": parts[1],
		})

	case "transcript":
		// The user accepted the parked transcription; replay it as their
		// message.
		user := h.dispatcher.Registry().FindOrCreate(userID, false)
		if user == nil {
			return
		}
		transcript := user.TakePendingTranscript()
		if transcript == nil {
			return
		}
		h.dispatcher.HandleInbound(ctx, models.InboundMessage{
			UserID: userID,
			Text:   transcript.Text,
		})

	default:
		h.logger.Info("Unhandled postback",
			zap.String("user_id", userID),
			zap.String("payload", rawPayload))
	}
}

func (h *FacebookHandler) handleAudio(ctx context.Context, userID, messageID, audioURL string) {
	transcript, err := h.recognizer.Transcribe(ctx, audioURL)
	if err != nil {
		h.logger.Error("Speech-to-text failed",
			zap.Error(err),
			zap.String("user_id", userID))
		h.sendText(ctx, userID, "Sorry, I couldn't hear you very well, can you say it again please?")
		return
	}

	record, err := h.transcripts.Save(ctx, h.adapter.Name(), userID, transcript)
	if err != nil {
		h.logger.Warn("Failed to persist transcript",
			zap.Error(err),
			zap.String("user_id", userID))
	}

	if transcript.Confidence >= h.autoAcceptConfidence {
		// Echo what we heard, then let the dialog answer it.
		h.sendText(ctx, userID, transcript.Text)
		h.dispatcher.HandleInbound(ctx, models.InboundMessage{
			UserID:    userID,
			MessageID: messageID,
			Text:      transcript.Text,
		})
		return
	}

	// Low confidence: park the transcript and ask for confirmation.
	if record == nil {
		h.sendText(ctx, userID, "Sorry, I couldn't hear you very well, can you say it again please?")
		return
	}
	if user := h.dispatcher.Registry().FindOrCreate(userID, true); user != nil {
		user.SetPendingTranscript(record)
	}

	token, err := models.ParseToken(record.ID)
	if err != nil {
		h.logger.Error("Malformed transcript id",
			zap.String("transcript_id", record.ID))
		return
	}

	// The confirm button comes back as a postback whose payload leads
	// with "transcript", which replays the parked text as the user's
	// message.
	confirm := models.Attachment{
		Title:      "I think you said:",
		Text:       "\"" + transcript.Text + "\"",
		CallbackID: "transcript." + messenger.DotToken(token),
		Actions: []models.AttachmentAction{{
			Name: "confirm",
			Text: "That's right",
			Type: "button",
		}},
	}
	if _, err := h.adapter.SendReply(ctx, userID, &channel.Reply{Attachments: []models.Attachment{confirm}}); err != nil {
		h.logger.Error("Failed to send transcript confirmation",
			zap.Error(err),
			zap.String("user_id", userID))
	}
}

type fbForm struct {
	PayloadID  string `json:"payload_id"`
	Suggestion string `json:"suggestion"`
	Comment    string `json:"comment"`
	Transcript string `json:"transcript"`
}

// Forms handles webview form submissions. The payload id is a fixed
// dot-delimited query of the form action.user.conversation.turn.
func (h *FacebookHandler) Forms(c *gin.Context) {
	var form fbForm
	if err := c.ShouldBindJSON(&form); err != nil || form.PayloadID == "" {
		c.Status(http.StatusBadRequest)
		return
	}

	ctx := c.Request.Context()
	parts := strings.Split(form.PayloadID, ".")
	action := parts[0]

	switch {
	case action == "feedback" && form.Suggestion != "" && len(parts) >= 4:
		token, err := messenger.ParseDotToken(strings.Join(parts[2:], "."))
		if err != nil {
			h.logger.Warn("Unparseable feedback payload",
				zap.String("payload_id", form.PayloadID))
			break
		}
		// On Messenger the rating and the suggestion arrive together.
		suggestion := &models.Suggestion{What: "response", How: strings.TrimSpace(form.Suggestion)}
		if _, err := h.correlator.RecordFeedback(ctx, h.adapter.Name(), parts[1], token, "maybe", suggestion); err != nil {
			h.logger.Error("Failed to store feedback", zap.Error(err))
		}

	case action == "survey" && form.Comment != "" && len(parts) >= 2:
		if _, err := h.correlator.RecordSurvey(ctx, h.adapter.Name(), parts[1], strings.TrimSpace(form.Comment)); err != nil {
			h.logger.Error("Failed to store survey", zap.Error(err))
		}

	case action == "transcript" && form.Transcript != "" && len(parts) >= 4:
		token, err := messenger.ParseDotToken(strings.Join(parts[2:], "."))
		if err != nil {
			h.logger.Warn("Unparseable transcript payload",
				zap.String("payload_id", form.PayloadID))
			break
		}
		corrected := strings.TrimSpace(form.Transcript)
		if _, err := h.transcripts.Update(ctx, token.String(), corrected); err != nil {
			h.logger.Error("Failed to update transcript", zap.Error(err))
		}
		// Echo the correction back and run it through the dialog.
		h.sendText(ctx, parts[1], corrected)
		h.dispatcher.HandleInbound(ctx, models.InboundMessage{
			UserID: parts[1],
			Text:   corrected,
		})
	}

	c.Status(http.StatusOK)
}

func (h *FacebookHandler) sendText(ctx context.Context, userID, text string) {
	if _, err := h.adapter.SendReply(ctx, userID, &channel.Reply{Text: text}); err != nil {
		h.logger.Error("Failed to send message",
			zap.Error(err),
			zap.String("user_id", userID))
	}
}
