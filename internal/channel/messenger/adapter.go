// Package messenger adapts the conversation core to Facebook Messenger.
// Replies go out through the Graph API send endpoint; delivery receipts
// arrive later as webhook events, so ConfirmsDelivery is true and the
// gate stays closed until the platform reports the message ids.
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pirate-talk/bot/internal/channel"
	"github.com/pirate-talk/bot/internal/models"
	"go.uber.org/zap"
)

const defaultAPIURL = "https://graph.facebook.com/v12.0/me/messages"

type Adapter struct {
	client    *http.Client
	apiURL    string
	pageToken string
	hostname  string
	logger    *zap.Logger
}

// New builds the adapter. hostname is the public web server base used for
// the feedback and survey webview forms.
func New(pageToken, hostname string, logger *zap.Logger) *Adapter {
	return &Adapter{
		client:    &http.Client{Timeout: 30 * time.Second},
		apiURL:    defaultAPIURL,
		pageToken: pageToken,
		hostname:  hostname,
		logger:    logger,
	}
}

func (a *Adapter) Name() string { return "facebook" }

func (a *Adapter) ConfirmsDelivery() bool { return true }

type sendRequest struct {
	Recipient recipient `json:"recipient"`
	Message   message   `json:"message"`
}

type recipient struct {
	ID string `json:"id"`
}

type message struct {
	Text       string      `json:"text,omitempty"`
	Attachment *attachment `json:"attachment,omitempty"`
}

type attachment struct {
	Type    string  `json:"type"`
	Payload payload `json:"payload"`
}

type payload struct {
	TemplateType string    `json:"template_type"`
	Text         string    `json:"text,omitempty"`
	Sharable     bool      `json:"sharable,omitempty"`
	Elements     []element `json:"elements,omitempty"`
	Buttons      []button  `json:"buttons,omitempty"`
}

type element struct {
	Title    string   `json:"title"`
	Subtitle string   `json:"subtitle,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
	Buttons  []button `json:"buttons,omitempty"`
}

type button struct {
	Type                string `json:"type"`
	Title               string `json:"title,omitempty"`
	Payload             string `json:"payload,omitempty"`
	URL                 string `json:"url,omitempty"`
	MessengerExtensions bool   `json:"messenger_extensions,omitempty"`
	WebviewHeightRatio  string `json:"webview_height_ratio,omitempty"`
}

type sendResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

func (a *Adapter) SendReply(ctx context.Context, userID string, reply *channel.Reply) (string, error) {
	msg := message{}

	switch {
	case len(reply.Attachments) > 0:
		elements := make([]element, 0, len(reply.Attachments))
		for _, att := range reply.Attachments {
			elements = append(elements, a.attachmentToElement(userID, att))
		}
		msg.Attachment = &attachment{
			Type: "template",
			Payload: payload{
				TemplateType: "generic",
				Elements:     elements,
			},
		}

	case reply.FeedbackToken != nil:
		// Messenger cannot hang buttons off a plain message; the text
		// rides inside a button template with the feedback webview link.
		msg.Attachment = a.feedbackTemplate(userID, *reply.FeedbackToken, reply.Text)

	default:
		msg.Text = reply.Text
	}

	return a.send(ctx, userID, msg)
}

// SendInteractivePatch has no true equivalent on Messenger, where sent
// messages are immutable. The acknowledgement goes out as a short
// follow-up text instead.
func (a *Adapter) SendInteractivePatch(ctx context.Context, ref models.InteractiveRef, footer string) error {
	_, err := a.send(ctx, ref.ChannelID, message{Text: footer})
	return err
}

func (a *Adapter) send(ctx context.Context, userID string, msg message) (string, error) {
	body, err := json.Marshal(sendRequest{
		Recipient: recipient{ID: userID},
		Message:   msg,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode send request: %w", err)
	}

	url := fmt.Sprintf("%s?access_token=%s", a.apiURL, a.pageToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("send endpoint returned status %d: %s", resp.StatusCode, raw)
	}

	var sent sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&sent); err != nil {
		return "", fmt.Errorf("failed to decode send response: %w", err)
	}
	return sent.MessageID, nil
}

// attachmentToElement converts the engine's neutral attachment shape into
// a generic-template element.
func (a *Adapter) attachmentToElement(userID string, att models.Attachment) element {
	el := element{
		Title:    att.Title,
		Subtitle: att.Text,
		ImageURL: att.ImageURL,
	}
	if el.Title == "" {
		el.Title = att.Fallback
	}
	if el.Subtitle == "" {
		el.Subtitle = " "
	}

	for _, action := range att.Actions {
		if action.Type != "button" {
			continue
		}
		el.Buttons = append(el.Buttons, a.actionToButton(userID, att.CallbackID, action))
	}
	return el
}

func (a *Adapter) actionToButton(userID, callbackID string, action models.AttachmentAction) button {
	if callbackID == "survey" {
		return button{
			Type:                "web_url",
			Title:               action.Text,
			MessengerExtensions: true,
			WebviewHeightRatio:  "compact",
			URL: fmt.Sprintf("%s/facebook/webviews/survey_form.html?%s.%s",
				a.hostname, callbackID, userID),
		}
	}
	return button{
		Type:    "postback",
		Title:   action.Text,
		Payload: fmt.Sprintf("%s.%s", callbackID, action.Name),
	}
}

// feedbackTemplate wraps the reply text in a button template pointing at
// the feedback webview. The query carries the dot-encoded token: the
// colon is a reserved URL character Messenger refuses to pass through.
func (a *Adapter) feedbackTemplate(userID string, token models.CorrelationToken, text string) *attachment {
	return &attachment{
		Type: "template",
		Payload: payload{
			TemplateType: "button",
			Text:         text,
			Buttons: []button{{
				Type:                "web_url",
				Title:               "Improve this",
				MessengerExtensions: true,
				WebviewHeightRatio:  "compact",
				URL: fmt.Sprintf("%s/facebook/webviews/feedback_form.html?feedback.%s.%s",
					a.hostname, userID, DotToken(token)),
			}},
		},
	}
}
