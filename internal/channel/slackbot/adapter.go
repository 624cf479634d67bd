// Package slackbot adapts the conversation core to Slack. Replies go out
// through the Web API; Slack emits no per-message delivery receipts, so
// the adapter reports ConfirmsDelivery false and the dispatcher
// self-acknowledges each part.
package slackbot

import (
	"context"
	"fmt"

	"github.com/pirate-talk/bot/internal/channel"
	"github.com/pirate-talk/bot/internal/models"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

type Adapter struct {
	client *slack.Client
	logger *zap.Logger
}

func New(token string, logger *zap.Logger) *Adapter {
	return &Adapter{
		client: slack.New(token),
		logger: logger,
	}
}

func (a *Adapter) Name() string { return "slack" }

func (a *Adapter) ConfirmsDelivery() bool { return false }

// SendReply posts one reply part to the user's conversation. The user id
// is the Slack conversation (DM channel) id; the returned message id is
// the message timestamp, which is what Slack uses to address a message.
func (a *Adapter) SendReply(ctx context.Context, userID string, reply *channel.Reply) (string, error) {
	var attachments []slack.Attachment
	for _, att := range reply.Attachments {
		attachments = append(attachments, toSlackAttachment(att))
	}

	if reply.FeedbackToken != nil {
		attachments = append(attachments, feedbackAttachment(*reply.FeedbackToken))
	}

	options := []slack.MsgOption{slack.MsgOptionText(reply.Text, false)}
	if len(attachments) > 0 {
		options = append(options, slack.MsgOptionAttachments(attachments...))
	}

	_, timestamp, err := a.client.PostMessageContext(ctx, userID, options...)
	if err != nil {
		return "", fmt.Errorf("failed to post message: %w", err)
	}
	return timestamp, nil
}

// SendInteractivePatch rewrites the interactive message in place, keeping
// its text and replacing the action buttons with a footer note.
func (a *Adapter) SendInteractivePatch(ctx context.Context, ref models.InteractiveRef, footer string) error {
	_, _, _, err := a.client.UpdateMessageContext(ctx, ref.ChannelID, ref.MessageID,
		slack.MsgOptionText(ref.Text, false),
		slack.MsgOptionAttachments(slack.Attachment{
			Fallback: footer,
			Footer:   footer,
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	return nil
}

// OpenSuggestionDialog pops the written-feedback form. The callback id
// carries the correlation token, so the submission lands on the feedback
// record the button press created.
func (a *Adapter) OpenSuggestionDialog(ctx context.Context, triggerID string, token models.CorrelationToken) error {
	what := slack.NewStaticSelectDialogInput("what", "What we need to improve", []slack.DialogSelectOption{
		{Label: "Conversation flow", Value: "flow"},
		{Label: "Bot response", Value: "response"},
	})
	what.Placeholder = "Select One"

	how := slack.NewTextAreaInput("how", "How can we improve", "")
	how.Placeholder = "Write your comment here"

	return a.openDialog(ctx, triggerID, slack.Dialog{
		CallbackID:  token.String(),
		Title:       "Leave your suggestions",
		SubmitLabel: "Submit",
		Elements:    []slack.DialogElement{what, how},
	})
}

// OpenSurveyDialog pops the open-ended comment form.
func (a *Adapter) OpenSurveyDialog(ctx context.Context, triggerID string) error {
	comment := slack.NewTextAreaInput("comment", "Here your feedback", "")
	comment.Placeholder = "Anything you would like to tell us"

	return a.openDialog(ctx, triggerID, slack.Dialog{
		CallbackID:  "survey",
		Title:       "Open feedback",
		SubmitLabel: "Submit",
		Elements:    []slack.DialogElement{comment},
	})
}

func (a *Adapter) openDialog(ctx context.Context, triggerID string, dialog slack.Dialog) error {
	if err := a.client.OpenDialogContext(ctx, triggerID, dialog); err != nil {
		return fmt.Errorf("failed to open dialog: %w", err)
	}
	return nil
}

func toSlackAttachment(att models.Attachment) slack.Attachment {
	out := slack.Attachment{
		Title:      att.Title,
		Text:       att.Text,
		Fallback:   att.Fallback,
		ImageURL:   att.ImageURL,
		CallbackID: att.CallbackID,
		MarkdownIn: []string{"text"},
	}
	for _, action := range att.Actions {
		out.Actions = append(out.Actions, slack.AttachmentAction{
			Name:  action.Name,
			Text:  action.Text,
			Value: action.Value,
			Style: action.Style,
			Type:  slack.ActionType(action.Type),
		})
	}
	return out
}

// feedbackAttachment renders the two-button rating control. The callback
// id carries the canonical correlation token, so the interaction payload
// comes back already parseable by the core.
func feedbackAttachment(token models.CorrelationToken) slack.Attachment {
	return slack.Attachment{
		CallbackID: token.String(),
		MarkdownIn: []string{"text"},
		Actions: []slack.AttachmentAction{
			{
				Name:  "ok",
				Text:  "Right :thumbsup:",
				Value: "good",
				Style: "primary",
				Type:  "button",
			},
			{
				Name:  "soso",
				Text:  "Improve :raised_hand:",
				Value: "maybe",
				Style: "default",
				Type:  "button",
			},
		},
	}
}
