// Package channel defines the small capability interface a chat platform
// must provide for the conversation core to drive it. All platform
// specific payload shapes stay behind this boundary; the core only ever
// sees the neutral Reply form and opaque message ids.
package channel

import (
	"context"

	"github.com/pirate-talk/bot/internal/models"
)

// Reply is one outbound reply part. Attachments are carried in the
// engine's neutral shape and translated natively by each adapter. A
// non-nil FeedbackToken asks the adapter to attach its feedback control
// wired to that token.
type Reply struct {
	Text          string
	Attachments   []models.Attachment
	FeedbackToken *models.CorrelationToken
}

type Adapter interface {
	// Name identifies the channel in logs and persisted records.
	Name() string

	// ConfirmsDelivery reports whether the platform emits delivery
	// receipts. When false, the dispatcher self-acknowledges each sent
	// part instead of waiting for an event that will never come.
	ConfirmsDelivery() bool

	// SendReply delivers one reply part and returns the platform-assigned
	// message id used to match the later delivery confirmation.
	SendReply(ctx context.Context, userID string, reply *Reply) (string, error)

	// SendInteractivePatch updates an interactive message in place, e.g.
	// to acknowledge received feedback under the original buttons.
	SendInteractivePatch(ctx context.Context, ref models.InteractiveRef, footer string) error
}
