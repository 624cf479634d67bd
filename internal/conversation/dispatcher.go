package conversation

import (
	"context"
	"strings"
	"time"

	"github.com/pirate-talk/bot/internal/channel"
	"github.com/pirate-talk/bot/internal/engine"
	"github.com/pirate-talk/bot/internal/models"
	"go.uber.org/zap"
)

const apologyText = "I'm sorry, but for technical reasons I can't respond to your message"

// Config tunes the conversation core. Zero values are filled with the
// defaults below.
type Config struct {
	// ReentryNode is the dialog node whose appearance in the visit trace
	// marks a natural conversation restart. Configurable because dialog
	// graphs are free to reuse the name for unrelated nodes.
	ReentryNode string

	// MaxJumpDepth caps chained continuation turns so a misconfigured
	// dialog graph cannot loop the dispatcher forever.
	MaxJumpDepth int

	// DeliveryTimeout bounds the wait for a delivery confirmation before
	// the gate force-releases.
	DeliveryTimeout time.Duration

	WorkspaceID string
}

func (c Config) withDefaults() Config {
	if c.ReentryNode == "" {
		c.ReentryNode = "Welcome"
	}
	if c.MaxJumpDepth == 0 {
		c.MaxJumpDepth = 10
	}
	if c.DeliveryTimeout == 0 {
		c.DeliveryTimeout = 15 * time.Second
	}
	return c
}

// Dispatcher turns dialog engine responses into ordered channel replies.
// One dispatcher serves one channel adapter; dispatchers for different
// channels share nothing but their collaborators.
type Dispatcher struct {
	registry *Registry
	engine   engine.Engine
	adapter  channel.Adapter
	logger   *zap.Logger
	config   Config
}

func NewDispatcher(registry *Registry, eng engine.Engine, adapter channel.Adapter, config Config, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		engine:   eng,
		adapter:  adapter,
		logger:   logger,
		config:   config.withDefaults(),
	}
}

// Registry exposes the user registry shared with the correlator.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// HandleInbound runs one full dialog turn for an inbound user message.
// If a previous reply sequence for the same user is still in flight the
// message is dropped, never queued.
func (d *Dispatcher) HandleInbound(ctx context.Context, msg models.InboundMessage) {
	user := d.registry.FindOrCreate(msg.UserID, true)

	if !user.TryEnter(msg.MessageID) {
		d.logger.Info("Dropping inbound message, reply sequence in flight",
			zap.String("user_id", msg.UserID),
			zap.String("message_id", msg.MessageID))
		return
	}

	if strings.EqualFold(strings.TrimSpace(msg.Text), "reset") {
		d.engine.ResetContext(msg.UserID)
	}

	resp, err := d.engine.Send(ctx, msg.UserID, msg.Text, nil)
	if err != nil {
		d.logger.Error("Dialog engine request failed",
			zap.Error(err),
			zap.String("user_id", msg.UserID))
		user.ReleaseGate()
		d.sendApology(ctx, msg.UserID)
		return
	}

	d.deliver(ctx, user, resp, 0)
}

// HandleContinuation advances the dialog without user text, carrying a
// context delta produced by a platform control (e.g. a picked option).
// It competes for the gate like any inbound message.
func (d *Dispatcher) HandleContinuation(ctx context.Context, userID string, delta map[string]any) {
	user := d.registry.FindOrCreate(userID, true)

	if !user.TryEnter("") {
		d.logger.Info("Dropping continuation, reply sequence in flight",
			zap.String("user_id", userID))
		return
	}

	merged := map[string]any{"user_input_received": true}
	for k, v := range delta {
		merged[k] = v
	}

	resp, err := d.engine.Send(ctx, userID, "", merged)
	if err != nil {
		d.logger.Error("Dialog engine request failed",
			zap.Error(err),
			zap.String("user_id", userID))
		user.ReleaseGate()
		d.sendApology(ctx, userID)
		return
	}

	d.deliver(ctx, user, resp, 0)
}

// HandleDelivery applies a platform delivery-confirmation event. When it
// releases the gate, the deferred payload (if any) is dispatched exactly
// once.
func (d *Dispatcher) HandleDelivery(ctx context.Context, userID string, deliveredIDs []string) {
	user := d.registry.FindOrCreate(userID, false)
	if user == nil {
		return
	}

	forward, released := user.ConfirmDelivery(deliveredIDs)
	if !released {
		// Confirmations may refer to unrelated or already-released
		// messages; nothing to do.
		return
	}
	if forward != nil {
		d.deliver(ctx, user, forward, 0)
	}
}

// deliver sends one engine response and then follows any continuation
// chain the engine asks for, bounded by MaxJumpDepth.
func (d *Dispatcher) deliver(ctx context.Context, user *User, resp *engine.Response, depth int) {
	if !d.sendParts(ctx, user, resp) {
		// Either the send failed, or the continuation is owned by the
		// deferred text part and will be followed when it dispatches.
		return
	}

	if !resp.WaitBeforeJump() {
		return
	}
	if depth >= d.config.MaxJumpDepth {
		d.logger.Warn("Continuation chain exceeded depth limit",
			zap.String("user_id", user.ID),
			zap.Int("depth", depth))
		return
	}

	next, err := d.engine.Send(ctx, user.ID, "", map[string]any{"user_input_received": true})
	if err != nil {
		d.logger.Error("Continuation turn failed",
			zap.Error(err),
			zap.String("user_id", user.ID))
		user.ReleaseGate()
		d.sendApology(ctx, user.ID)
		return
	}

	// Wait for the current sequence to finish delivering, claiming the
	// gate for the continuation in the same step so no inbound message
	// can start a sequence in between.
	waitCtx, cancel := context.WithTimeout(ctx, 2*d.config.DeliveryTimeout)
	defer cancel()
	if err := user.EnterWhenIdle(waitCtx); err != nil {
		d.logger.Warn("Gave up waiting for gate, dropping continuation",
			zap.Error(err),
			zap.String("user_id", user.ID))
		return
	}

	d.deliver(ctx, user, next, depth+1)
}

// sendParts emits the primary reply part for resp and records the turn.
// It reports whether this dispatch owns any continuation chain: an
// attachments-primary hands that ownership to its deferred text part.
func (d *Dispatcher) sendParts(ctx context.Context, user *User, resp *engine.Response) bool {
	switch {
	case resp.HasAttachments():
		// The attachment part goes first; the text part is deferred until
		// the platform confirms the attachments arrived.
		msgID, err := d.adapter.SendReply(ctx, user.ID, &channel.Reply{
			Attachments: resp.Action.Attachments,
		})
		if err != nil {
			d.logger.Error("Failed to send attachment reply",
				zap.Error(err),
				zap.String("user_id", user.ID))
			user.ReleaseGate()
			return false
		}
		user.MarkSent(msgID, resp.WithoutAttachments(), d.config.DeliveryTimeout, d.timeoutRelease(user))
		d.selfAck(ctx, user, msgID)
		return false

	case len(resp.Text) > 0:
		reply := &channel.Reply{Text: strings.Join(resp.Text, "\n")}
		if !resp.NoFeedback() {
			reply.FeedbackToken = &models.CorrelationToken{
				ConversationID: resp.Context.ConversationID,
				TurnID:         resp.Context.TurnCounter,
			}
		}

		msgID, err := d.adapter.SendReply(ctx, user.ID, reply)
		if err != nil {
			d.logger.Error("Failed to send text reply",
				zap.Error(err),
				zap.String("user_id", user.ID))
			user.ReleaseGate()
			return false
		}
		user.MarkSent(msgID, nil, d.config.DeliveryTimeout, d.timeoutRelease(user))
		user.RecordTurn(turnFromResponse(user.ID, resp), resp.NodesVisited, d.config.ReentryNode)
		d.selfAck(ctx, user, msgID)

	default:
		// A silent engine turn: nothing to send, nothing to wait for.
		user.ReleaseGate()
	}

	return true
}

// selfAck feeds a synthetic confirmation for platforms without delivery
// receipts, keeping a single release path through the gate.
func (d *Dispatcher) selfAck(ctx context.Context, user *User, msgID string) {
	if d.adapter.ConfirmsDelivery() {
		return
	}
	d.HandleDelivery(ctx, user.ID, []string{msgID})
}

// timeoutRelease dispatches the deferred payload when the gate gives up
// waiting for a confirmation, so a lost receipt degrades to a delay
// rather than a stall.
func (d *Dispatcher) timeoutRelease(user *User) func(*engine.Response) {
	return func(forward *engine.Response) {
		d.logger.Warn("Delivery confirmation timed out, releasing gate",
			zap.String("user_id", user.ID))
		if forward != nil {
			d.deliver(context.Background(), user, forward, 0)
		}
	}
}

func (d *Dispatcher) sendApology(ctx context.Context, userID string) {
	if _, err := d.adapter.SendReply(ctx, userID, &channel.Reply{Text: apologyText}); err != nil {
		d.logger.Error("Failed to send apology",
			zap.Error(err),
			zap.String("user_id", userID))
	}
}

func turnFromResponse(userID string, resp *engine.Response) *models.Turn {
	return &models.Turn{
		TurnID:         resp.Context.TurnCounter,
		ConversationID: resp.Context.ConversationID,
		UserID:         userID,
		UserInput:      resp.Input,
		BotOutput:      resp.Text,
		Intents:        resp.Intents,
		Entities:       resp.Entities,
		Timestamp:      time.Now(),
	}
}
