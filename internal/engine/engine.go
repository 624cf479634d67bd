package engine

import (
	"context"

	"github.com/pirate-talk/bot/internal/models"
)

// Context is the engine-side session state the core needs to correlate
// turns and feedback: which logical conversation the user is in, and how
// far into it they are.
type Context struct {
	ConversationID string
	TurnCounter    int
}

// Action carries the engine's delivery directives for one response.
type Action struct {
	Attachments    []models.Attachment
	NoFeedback     bool
	WaitBeforeJump bool
}

// Response is the structured output of one dialog turn.
type Response struct {
	Input        string
	Text         []string
	Intents      []models.Intent
	Entities     []models.Entity
	NodesVisited []string
	Context      Context
	Action       *Action
}

// HasAttachments reports whether the response carries rich attachments
// that must be delivered ahead of the text part.
func (r *Response) HasAttachments() bool {
	return r.Action != nil && len(r.Action.Attachments) > 0
}

// WithoutAttachments returns a shallow copy with the attachments stripped,
// used as the deferred payload once the attachment part is confirmed
// delivered. Stripping is what terminates the forward cycle.
func (r *Response) WithoutAttachments() *Response {
	cp := *r
	if r.Action != nil {
		action := *r.Action
		action.Attachments = nil
		cp.Action = &action
	}
	return &cp
}

// NoFeedback reports whether the engine explicitly suppressed the
// feedback request for this turn.
func (r *Response) NoFeedback() bool {
	return r.Action != nil && r.Action.NoFeedback
}

// WaitBeforeJump reports whether the engine wants a synthetic
// continuation turn without further user input.
func (r *Response) WaitBeforeJump() bool {
	return r.Action != nil && r.Action.WaitBeforeJump
}

// Engine is the hosted dialog/NLU service the bot proxies messages to.
type Engine interface {
	// Send forwards one user utterance plus an optional context delta and
	// returns the engine's structured reply.
	Send(ctx context.Context, userID, text string, contextDelta map[string]any) (*Response, error)

	// UserContext returns the session context currently associated with
	// the user, if any.
	UserContext(userID string) (Context, bool)

	// ResetContext drops the user's session so the next Send starts a
	// fresh conversation.
	ResetContext(userID string)
}
