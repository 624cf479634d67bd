package models

import "time"

// Turn is one user-input/bot-output exchange, indexed by the dialog
// engine's per-session counter. The counter is only unique together with
// the conversation id: it restarts at 0 whenever the engine restarts the
// logical conversation.
type Turn struct {
	TurnID         int       `json:"turn_id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	UserInput      string    `json:"user_input"`
	BotOutput      []string  `json:"bot_output"`
	Intents        []Intent  `json:"intents"`
	Entities       []Entity  `json:"entities"`
	Timestamp      time.Time `json:"timestamp"`
}

// Intent and Entity are NLU annotations passed through unmodified.
type Intent struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

type Entity struct {
	Entity     string  `json:"entity"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Attachment is the channel-neutral rich attachment shape carried in the
// dialog engine's action output. Channel adapters translate it to their
// platform's native format.
type Attachment struct {
	Title      string             `json:"title,omitempty"`
	Text       string             `json:"text,omitempty"`
	Fallback   string             `json:"fallback,omitempty"`
	ImageURL   string             `json:"image_url,omitempty"`
	CallbackID string             `json:"callback_id,omitempty"`
	Actions    []AttachmentAction `json:"actions,omitempty"`
}

type AttachmentAction struct {
	Name  string `json:"name"`
	Text  string `json:"text"`
	Value string `json:"value,omitempty"`
	Style string `json:"style,omitempty"`
	Type  string `json:"type"`
}

// Feedback is the persisted record correlating a user's rating with the
// dialog turn it refers to. BotAsked holds the previous turn's output so
// the rated answer can be audited in context.
type Feedback struct {
	ID         string      `json:"id"`
	Workspace  string      `json:"workspace"`
	Frontend   string      `json:"frontend"`
	Action     string      `json:"action"`
	Suggestion *Suggestion `json:"suggestion,omitempty"`
	BotAsked   []string    `json:"bot_asked"`
	Turn
}

// Suggestion is a free-text correction attached to a feedback record.
type Suggestion struct {
	What string `json:"what"`
	How  string `json:"how"`
}

// Survey is an open-ended comment about a whole conversation.
type Survey struct {
	ID           string    `json:"id"`
	Conversation string    `json:"conversation"`
	Workspace    string    `json:"workspace"`
	Frontend     string    `json:"frontend"`
	Comment      string    `json:"comment"`
	Timestamp    time.Time `json:"timestamp"`
}

// Transcript is a speech-to-text result awaiting or past user confirmation.
// Original keeps the pre-correction text once the user edits it.
type Transcript struct {
	ID           string    `json:"id"`
	Conversation string    `json:"conversation"`
	Workspace    string    `json:"workspace"`
	Frontend     string    `json:"frontend"`
	Text         string    `json:"text"`
	Original     string    `json:"original,omitempty"`
	URL          string    `json:"url,omitempty"`
	Confidence   float64   `json:"confidence"`
	Seconds      float64   `json:"seconds,omitempty"`
	Modified     bool      `json:"modified"`
	Timestamp    time.Time `json:"timestamp"`
}

// InboundMessage is a channel-agnostic user message handed to the dispatcher.
type InboundMessage struct {
	UserID    string
	MessageID string
	Text      string
}

// InteractiveRef points at a platform-native interactive message so it can
// be patched in place once the feedback it solicited completes.
type InteractiveRef struct {
	ChannelID string
	MessageID string
	Text      string
}
