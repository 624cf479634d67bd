package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pirate-talk/bot/internal/models"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// welcomeNode is the node name reported on the first turn of a session so
// the ledger rebias hook fires the same way it does with a hosted dialog
// graph.
const welcomeNode = "Welcome"

// OpenAIConfig configures the chat-completion backed engine.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Prompt      string
}

// OpenAIEngine emulates the hosted dialog service on top of chat
// completions: it keeps a per-user message history, assigns its own
// conversation ids, and counts turns so the rest of the bot is oblivious
// to which backend produced the reply.
type OpenAIEngine struct {
	client *openai.Client
	config OpenAIConfig
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*openaiSession
}

type openaiSession struct {
	conversationID string
	turnCounter    int
	messages       []openai.ChatCompletionMessage
}

type openaiReply struct {
	Text           []string `json:"text"`
	Intent         string   `json:"intent"`
	Confidence     float64  `json:"confidence"`
	NoFeedback     bool     `json:"no_feedback"`
	WaitBeforeJump bool     `json:"wait_before_jump"`
}

const defaultPrompt = `You are a conversational guide. Reply with a JSON object:
{
    "text": ["one or more reply lines"],
    "intent": "short_intent_label",
    "confidence": 0.0,
    "no_feedback": false,
    "wait_before_jump": false
}`

func NewOpenAIEngine(config OpenAIConfig, logger *zap.Logger) *OpenAIEngine {
	if config.Prompt == "" {
		config.Prompt = defaultPrompt
	}
	return &OpenAIEngine{
		client:   openai.NewClient(config.APIKey),
		config:   config,
		logger:   logger,
		sessions: make(map[string]*openaiSession),
	}
}

func (e *OpenAIEngine) Send(ctx context.Context, userID, text string, contextDelta map[string]any) (*Response, error) {
	e.mu.Lock()
	session, fresh := e.session(userID)
	input := text
	if input == "" {
		// Synthetic continuation turn, the caller only advances the dialog.
		input = "continue"
	}
	session.messages = append(session.messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: input,
	})
	messages := make([]openai.ChatCompletionMessage, len(session.messages))
	copy(messages, session.messages)
	e.mu.Unlock()

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.config.Model,
		Messages:    messages,
		MaxTokens:   e.config.MaxTokens,
		Temperature: float32(e.config.Temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)

	var reply openaiReply
	if err := json.Unmarshal([]byte(content), &reply); err != nil {
		// Fall back to treating the completion as plain reply text.
		e.logger.Warn("Failed to parse structured reply",
			zap.Error(err),
			zap.String("user_id", userID))
		reply = openaiReply{Text: []string{content}}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	session.messages = append(session.messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: content,
	})

	out := &Response{
		Input: text,
		Text:  reply.Text,
		Context: Context{
			ConversationID: session.conversationID,
			TurnCounter:    session.turnCounter,
		},
	}
	if fresh {
		out.NodesVisited = []string{welcomeNode}
	}
	if reply.Intent != "" {
		out.Intents = append(out.Intents, models.Intent{
			Intent:     reply.Intent,
			Confidence: reply.Confidence,
		})
	}
	if reply.NoFeedback || reply.WaitBeforeJump {
		out.Action = &Action{
			NoFeedback:     reply.NoFeedback,
			WaitBeforeJump: reply.WaitBeforeJump,
		}
	}

	session.turnCounter++
	return out, nil
}

// session must be called with the mutex held.
func (e *OpenAIEngine) session(userID string) (*openaiSession, bool) {
	if session, ok := e.sessions[userID]; ok {
		return session, false
	}

	session := &openaiSession{
		conversationID: uuid.New().String(),
		messages: []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleSystem,
			Content: e.config.Prompt,
		}},
	}
	e.sessions[userID] = session
	return session, true
}

func (e *OpenAIEngine) UserContext(userID string) (Context, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	session, ok := e.sessions[userID]
	if !ok {
		return Context{}, false
	}
	return Context{
		ConversationID: session.conversationID,
		TurnCounter:    session.turnCounter,
	}, true
}

func (e *OpenAIEngine) ResetContext(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, userID)
}
