package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// WatsonConfig configures the hosted assistant the bot talks to.
type WatsonConfig struct {
	URL         string
	Username    string
	Password    string
	WorkspaceID string
	Version     string
}

// WatsonEngine is a client for a Watson Assistant v1 style message
// endpoint. It caches the last returned context per user and replays it
// on the next request, which is what keeps the conversation stateful.
type WatsonEngine struct {
	client *http.Client
	config WatsonConfig
	logger *zap.Logger

	mu       sync.Mutex
	contexts map[string]map[string]any
}

func NewWatsonEngine(config WatsonConfig, logger *zap.Logger) *WatsonEngine {
	if config.Version == "" {
		config.Version = "2017-05-26"
	}
	return &WatsonEngine{
		client:   &http.Client{Timeout: 30 * time.Second},
		config:   config,
		logger:   logger,
		contexts: make(map[string]map[string]any),
	}
}

type watsonInput struct {
	Text string `json:"text"`
}

type watsonRequest struct {
	Input   watsonInput    `json:"input"`
	Context map[string]any `json:"context,omitempty"`
}

type watsonMessage struct {
	Input    watsonInput     `json:"input"`
	Intents  json.RawMessage `json:"intents"`
	Entities json.RawMessage `json:"entities"`
	Output   struct {
		Text         []string `json:"text"`
		NodesVisited []string `json:"nodes_visited"`
		Action       *struct {
			Attachments    json.RawMessage `json:"attachments,omitempty"`
			NoFeedback     bool            `json:"no_feedback,omitempty"`
			WaitBeforeJump bool            `json:"wait_before_jump,omitempty"`
		} `json:"action,omitempty"`
	} `json:"output"`
	Context map[string]any `json:"context"`
}

func (e *WatsonEngine) Send(ctx context.Context, userID, text string, contextDelta map[string]any) (*Response, error) {
	e.mu.Lock()
	reqContext := make(map[string]any, len(e.contexts[userID])+len(contextDelta))
	for k, v := range e.contexts[userID] {
		reqContext[k] = v
	}
	e.mu.Unlock()
	for k, v := range contextDelta {
		reqContext[k] = v
	}

	body, err := json.Marshal(watsonRequest{
		Input:   watsonInput{Text: text},
		Context: reqContext,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode message request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/workspaces/%s/message?version=%s",
		e.config.URL, e.config.WorkspaceID, e.config.Version)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build message request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(e.config.Username, e.config.Password)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("message request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("assistant returned status %d: %s", resp.StatusCode, raw)
	}

	var msg watsonMessage
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return nil, fmt.Errorf("failed to decode message response: %w", err)
	}

	e.mu.Lock()
	e.contexts[userID] = msg.Context
	e.mu.Unlock()

	return e.toResponse(&msg)
}

func (e *WatsonEngine) toResponse(msg *watsonMessage) (*Response, error) {
	out := &Response{
		Input:        msg.Input.Text,
		Text:         msg.Output.Text,
		NodesVisited: msg.Output.NodesVisited,
		Context:      contextFromMap(msg.Context),
	}

	// Annotations are pass-through; a decode failure here should not take
	// the whole turn down.
	if len(msg.Intents) > 0 {
		if err := json.Unmarshal(msg.Intents, &out.Intents); err != nil {
			e.logger.Warn("Failed to decode intents", zap.Error(err))
		}
	}
	if len(msg.Entities) > 0 {
		if err := json.Unmarshal(msg.Entities, &out.Entities); err != nil {
			e.logger.Warn("Failed to decode entities", zap.Error(err))
		}
	}

	if msg.Output.Action != nil {
		action := &Action{
			NoFeedback:     msg.Output.Action.NoFeedback,
			WaitBeforeJump: msg.Output.Action.WaitBeforeJump,
		}
		if len(msg.Output.Action.Attachments) > 0 {
			if err := json.Unmarshal(msg.Output.Action.Attachments, &action.Attachments); err != nil {
				e.logger.Warn("Failed to decode attachments", zap.Error(err))
			}
		}
		out.Action = action
	}

	return out, nil
}

func (e *WatsonEngine) UserContext(userID string) (Context, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	raw, ok := e.contexts[userID]
	if !ok {
		return Context{}, false
	}
	return contextFromMap(raw), true
}

func (e *WatsonEngine) ResetContext(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.contexts, userID)
}

// contextFromMap digs the conversation id and turn counter out of the raw
// context document. The counter arrives as a JSON number (float64).
func contextFromMap(raw map[string]any) Context {
	var c Context
	if id, ok := raw["conversation_id"].(string); ok {
		c.ConversationID = id
	}
	if system, ok := raw["system"].(map[string]any); ok {
		if counter, ok := system["dialog_turn_counter"].(float64); ok {
			c.TurnCounter = int(counter)
		}
	}
	return c
}
