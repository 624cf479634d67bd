package models

import (
	"fmt"
	"strconv"
	"strings"
)

// CorrelationToken identifies the dialog turn an asynchronous feedback
// signal refers to. The canonical wire form is "conversationID:turnID";
// channels whose payloads cannot carry a colon re-encode at their own
// boundary and translate back before the token reaches the core.
type CorrelationToken struct {
	ConversationID string
	TurnID         int
}

func (t CorrelationToken) String() string {
	return fmt.Sprintf("%s:%d", t.ConversationID, t.TurnID)
}

// ParseToken decodes the canonical colon form. The turn id crosses the
// wire as a string on every channel, so it is parsed numerically here.
func ParseToken(s string) (CorrelationToken, error) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return CorrelationToken{}, fmt.Errorf("malformed correlation token %q", s)
	}

	turn, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return CorrelationToken{}, fmt.Errorf("malformed turn id in token %q: %w", s, err)
	}

	if s[:i] == "" {
		return CorrelationToken{}, fmt.Errorf("empty conversation id in token %q", s)
	}

	return CorrelationToken{ConversationID: s[:i], TurnID: turn}, nil
}
