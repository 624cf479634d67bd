package messenger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pirate-talk/bot/internal/models"
)

// DotToken re-encodes the canonical correlation token for Messenger
// payloads and webview query strings, where the colon is reserved. The
// translation happens only at this boundary; the core never sees the dot
// form.
func DotToken(t models.CorrelationToken) string {
	return fmt.Sprintf("%s.%d", t.ConversationID, t.TurnID)
}

// ParseDotToken decodes the dot form back into the canonical token.
func ParseDotToken(s string) (models.CorrelationToken, error) {
	i := strings.LastIndex(s, ".")
	if i <= 0 {
		return models.CorrelationToken{}, fmt.Errorf("malformed dot token %q", s)
	}

	turn, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return models.CorrelationToken{}, fmt.Errorf("malformed turn id in dot token %q: %w", s, err)
	}

	return models.CorrelationToken{ConversationID: s[:i], TurnID: turn}, nil
}
