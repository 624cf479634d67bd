package conversation

import (
	"github.com/pirate-talk/bot/internal/models"
)

// RecordTurn places a turn in the user's history at
// turnID - turnBias. When the conversation restarts, the engine's turn
// counter starts over and earlier slots are overwritten in place, which
// keeps long-lived conversations from growing the history without bound.
//
// If the visited-nodes trace shows the dialog traversed back through the
// configured re-entry node, the bias is reset to the current counter so a
// natural restart (as opposed to an explicit reset command) maps back to
// slot 0 instead of drifting.
func (u *User) RecordTurn(turn *models.Turn, nodesVisited []string, reentryNode string) {
	u.mu.Lock()
	defer u.mu.Unlock()

	for _, node := range nodesVisited {
		if node == reentryNode {
			u.turnBias = turn.TurnID
			break
		}
	}

	index := turn.TurnID - u.turnBias

	// The index cannot be smaller than 0. A negative value means the bias
	// drifted ahead of the counter; absorb the deficit.
	if index < 0 {
		u.turnBias += index
		index = 0
	}

	if index < len(u.history) {
		u.history[index] = turn
		return
	}
	u.history = append(u.history, turn)
}

// FindTurn returns the recorded turn matching both ids, or nil. Matching
// is numeric on the turn id: correlation tokens cross the wire as strings
// on every channel.
func (u *User) FindTurn(conversationID string, turnID int) *models.Turn {
	u.mu.Lock()
	defer u.mu.Unlock()

	for _, turn := range u.history {
		if turn.TurnID == turnID && turn.ConversationID == conversationID {
			return turn
		}
	}
	return nil
}

// HistoryLen reports how many turn slots the user's ledger holds.
func (u *User) HistoryLen() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.history)
}
