package conversation

import (
	"sync"

	"github.com/pirate-talk/bot/internal/models"
)

// User is the per-user conversational state record. Everything that must
// stay ordered for one user (gate transitions, ledger writes, pending
// transcript) is serialized through its mutex; distinct users never
// contend with each other.
//
// Records live for the process lifetime. There is no eviction, so memory
// grows with distinct users; acceptable for small deployments.
type User struct {
	ID string

	mu              sync.Mutex
	turnBias        int
	history         []*models.Turn
	gate            gate
	idleWaiters     []chan struct{}
	lastInteractive *models.InteractiveRef
	lastTranscript  *models.Transcript
}

// Registry maps user ids to their state records, created lazily.
type Registry struct {
	mu    sync.RWMutex
	users map[string]*User
}

func NewRegistry() *Registry {
	return &Registry{users: make(map[string]*User)}
}

// FindOrCreate returns the record for id. When create is false and no
// record exists it returns nil. Creation is atomic: no caller observes a
// partially initialized record.
func (r *Registry) FindOrCreate(id string, create bool) *User {
	r.mu.RLock()
	user, exists := r.users[id]
	r.mu.RUnlock()
	if exists || !create {
		return user
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another goroutine may have won the race
	if user, exists := r.users[id]; exists {
		return user
	}

	user = &User{ID: id}
	r.users[id] = user
	return user
}

// SetLastInteractive remembers the interactive message the user last
// triggered so it can be patched in place when their feedback completes.
func (u *User) SetLastInteractive(ref *models.InteractiveRef) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.lastInteractive = ref
}

func (u *User) LastInteractive() *models.InteractiveRef {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastInteractive
}

// SetPendingTranscript records a speech transcription awaiting the user's
// acceptance. It replaces any earlier unconfirmed one.
func (u *User) SetPendingTranscript(t *models.Transcript) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.lastTranscript = t
}

// TakePendingTranscript returns and clears the unconfirmed transcript.
func (u *User) TakePendingTranscript() *models.Transcript {
	u.mu.Lock()
	defer u.mu.Unlock()
	t := u.lastTranscript
	u.lastTranscript = nil
	return t
}
