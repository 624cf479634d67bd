package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Collection.Get when no record exists under
// the requested id.
var ErrNotFound = errors.New("record not found")

// Collection is a scoped key-value namespace. Values are stored as JSON
// documents; Get decodes into out, Save overwrites whatever is there.
type Collection interface {
	Get(ctx context.Context, id string, out any) error
	Save(ctx context.Context, id string, v any) error
}

// Storage groups the collections the bot persists to. Feedback records,
// survey comments and audio transcripts are written by the conversation
// core; workspaces holds dialog-workspace bookkeeping.
type Storage interface {
	Feedbacks() Collection
	Surveys() Collection
	Transcripts() Collection
	Workspaces() Collection
	Close() error
}
