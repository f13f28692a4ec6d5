package tasks

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type TaskType string

const (
	TaskTypeFetchSource TaskType = "fetch_source"
)

type TaskInterface interface {
	Execute(ctx context.Context) error
	GetID() string
	GetType() TaskType
	GetFeedName() string
	Start()
	GetDuration() time.Duration
}

type Task struct {
	ID        string
	Type      TaskType
	FeedName  string
	StartedAt *time.Time
}

func (t *Task) GetID() string {
	return t.ID
}

func (t *Task) GetType() TaskType {
	return t.Type
}

func (t *Task) GetFeedName() string {
	return t.FeedName
}

func (t *Task) Start() {
	now := time.Now()
	t.StartedAt = &now
}

func (t *Task) GetDuration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	return time.Since(*t.StartedAt)
}

func NewTask(taskType TaskType, feedName string) Task {
	return Task{
		ID:       uuid.NewString(),
		Type:     taskType,
		FeedName: feedName,
	}
}
