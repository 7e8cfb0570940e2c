package models

import "time"

// TaskStatus is a node of the task state machine.
type TaskStatus string

const (
	TaskBacklog    TaskStatus = "backlog"
	TaskReady      TaskStatus = "ready"
	TaskInProgress TaskStatus = "in_progress"
	TaskBlocked    TaskStatus = "blocked"
	TaskDone       TaskStatus = "done"
	TaskArchived   TaskStatus = "archived"
)

// OwnerType identifies the kind of principal owning a task or acting on it.
type OwnerType string

const (
	OwnerUser   OwnerType = "user"
	OwnerAgent  OwnerType = "agent"
	OwnerSystem OwnerType = "system"
)

// Priority of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Task is a unit of work. ArchivedAt is set iff Status is archived.
type Task struct {
	TaskID      string     `json:"taskId"`
	Title       string     `json:"title"`
	Description *string    `json:"description,omitempty"`
	OwnerType   OwnerType  `json:"ownerType"`
	OwnerID     string     `json:"ownerId"`
	Status      TaskStatus `json:"status"`
	Priority    Priority   `json:"priority"`
	DueAt       *time.Time `json:"dueAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	ArchivedAt  *time.Time `json:"archivedAt,omitempty"`
}

// TaskEvent is an immutable record of a task creation or transition.
type TaskEvent struct {
	TaskID     string     `json:"taskId"`
	EventType  string     `json:"eventType"`
	ActorType  OwnerType  `json:"actorType"`
	ActorID    string     `json:"actorId"`
	AuthSource AuthSource `json:"authSource"`
	BeforeJSON *string    `json:"beforeJson,omitempty"`
	AfterJSON  *string    `json:"afterJson,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

const (
	EventTaskCreated      = "task.created"
	EventTaskTransitioned = "task.transitioned"
)
