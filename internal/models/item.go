// Package models holds the scheduling data types shared across the
// application. These are internal representations, independent of the
// storage backend and of any specific calendar provider.
package models

import "time"

// Kind classifies a scheduled item.
type Kind string

const (
	KindTask  Kind = "task"
	KindNote  Kind = "note"
	KindEvent Kind = "event"
)

// Origin records where an item came from.
type Origin string

const (
	OriginInternal     Origin = "internal"
	OriginExternalSync Origin = "external_sync"
)

// Task statuses as stored in the tasks table.
const (
	TaskStatusTodo  = "todo"
	TaskStatusDoing = "doing"
	TaskStatusDone  = "done"
)

// Task is an action item with an optional due time.
type Task struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	DueAt         time.Time `json:"due_at"`
	Priority      string    `json:"priority,omitempty"`
	Status        string    `json:"status"`
	RecurringRule string    `json:"recurring_rule,omitempty"` // bare RRULE content, e.g. "FREQ=WEEKLY"
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Note is a piece of recorded information, optionally pinned to a time.
type Note struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Content     string    `json:"content,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Event is a calendar event with a start and end.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	StartAt     time.Time `json:"start_at"`
	EndAt       time.Time `json:"end_at"`
	Location    string    `json:"location,omitempty"`
	Attendees   []string  `json:"attendees,omitempty"`
	Source      Origin    `json:"source"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ScheduledItem is the unit the ledger works with: one entry on the
// merged timeline, regardless of which table it came from.
type ScheduledItem struct {
	ID     string
	Kind   Kind
	Title  string
	When   time.Time // for events the start instant; End carries the rest
	End    time.Time // zero for tasks and notes
	Origin Origin
	Synced bool
}

// EventBody is the provider-neutral calendar event payload the sync
// gateway builds for each pushed item.
type EventBody struct {
	Summary         string
	Description     string
	Location        string
	Start           time.Time
	End             time.Time
	ReminderMinutes int64
	Recurrence      []string // full RRULE lines, passed through verbatim
}
