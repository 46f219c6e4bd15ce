// Package assistant is the boundary to the AI collaborator. The model is
// an opaque peer that must already emit absolute timestamps; this package
// validates its tool-call arguments and turns them into storage rows.
// Timestamps without an explicit numeric offset are rejected outright:
// the system instruction tells the model the resolved timezone and
// current offset, so a bare-Z stamp is a contract violation, not input
// to be repaired.
package assistant

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"queso/internal/clock"
	"queso/internal/models"
)

// Tool names the model may call.
const (
	ToolCreateTask  = "create_task"
	ToolCreateNote  = "create_note"
	ToolCreateEvent = "create_event"
)

// CreateTaskArgs mirrors the create_task tool declaration.
type CreateTaskArgs struct {
	Title         string `json:"title" validate:"required"`
	Description   string `json:"description"`
	DueAt         string `json:"due_at" validate:"required,offsetiso"`
	Priority      string `json:"priority" validate:"omitempty,oneof=low medium high"`
	RecurringRule string `json:"recurring_rule"`
}

// CreateNoteArgs mirrors the create_note tool declaration.
type CreateNoteArgs struct {
	Title       string `json:"title" validate:"required"`
	Content     string `json:"content" validate:"required"`
	ScheduledAt string `json:"scheduled_at" validate:"required,offsetiso"`
}

// CreateEventArgs mirrors the create_event tool declaration.
type CreateEventArgs struct {
	Title    string `json:"title" validate:"required"`
	StartAt  string `json:"start_at" validate:"required,offsetiso"`
	EndAt    string `json:"end_at" validate:"required,offsetiso"`
	Location string `json:"location"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("offsetiso", func(fl validator.FieldLevel) bool {
		_, err := clock.ParseOffsetInstant(fl.Field().String())
		return err == nil
	})
	return v
}

// ParseCreateTask validates create_task arguments and builds a task row.
func ParseCreateTask(raw json.RawMessage) (models.Task, error) {
	var args CreateTaskArgs
	if err := decode(raw, &args); err != nil {
		return models.Task{}, err
	}
	due, err := clock.ParseOffsetInstant(args.DueAt)
	if err != nil {
		return models.Task{}, fmt.Errorf("create_task: %w", err)
	}
	now := time.Now()
	priority := args.Priority
	if priority == "" {
		priority = "medium"
	}
	return models.Task{
		ID:            uuid.New().String(),
		Title:         args.Title,
		Description:   args.Description,
		DueAt:         due,
		Priority:      priority,
		Status:        models.TaskStatusTodo,
		RecurringRule: args.RecurringRule,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// ParseCreateNote validates create_note arguments and builds a note row.
func ParseCreateNote(raw json.RawMessage) (models.Note, error) {
	var args CreateNoteArgs
	if err := decode(raw, &args); err != nil {
		return models.Note{}, err
	}
	at, err := clock.ParseOffsetInstant(args.ScheduledAt)
	if err != nil {
		return models.Note{}, fmt.Errorf("create_note: %w", err)
	}
	now := time.Now()
	return models.Note{
		ID:          uuid.New().String(),
		Title:       args.Title,
		Content:     args.Content,
		ScheduledAt: at,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ParseCreateEvent validates create_event arguments and builds an event row.
func ParseCreateEvent(raw json.RawMessage) (models.Event, error) {
	var args CreateEventArgs
	if err := decode(raw, &args); err != nil {
		return models.Event{}, err
	}
	start, err := clock.ParseOffsetInstant(args.StartAt)
	if err != nil {
		return models.Event{}, fmt.Errorf("create_event: %w", err)
	}
	end, err := clock.ParseOffsetInstant(args.EndAt)
	if err != nil {
		return models.Event{}, fmt.Errorf("create_event: %w", err)
	}
	if end.Before(start) {
		return models.Event{}, fmt.Errorf("create_event: end %s is before start %s", args.EndAt, args.StartAt)
	}
	now := time.Now()
	return models.Event{
		ID:        uuid.New().String(),
		Title:     args.Title,
		StartAt:   start,
		EndAt:     end,
		Location:  args.Location,
		Source:    models.OriginInternal,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func decode(raw json.RawMessage, into any) error {
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("malformed tool arguments: %w", err)
	}
	if err := validate.Struct(into); err != nil {
		return fmt.Errorf("invalid tool arguments: %w", err)
	}
	return nil
}

// SystemInstruction builds the temporal contract handed to the model. It
// names the resolved timezone and the current offset explicitly so the
// model can always compute offset-qualified local timestamps.
func SystemInstruction(now time.Time, loc *time.Location) string {
	local := now.In(loc)
	return fmt.Sprintf(`You are "Queso Assistant", an elite personal virtual assistant.

STRICT TEMPORAL RULES:
- The user's timezone is %s (current UTC offset %s).
- Current local time: %s
- If the user says "tomorrow", calculate it relative to the current local date.
- ALWAYS output absolute ISO-8601 timestamps WITH an explicit numeric offset
  (e.g. %s) for tool arguments. NEVER use a bare Z suffix.
`,
		loc.String(),
		local.Format("-07:00"),
		clock.Format(now, loc, clock.StyleDateTime),
		clock.ToOffsetString(now, loc),
	)
}
