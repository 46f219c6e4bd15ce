package ledger

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"queso/internal/models"
)

// defaultMaxOccurrences caps recurrence expansion so a rule with no end
// cannot blow up the timeline.
const defaultMaxOccurrences = 500

// ValidateRule checks a stored recurring_rule value ("FREQ=WEEKLY",
// optionally with further RRULE parts) without expanding it.
func ValidateRule(rule string) error {
	if rule == "" {
		return nil
	}
	if _, err := rrule.StrToRRule(rule); err != nil {
		return fmt.Errorf("invalid recurrence rule %q: %w", rule, err)
	}
	return nil
}

// ExpandRecurring turns a recurring task into concrete occurrences inside
// [from, until], anchored at the task's due time. Non-recurring tasks
// yield their single due time when it falls inside the window. Each
// occurrence keeps the task's identity so the ledger fingerprints them
// by their own local time-of-day.
func ExpandRecurring(task models.Task, from, until time.Time) ([]models.ScheduledItem, error) {
	if until.Before(from) {
		return nil, fmt.Errorf("expand: window end %v is before start %v", until, from)
	}

	if task.RecurringRule == "" {
		if task.DueAt.Before(from) || task.DueAt.After(until) {
			return nil, nil
		}
		return []models.ScheduledItem{{
			ID:     task.ID,
			Kind:   models.KindTask,
			Title:  task.Title,
			When:   task.DueAt,
			Origin: models.OriginInternal,
		}}, nil
	}

	r, err := rrule.StrToRRule(task.RecurringRule)
	if err != nil {
		return nil, fmt.Errorf("invalid recurrence rule %q: %w", task.RecurringRule, err)
	}
	r.DTStart(task.DueAt)

	times := r.Between(from, until, true)
	if len(times) > defaultMaxOccurrences {
		times = times[:defaultMaxOccurrences]
	}

	out := make([]models.ScheduledItem, 0, len(times))
	for _, at := range times {
		out = append(out, models.ScheduledItem{
			ID:     task.ID,
			Kind:   models.KindTask,
			Title:  task.Title,
			When:   at,
			Origin: models.OriginInternal,
		})
	}
	return out, nil
}
