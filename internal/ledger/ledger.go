// Package ledger merges tasks, notes and events from their separate
// tables into one deduplicated, time-ordered timeline. Logically
// identical entries arriving from different sources (manual entry, the
// assistant, external calendar sync) collapse to a single entry keyed by
// a fuzzy fingerprint of normalized title and local time-of-day.
package ledger

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"queso/internal/models"
)

var kindPrefixes = []string{"note:", "task:", "event:"}

// Fingerprint derives the dedup key for a title and instant: normalized
// title plus hour and minute in the resolved timezone. Two items with
// the same fingerprint are treated as the same logical appointment.
//
// The key is deliberately fuzzy: two unrelated items that share a
// generic title ("Meeting") at the same minute will merge. That risk is
// accepted in exchange for collapsing the common case of a local entry
// later mirrored back from the external calendar as a separate row.
func Fingerprint(title string, at time.Time, loc *time.Location) string {
	clean := strings.ToLower(title)
	for _, p := range kindPrefixes {
		if strings.HasPrefix(clean, p) {
			clean = clean[len(p):]
			break
		}
	}
	clean = strings.TrimSpace(clean)
	local := at.In(loc)
	return fmt.Sprintf("%s-%d-%d", clean, local.Hour(), local.Minute())
}

// Merge builds the deduplicated timeline. Insertion order decides
// collisions: tasks first, then notes (skipped when a task already holds
// the fingerprint), then events. A colliding event marks the existing
// entry as synchronized, since it signals the appointment already exists
// on the external calendar; a non-colliding event stands alone and is
// synchronized when it originated from external sync. Completed tasks
// are excluded. The result is sorted ascending by instant, with
// equal-instant entries keeping insertion order.
func Merge(tasks []models.Task, notes []models.Note, events []models.Event, loc *time.Location) []models.ScheduledItem {
	if loc == nil {
		loc = time.UTC
	}

	entries := make(map[string]int) // fingerprint -> index into out
	var out []models.ScheduledItem

	for _, t := range tasks {
		if t.Status == models.TaskStatusDone {
			continue
		}
		key := Fingerprint(t.Title, t.DueAt, loc)
		if _, exists := entries[key]; exists {
			continue
		}
		entries[key] = len(out)
		out = append(out, models.ScheduledItem{
			ID:     t.ID,
			Kind:   models.KindTask,
			Title:  t.Title,
			When:   t.DueAt,
			Origin: models.OriginInternal,
		})
	}

	for _, n := range notes {
		key := Fingerprint(n.Title, n.ScheduledAt, loc)
		if _, exists := entries[key]; exists {
			continue
		}
		entries[key] = len(out)
		out = append(out, models.ScheduledItem{
			ID:     n.ID,
			Kind:   models.KindNote,
			Title:  n.Title,
			When:   n.ScheduledAt,
			Origin: models.OriginInternal,
		})
	}

	for _, e := range events {
		key := Fingerprint(e.Title, e.StartAt, loc)
		if idx, exists := entries[key]; exists {
			out[idx].Synced = true
			continue
		}
		entries[key] = len(out)
		out = append(out, models.ScheduledItem{
			ID:     e.ID,
			Kind:   models.KindEvent,
			Title:  e.Title,
			When:   e.StartAt,
			End:    e.EndAt,
			Origin: e.Source,
			Synced: e.Source == models.OriginExternalSync,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].When.Before(out[j].When)
	})
	return out
}
