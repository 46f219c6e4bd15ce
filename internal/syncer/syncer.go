// Package syncer orchestrates the scheduling core: it assembles the
// merged agenda from the local tables and drives batch pushes to the
// calendar gateway.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"queso/internal/clock"
	"queso/internal/google"
	"queso/internal/ledger"
	"queso/internal/models"
)

// rowSource is the storage collaborator (the local JSON repository in
// this build, a hosted backend in the app).
type rowSource interface {
	Tasks() ([]models.Task, error)
	Notes() ([]models.Note, error)
	Events() ([]models.Event, error)
}

// pusher is the calendar gateway surface the syncer drives.
type pusher interface {
	PushAll(ctx context.Context, tasks []models.Task, notes []models.Note, events []models.Event) (*google.PushReport, error)
}

// Syncer composes the resolver, ledger and gateway for one user.
type Syncer struct {
	logger   *slog.Logger
	rows     rowSource
	resolver *clock.Resolver
	gateway  pusher // nil until the calendar is connected
	dryRun   bool
}

func NewSyncer(logger *slog.Logger, rows rowSource, resolver *clock.Resolver, gateway pusher, dryRun bool) *Syncer {
	return &Syncer{
		logger:   logger,
		rows:     rows,
		resolver: resolver,
		gateway:  gateway,
		dryRun:   dryRun,
	}
}

// Agenda returns the merged, deduplicated timeline for the day containing
// the given instant, in the user's resolved timezone. Recurring tasks are
// expanded into that day's occurrences.
func (s *Syncer) Agenda(day time.Time) ([]models.ScheduledItem, error) {
	loc := s.resolver.Resolve()
	local := day.In(loc)
	from := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	until := from.Add(24 * time.Hour)

	tasks, notes, events, err := s.loadRows()
	if err != nil {
		return nil, err
	}

	// Recurring tasks contribute the day's concrete occurrence instead of
	// their original anchor time.
	dayTasks := make([]models.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.RecurringRule == "" {
			dayTasks = append(dayTasks, t)
			continue
		}
		occ, err := ledger.ExpandRecurring(t, from, until)
		if err != nil {
			s.logger.Warn("Skipping recurrence expansion", "task", t.ID, "error", err)
			dayTasks = append(dayTasks, t)
			continue
		}
		for _, o := range occ {
			expanded := t
			expanded.DueAt = o.When
			dayTasks = append(dayTasks, expanded)
		}
	}

	merged := ledger.Merge(dayTasks, notes, events, loc)
	out := merged[:0]
	for _, item := range merged {
		if !item.When.Before(from) && item.When.Before(until) {
			out = append(out, item)
		}
	}
	return out, nil
}

// Sync pushes all local rows through the gateway. Local rows are never
// touched on failure; the caller reports sync problems as a secondary
// notice.
func (s *Syncer) Sync(ctx context.Context) (*google.PushReport, error) {
	if s.gateway == nil {
		return nil, fmt.Errorf("google calendar is not connected")
	}

	tasks, notes, events, err := s.loadRows()
	if err != nil {
		return nil, err
	}

	if s.dryRun {
		open := 0
		for _, t := range tasks {
			if t.Status != models.TaskStatusDone {
				open++
			}
		}
		s.logger.Info("[DRY RUN] Would push items to the calendar.",
			"tasks", open, "notes", len(notes), "events", len(events))
		return &google.PushReport{}, nil
	}

	report, err := s.gateway.PushAll(ctx, tasks, notes, events)
	if err != nil {
		return nil, fmt.Errorf("calendar push failed: %w", err)
	}
	for _, res := range report.Results {
		if !res.Ok() {
			s.logger.Warn("Item was not synced.", "key", res.Key, "error", res.Err)
		}
	}
	return report, nil
}

func (s *Syncer) loadRows() ([]models.Task, []models.Note, []models.Event, error) {
	tasks, err := s.rows.Tasks()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load tasks: %w", err)
	}
	notes, err := s.rows.Notes()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load notes: %w", err)
	}
	events, err := s.rows.Events()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load events: %w", err)
	}
	return tasks, notes, events, nil
}
