// Package google pushes scheduled items to Google Calendar with
// idempotent upsert semantics. A persistent local-to-remote event id map,
// owned exclusively by this package, decides update-versus-insert so
// repeated syncs never duplicate events.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"queso/internal/clock"
	"queso/internal/ledger"
	"queso/internal/models"
	"queso/internal/state"
)

// Reminder lead times, in minutes, per item kind.
const (
	taskReminderMinutes  = 30
	noteReminderMinutes  = 10
	eventReminderMinutes = 15
)

// Default durations when an item has no explicit end.
const (
	taskSlotDuration  = 30 * time.Minute
	eventSlotDuration = time.Hour
)

// calendarAPI is the slice of the Calendar API the gateway needs. The
// real implementation wraps *calendar.Service; tests substitute a fake.
type calendarAPI interface {
	listCalendars(ctx context.Context) ([]*calendar.CalendarListEntry, error)
	insertCalendar(ctx context.Context, summary string) (*calendar.Calendar, error)
	insertEvent(ctx context.Context, calendarID string, ev *calendar.Event) (*calendar.Event, error)
	patchEvent(ctx context.Context, calendarID, eventID string, ev *calendar.Event) (*calendar.Event, error)
	deleteEvent(ctx context.Context, calendarID, eventID string) error
}

type serviceAPI struct {
	svc *calendar.Service
}

func (s *serviceAPI) listCalendars(ctx context.Context) ([]*calendar.CalendarListEntry, error) {
	list, err := s.svc.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return list.Items, nil
}

func (s *serviceAPI) insertCalendar(ctx context.Context, summary string) (*calendar.Calendar, error) {
	return s.svc.Calendars.Insert(&calendar.Calendar{Summary: summary}).Context(ctx).Do()
}

func (s *serviceAPI) insertEvent(ctx context.Context, calendarID string, ev *calendar.Event) (*calendar.Event, error) {
	return s.svc.Events.Insert(calendarID, ev).Context(ctx).Do()
}

func (s *serviceAPI) patchEvent(ctx context.Context, calendarID, eventID string, ev *calendar.Event) (*calendar.Event, error) {
	return s.svc.Events.Patch(calendarID, eventID, ev).Context(ctx).Do()
}

func (s *serviceAPI) deleteEvent(ctx context.Context, calendarID, eventID string) error {
	return s.svc.Events.Delete(calendarID, eventID).Context(ctx).Do()
}

// Gateway is the calendar sync gateway. It targets one dedicated
// calendar, created lazily on first use with its id cached, and keeps
// the localKey-to-remote-id mapping in the state store.
type Gateway struct {
	api          calendarAPI
	tokens       *TokenManager
	store        state.Store
	logger       *slog.Logger
	loc          *time.Location
	calendarName string
}

// NewGateway wires a gateway over an already-constructed API. Use
// Connect to build one against the real service.
func NewGateway(api calendarAPI, tokens *TokenManager, store state.Store, logger *slog.Logger, loc *time.Location, calendarName string) *Gateway {
	if loc == nil {
		loc = time.UTC
	}
	return &Gateway{
		api:          api,
		tokens:       tokens,
		store:        store,
		logger:       logger,
		loc:          loc,
		calendarName: calendarName,
	}
}

// Connect verifies the cached token and builds a gateway against the
// live Calendar API.
func Connect(ctx context.Context, tokens *TokenManager, store state.Store, logger *slog.Logger, loc *time.Location, calendarName string) (*Gateway, error) {
	tok, err := tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	svc, err := calendar.NewService(ctx, option.WithHTTPClient(tokens.Client(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return NewGateway(&serviceAPI{svc: svc}, tokens, store, logger, loc, calendarName), nil
}

// LocalKey builds the mapping key for an item.
func LocalKey(kind models.Kind, id string) string {
	return fmt.Sprintf("%s:%s", kind, id)
}

// ItemResult is the tagged per-item outcome of a batch push.
type ItemResult struct {
	Key      string
	RemoteID string
	Err      error
}

// Ok reports whether the item was pushed.
func (r ItemResult) Ok() bool { return r.Err == nil }

// PushReport is the outcome of a whole batch.
type PushReport struct {
	CalendarID  string
	SyncedCount int
	Results     []ItemResult
}

// Upsert creates or updates the remote event for localKey. An unmapped
// key issues a create and records the new mapping; a mapped key issues an
// update against the stored remote id.
func (g *Gateway) Upsert(ctx context.Context, localKey string, body models.EventBody) (string, error) {
	calID, err := g.ensureCalendar(ctx)
	if err != nil {
		return "", err
	}
	return g.upsert(ctx, calID, localKey, body)
}

func (g *Gateway) upsert(ctx context.Context, calID, localKey string, body models.EventBody) (string, error) {
	mapping := g.loadMapping()
	ev := g.toCalendarEvent(body)

	if remoteID, ok := mapping[localKey]; ok {
		if _, err := g.api.patchEvent(ctx, calID, remoteID, ev); err != nil {
			return "", &RemoteError{Op: "patch", Key: localKey, Err: err}
		}
		return remoteID, nil
	}

	created, err := g.api.insertEvent(ctx, calID, ev)
	if err != nil {
		return "", &RemoteError{Op: "insert", Key: localKey, Err: err}
	}
	mapping[localKey] = created.Id
	if err := g.saveMapping(mapping); err != nil {
		// The event exists remotely but the mapping write failed. The
		// next sync errs toward a redundant create rather than dropping
		// the item.
		g.logger.Error("Failed to persist event mapping", "key", localKey, "error", err)
	}
	return created.Id, nil
}

// Remove deletes the remote event for localKey and forgets the mapping.
// Unmapped keys are a no-op.
func (g *Gateway) Remove(ctx context.Context, localKey string) error {
	mapping := g.loadMapping()
	remoteID, ok := mapping[localKey]
	if !ok {
		return nil
	}
	calID, err := g.ensureCalendar(ctx)
	if err != nil {
		return err
	}
	if err := g.api.deleteEvent(ctx, calID, remoteID); err != nil {
		return &RemoteError{Op: "delete", Key: localKey, Err: err}
	}
	delete(mapping, localKey)
	return g.saveMapping(mapping)
}

// PushAll pushes every open task, note and event to the dedicated
// calendar. The token and calendar are resolved once; items are then
// upserted strictly sequentially so each mapping write lands before the
// next item begins. Per-item failures are collected, not fatal; only a
// total auth failure aborts the batch.
func (g *Gateway) PushAll(ctx context.Context, tasks []models.Task, notes []models.Note, events []models.Event) (*PushReport, error) {
	if _, err := g.tokens.Token(ctx); err != nil {
		return nil, err
	}
	calID, err := g.ensureCalendar(ctx)
	if err != nil {
		return nil, err
	}

	report := &PushReport{CalendarID: calID}
	push := func(key string, body models.EventBody) {
		remoteID, err := g.upsert(ctx, calID, key, body)
		if err != nil {
			g.logger.Error("Failed to sync item", "key", key, "error", err)
			report.Results = append(report.Results, ItemResult{Key: key, Err: err})
			return
		}
		report.SyncedCount++
		report.Results = append(report.Results, ItemResult{Key: key, RemoteID: remoteID})
	}

	for _, t := range tasks {
		if t.Status == models.TaskStatusDone {
			continue
		}
		push(LocalKey(models.KindTask, t.ID), g.taskBody(t))
	}
	for _, n := range notes {
		push(LocalKey(models.KindNote, n.ID), g.noteBody(n))
	}
	for _, e := range events {
		push(LocalKey(models.KindEvent, e.ID), g.eventBody(e))
	}

	g.logger.Info("Batch push finished.", "calendarID", calID, "synced", report.SyncedCount, "total", len(report.Results))
	return report, nil
}

// ensureCalendar returns the dedicated calendar id, looking existing
// calendars up by name before creating one so repeated sessions never
// produce duplicates.
func (g *Gateway) ensureCalendar(ctx context.Context) (string, error) {
	if id, ok, err := g.store.Get(state.KeyCalendarID); err == nil && ok && id != "" {
		return id, nil
	}

	items, err := g.api.listCalendars(ctx)
	if err != nil {
		return "", &RemoteError{Op: "list", Err: err}
	}
	for _, item := range items {
		if item.Summary == g.calendarName {
			if err := g.store.Set(state.KeyCalendarID, item.Id); err != nil {
				g.logger.Error("Failed to cache calendar id", "error", err)
			}
			return item.Id, nil
		}
	}

	g.logger.Info("Dedicated calendar not found, creating it.", "name", g.calendarName)
	created, err := g.api.insertCalendar(ctx, g.calendarName)
	if err != nil {
		return "", &RemoteError{Op: "insert", Err: err}
	}
	if err := g.store.Set(state.KeyCalendarID, created.Id); err != nil {
		g.logger.Error("Failed to cache calendar id", "error", err)
	}
	return created.Id, nil
}

// loadMapping reads the local-to-remote id map. A failed read is treated
// as an empty map: erring toward a redundant remote create, never toward
// silently dropping an item.
func (g *Gateway) loadMapping() map[string]string {
	raw, ok, err := g.store.Get(state.KeyEventMap)
	if err != nil {
		g.logger.Error("Failed to read event mapping, treating all items as new", "error", err)
		return make(map[string]string)
	}
	if !ok || raw == "" {
		return make(map[string]string)
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		g.logger.Error("Event mapping is corrupt, treating all items as new", "error", err)
		return make(map[string]string)
	}
	return m
}

func (g *Gateway) saveMapping(m map[string]string) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal event mapping: %w", err)
	}
	if err := g.store.Set(state.KeyEventMap, string(raw)); err != nil {
		return fmt.Errorf("failed to persist event mapping: %w", err)
	}
	return nil
}

// MappedCount reports how many local items currently have a remote
// counterpart.
func (g *Gateway) MappedCount() int {
	return len(g.loadMapping())
}

func (g *Gateway) toCalendarEvent(body models.EventBody) *calendar.Event {
	ev := &calendar.Event{
		Summary:     body.Summary,
		Description: body.Description,
		Location:    body.Location,
		Start: &calendar.EventDateTime{
			DateTime: clock.ToOffsetString(body.Start, g.loc),
			TimeZone: g.loc.String(),
		},
		End: &calendar.EventDateTime{
			DateTime: clock.ToOffsetString(body.End, g.loc),
			TimeZone: g.loc.String(),
		},
		Recurrence: body.Recurrence,
	}
	if body.ReminderMinutes > 0 {
		ev.Reminders = &calendar.EventReminders{
			UseDefault: false,
			Overrides: []*calendar.EventReminder{
				{Method: "popup", Minutes: body.ReminderMinutes},
			},
			ForceSendFields: []string{"UseDefault"},
		}
	}
	return ev
}

func (g *Gateway) taskBody(t models.Task) models.EventBody {
	desc := t.Description
	if t.Priority != "" {
		desc = strings.TrimSpace(desc + "\nPriority: " + t.Priority)
	}
	body := models.EventBody{
		Summary:         "Task: " + t.Title,
		Description:     desc,
		Start:           t.DueAt,
		End:             t.DueAt.Add(taskSlotDuration),
		ReminderMinutes: taskReminderMinutes,
	}
	if t.RecurringRule != "" {
		if err := ledger.ValidateRule(t.RecurringRule); err != nil {
			g.logger.Warn("Dropping invalid recurrence rule", "task", t.ID, "error", err)
		} else {
			body.Recurrence = []string{"RRULE:" + t.RecurringRule}
		}
	}
	return body
}

func (g *Gateway) noteBody(n models.Note) models.EventBody {
	desc := n.Content
	if len(n.Tags) > 0 {
		desc = strings.TrimSpace(desc + "\nTags: " + strings.Join(n.Tags, ", "))
	}
	return models.EventBody{
		Summary:         "Note: " + n.Title,
		Description:     desc,
		Start:           n.ScheduledAt,
		End:             n.ScheduledAt.Add(taskSlotDuration),
		ReminderMinutes: noteReminderMinutes,
	}
}

func (g *Gateway) eventBody(e models.Event) models.EventBody {
	end := e.EndAt
	if end.IsZero() {
		end = e.StartAt.Add(eventSlotDuration)
	}
	return models.EventBody{
		Summary:         e.Title,
		Description:     e.Description,
		Location:        e.Location,
		Start:           e.StartAt,
		End:             end,
		ReminderMinutes: eventReminderMinutes,
	}
}
