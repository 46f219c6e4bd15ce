package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"

	"queso/internal/models"
	"queso/internal/state"
)

type fakeAPI struct {
	calendars []*calendar.CalendarListEntry
	events    map[string]*calendar.Event // remoteID -> last written body

	calendarInserts int
	inserts         int
	patches         int
	deletes         int
	nextID          int

	failInsertSummary string // insertEvent fails for this summary
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{events: make(map[string]*calendar.Event)}
}

func (f *fakeAPI) listCalendars(context.Context) ([]*calendar.CalendarListEntry, error) {
	return f.calendars, nil
}

func (f *fakeAPI) insertCalendar(_ context.Context, summary string) (*calendar.Calendar, error) {
	f.calendarInserts++
	id := fmt.Sprintf("cal-%d", f.calendarInserts)
	f.calendars = append(f.calendars, &calendar.CalendarListEntry{Id: id, Summary: summary})
	return &calendar.Calendar{Id: id, Summary: summary}, nil
}

func (f *fakeAPI) insertEvent(_ context.Context, _ string, ev *calendar.Event) (*calendar.Event, error) {
	if f.failInsertSummary != "" && ev.Summary == f.failInsertSummary {
		return nil, errors.New("quota exceeded")
	}
	f.inserts++
	f.nextID++
	created := *ev
	created.Id = fmt.Sprintf("remote-%d", f.nextID)
	f.events[created.Id] = &created
	return &created, nil
}

func (f *fakeAPI) patchEvent(_ context.Context, _ string, eventID string, ev *calendar.Event) (*calendar.Event, error) {
	if _, ok := f.events[eventID]; !ok {
		return nil, errors.New("event not found")
	}
	f.patches++
	updated := *ev
	updated.Id = eventID
	f.events[eventID] = &updated
	return &updated, nil
}

func (f *fakeAPI) deleteEvent(_ context.Context, _ string, eventID string) error {
	if _, ok := f.events[eventID]; !ok {
		return errors.New("event not found")
	}
	f.deletes++
	delete(f.events, eventID)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedToken(t *testing.T, store state.Store) {
	t.Helper()
	if err := store.Set(state.KeyAccessToken,
		`{"access_token":"test-token","token_type":"Bearer","expiry":"2099-01-01T00:00:00+00:00"}`); err != nil {
		t.Fatalf("seed token: %v", err)
	}
}

func testGateway(t *testing.T, api calendarAPI, store state.Store) *Gateway {
	t.Helper()
	cfg := &oauth2.Config{ClientID: "id", ClientSecret: "secret"}
	tokens := NewTokenManager(cfg, store, testLogger())
	return NewGateway(api, tokens, store, testLogger(), time.UTC, "Queso Assistant")
}

func sampleItems() ([]models.Task, []models.Note, []models.Event) {
	due := time.Date(2026, 2, 1, 16, 0, 0, 0, time.UTC)
	tasks := []models.Task{{ID: "t1", Title: "Call mom", DueAt: due, Status: models.TaskStatusTodo}}
	notes := []models.Note{{ID: "n1", Title: "Journal", Content: "evening pages", ScheduledAt: due.Add(2 * time.Hour)}}
	events := []models.Event{{ID: "e1", Title: "Gym", StartAt: due.Add(time.Hour), EndAt: due.Add(2 * time.Hour), Source: models.OriginInternal}}
	return tasks, notes, events
}

func TestPushAll_CreatesThenUpdates(t *testing.T) {
	api := newFakeAPI()
	store := state.NewMemStore()
	seedToken(t, store)
	g := testGateway(t, api, store)
	tasks, notes, events := sampleItems()

	first, err := g.PushAll(context.Background(), tasks, notes, events)
	if err != nil {
		t.Fatalf("first push: %v", err)
	}
	if first.SyncedCount != 3 {
		t.Fatalf("expected 3 synced, got %d", first.SyncedCount)
	}
	if api.inserts != 3 || api.patches != 0 {
		t.Fatalf("expected 3 inserts and 0 patches, got %d/%d", api.inserts, api.patches)
	}

	second, err := g.PushAll(context.Background(), tasks, notes, events)
	if err != nil {
		t.Fatalf("second push: %v", err)
	}
	if second.SyncedCount != 3 {
		t.Fatalf("expected 3 synced on re-push, got %d", second.SyncedCount)
	}
	if api.inserts != 3 {
		t.Errorf("re-push created new remote events: %d inserts", api.inserts)
	}
	if api.patches != 3 {
		t.Errorf("expected 3 patches on re-push, got %d", api.patches)
	}
	if g.MappedCount() != 3 {
		t.Errorf("mapping grew on re-push: %d entries", g.MappedCount())
	}
}

func TestPushAll_PartialFailure(t *testing.T) {
	api := newFakeAPI()
	api.failInsertSummary = "Note: Journal"
	store := state.NewMemStore()
	seedToken(t, store)
	g := testGateway(t, api, store)
	tasks, notes, events := sampleItems()

	report, err := g.PushAll(context.Background(), tasks, notes, events)
	if err != nil {
		t.Fatalf("batch must survive a per-item failure, got %v", err)
	}
	if report.SyncedCount != 2 {
		t.Errorf("expected syncedCount 2, got %d", report.SyncedCount)
	}
	if len(report.Results) != 3 {
		t.Fatalf("expected 3 per-item results, got %d", len(report.Results))
	}
	if g.MappedCount() != 2 {
		t.Errorf("mapping must hold only successful entries, got %d", g.MappedCount())
	}

	var failed *ItemResult
	for i := range report.Results {
		if !report.Results[i].Ok() {
			failed = &report.Results[i]
		}
	}
	if failed == nil {
		t.Fatal("expected one failed result")
	}
	if failed.Key != "note:n1" {
		t.Errorf("expected the note to fail, got %s", failed.Key)
	}
	var remoteErr *RemoteError
	if !errors.As(failed.Err, &remoteErr) {
		t.Errorf("expected a RemoteError, got %T", failed.Err)
	}
}

func TestPushAll_AuthFailureAbortsBatch(t *testing.T) {
	api := newFakeAPI()
	store := state.NewMemStore() // no token seeded
	g := testGateway(t, api, store)
	tasks, notes, events := sampleItems()

	_, err := g.PushAll(context.Background(), tasks, notes, events)
	if !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
	if api.inserts != 0 {
		t.Errorf("no items may be pushed without a token, got %d inserts", api.inserts)
	}
}

func TestPushAll_SkipsDoneTasks(t *testing.T) {
	api := newFakeAPI()
	store := state.NewMemStore()
	seedToken(t, store)
	g := testGateway(t, api, store)

	tasks := []models.Task{
		{ID: "t1", Title: "Done", DueAt: time.Now(), Status: models.TaskStatusDone},
		{ID: "t2", Title: "Open", DueAt: time.Now(), Status: models.TaskStatusTodo},
	}
	report, err := g.PushAll(context.Background(), tasks, nil, nil)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if report.SyncedCount != 1 || len(report.Results) != 1 {
		t.Errorf("expected only the open task, got %+v", report)
	}
}

func TestEnsureCalendar_ReusesExistingByName(t *testing.T) {
	api := newFakeAPI()
	api.calendars = []*calendar.CalendarListEntry{
		{Id: "other", Summary: "Personal"},
		{Id: "cal-existing", Summary: "Queso Assistant"},
	}
	store := state.NewMemStore()
	seedToken(t, store)
	g := testGateway(t, api, store)

	id, err := g.ensureCalendar(context.Background())
	if err != nil {
		t.Fatalf("ensureCalendar: %v", err)
	}
	if id != "cal-existing" {
		t.Errorf("expected existing calendar to be reused, got %s", id)
	}
	if api.calendarInserts != 0 {
		t.Errorf("must not create a duplicate calendar, got %d inserts", api.calendarInserts)
	}

	// Second resolve comes from the cached id, not another list call.
	cached, _, err := store.Get(state.KeyCalendarID)
	if err != nil || cached != "cal-existing" {
		t.Errorf("expected calendar id cached in state, got %q err %v", cached, err)
	}
}

func TestEnsureCalendar_CreatesLazilyOnce(t *testing.T) {
	api := newFakeAPI()
	store := state.NewMemStore()
	seedToken(t, store)
	g := testGateway(t, api, store)

	first, err := g.ensureCalendar(context.Background())
	if err != nil {
		t.Fatalf("ensureCalendar: %v", err)
	}
	second, err := g.ensureCalendar(context.Background())
	if err != nil {
		t.Fatalf("ensureCalendar: %v", err)
	}
	if first != second {
		t.Errorf("calendar id changed between calls: %s vs %s", first, second)
	}
	if api.calendarInserts != 1 {
		t.Errorf("expected exactly one calendar creation, got %d", api.calendarInserts)
	}
}

func TestRemove_DeletesAndUnmaps(t *testing.T) {
	api := newFakeAPI()
	store := state.NewMemStore()
	seedToken(t, store)
	g := testGateway(t, api, store)
	tasks, _, _ := sampleItems()

	if _, err := g.PushAll(context.Background(), tasks, nil, nil); err != nil {
		t.Fatalf("push: %v", err)
	}
	key := LocalKey(models.KindTask, "t1")
	if err := g.Remove(context.Background(), key); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if api.deletes != 1 {
		t.Errorf("expected one remote delete, got %d", api.deletes)
	}
	if g.MappedCount() != 0 {
		t.Errorf("expected mapping cleared, got %d entries", g.MappedCount())
	}
	// Removing again is a no-op.
	if err := g.Remove(context.Background(), key); err != nil {
		t.Errorf("second remove must be a no-op, got %v", err)
	}
}

func TestCorruptMapping_TreatedAsNotDuplicate(t *testing.T) {
	api := newFakeAPI()
	store := state.NewMemStore()
	seedToken(t, store)
	if err := store.Set(state.KeyEventMap, "{not json"); err != nil {
		t.Fatalf("seed mapping: %v", err)
	}
	g := testGateway(t, api, store)
	tasks, _, _ := sampleItems()

	report, err := g.PushAll(context.Background(), tasks, nil, nil)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if report.SyncedCount != 1 || api.inserts != 1 {
		t.Errorf("corrupt mapping must err toward creating, got %+v", report)
	}
}

func TestEventBody_TimesCarryOffset(t *testing.T) {
	api := newFakeAPI()
	store := state.NewMemStore()
	seedToken(t, store)

	lagos, err := time.LoadLocation("Africa/Lagos")
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}
	cfg := &oauth2.Config{ClientID: "id", ClientSecret: "secret"}
	g := NewGateway(api, NewTokenManager(cfg, store, testLogger()), store, testLogger(), lagos, "Queso Assistant")

	events := []models.Event{{
		ID:      "e1",
		Title:   "Gym",
		StartAt: time.Date(2026, 2, 1, 16, 0, 0, 0, time.UTC),
		EndAt:   time.Date(2026, 2, 1, 17, 0, 0, 0, time.UTC),
		Source:  models.OriginInternal,
	}}
	if _, err := g.PushAll(context.Background(), nil, nil, events); err != nil {
		t.Fatalf("push: %v", err)
	}

	var pushed *calendar.Event
	for _, ev := range api.events {
		pushed = ev
	}
	if pushed == nil {
		t.Fatal("no event reached the fake API")
	}
	if pushed.Start.DateTime != "2026-02-01T17:00:00+01:00" {
		t.Errorf("start must render in the resolved zone with offset, got %s", pushed.Start.DateTime)
	}
	if strings.HasSuffix(pushed.Start.DateTime, "Z") || strings.HasSuffix(pushed.End.DateTime, "Z") {
		t.Error("pushed times must never use a bare Z suffix")
	}
	if pushed.Start.TimeZone != "Africa/Lagos" {
		t.Errorf("expected timezone field Africa/Lagos, got %s", pushed.Start.TimeZone)
	}
}

func TestTaskBody_RecurrencePassthrough(t *testing.T) {
	api := newFakeAPI()
	store := state.NewMemStore()
	seedToken(t, store)
	g := testGateway(t, api, store)

	tasks := []models.Task{{
		ID:            "t1",
		Title:         "Standup",
		DueAt:         time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC),
		Status:        models.TaskStatusTodo,
		RecurringRule: "FREQ=WEEKLY",
	}}
	if _, err := g.PushAll(context.Background(), tasks, nil, nil); err != nil {
		t.Fatalf("push: %v", err)
	}
	for _, ev := range api.events {
		if len(ev.Recurrence) != 1 || ev.Recurrence[0] != "RRULE:FREQ=WEEKLY" {
			t.Errorf("expected RRULE passthrough, got %v", ev.Recurrence)
		}
		if ev.Summary != "Task: Standup" {
			t.Errorf("expected kind prefix in summary, got %s", ev.Summary)
		}
	}
}

func TestExchange_EmptyCodeIsConsentBlocked(t *testing.T) {
	store := state.NewMemStore()
	cfg := &oauth2.Config{ClientID: "id", ClientSecret: "secret"}
	tokens := NewTokenManager(cfg, store, testLogger())

	if _, err := tokens.Exchange(context.Background(), ""); !errors.Is(err, ErrConsentBlocked) {
		t.Fatalf("expected ErrConsentBlocked, got %v", err)
	}
}

func TestDisconnect_ClearsAllCalendarState(t *testing.T) {
	store := state.NewMemStore()
	seedToken(t, store)
	for _, kv := range [][2]string{
		{state.KeyCalendarConnected, "true"},
		{state.KeyCalendarID, "cal-1"},
		{state.KeyEventMap, `{"task:t1":"remote-1"}`},
	} {
		if err := store.Set(kv[0], kv[1]); err != nil {
			t.Fatalf("seed state: %v", err)
		}
	}

	cfg := &oauth2.Config{ClientID: "id", ClientSecret: "secret"}
	tokens := NewTokenManager(cfg, store, testLogger())
	if err := tokens.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	for _, key := range []string{state.KeyAccessToken, state.KeyCalendarConnected, state.KeyCalendarID, state.KeyEventMap} {
		if _, ok, _ := store.Get(key); ok {
			t.Errorf("key %s survived disconnect", key)
		}
	}
}
