package assistant

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"queso/internal/models"
)

func TestParseCreateTask(t *testing.T) {
	raw := json.RawMessage(`{
		"title": "Call mom",
		"due_at": "2026-02-01T17:00:00+01:00",
		"priority": "high",
		"recurring_rule": "FREQ=WEEKLY"
	}`)

	task, err := ParseCreateTask(raw)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if task.Title != "Call mom" || task.Priority != "high" {
		t.Errorf("unexpected task %+v", task)
	}
	if task.Status != models.TaskStatusTodo {
		t.Errorf("new task must start as todo, got %s", task.Status)
	}
	want := time.Date(2026, 2, 1, 16, 0, 0, 0, time.UTC)
	if !task.DueAt.Equal(want) {
		t.Errorf("expected due %v, got %v", want, task.DueAt)
	}
	if task.ID == "" {
		t.Error("task must get an id")
	}
}

func TestParseCreateTask_RejectsBareZ(t *testing.T) {
	raw := json.RawMessage(`{"title": "Call mom", "due_at": "2026-02-01T16:00:00Z"}`)
	if _, err := ParseCreateTask(raw); err == nil {
		t.Fatal("bare-Z timestamp must be rejected")
	}
}

func TestParseCreateTask_RejectsMissingFields(t *testing.T) {
	cases := []string{
		`{"due_at": "2026-02-01T17:00:00+01:00"}`,
		`{"title": "No time"}`,
		`{"title": "Bad priority", "due_at": "2026-02-01T17:00:00+01:00", "priority": "urgent"}`,
		`not json`,
	}
	for _, raw := range cases {
		if _, err := ParseCreateTask(json.RawMessage(raw)); err == nil {
			t.Errorf("expected error for %s", raw)
		}
	}
}

func TestParseCreateNote(t *testing.T) {
	raw := json.RawMessage(`{
		"title": "Journal",
		"content": "evening pages",
		"scheduled_at": "2026-02-01T21:00:00+01:00"
	}`)
	note, err := ParseCreateNote(raw)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if note.Content != "evening pages" {
		t.Errorf("unexpected note %+v", note)
	}
}

func TestParseCreateEvent(t *testing.T) {
	raw := json.RawMessage(`{
		"title": "Gym",
		"start_at": "2026-02-01T18:00:00+01:00",
		"end_at": "2026-02-01T19:00:00+01:00"
	}`)
	ev, err := ParseCreateEvent(raw)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ev.Source != models.OriginInternal {
		t.Errorf("assistant-created events are internal, got %s", ev.Source)
	}
	if !ev.EndAt.After(ev.StartAt) {
		t.Error("end must be after start")
	}
}

func TestParseCreateEvent_EndBeforeStart(t *testing.T) {
	raw := json.RawMessage(`{
		"title": "Gym",
		"start_at": "2026-02-01T19:00:00+01:00",
		"end_at": "2026-02-01T18:00:00+01:00"
	}`)
	if _, err := ParseCreateEvent(raw); err == nil {
		t.Fatal("expected error for end before start")
	}
}

func TestSystemInstruction_NamesZoneAndOffset(t *testing.T) {
	lagos, err := time.LoadLocation("Africa/Lagos")
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}
	now := time.Date(2026, 2, 1, 16, 0, 0, 0, time.UTC)

	got := SystemInstruction(now, lagos)
	for _, want := range []string{"Africa/Lagos", "+01:00", "2026-02-01T17:00:00+01:00"} {
		if !strings.Contains(got, want) {
			t.Errorf("instruction missing %q:\n%s", want, got)
		}
	}
}
