// Package store persists the local task, note and event tables as JSON
// files. Local persistence is the source of truth: scheduling actions
// succeed here even when calendar sync later fails, and sync errors never
// roll these rows back.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"queso/internal/models"
)

// Repository reads and writes the three collections under dir.
type Repository struct {
	dir string
}

func NewRepository(dir string) *Repository {
	return &Repository{dir: dir}
}

func (r *Repository) Tasks() ([]models.Task, error) {
	var out []models.Task
	if err := r.load("tasks.json", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) Notes() ([]models.Note, error) {
	var out []models.Note
	if err := r.load("notes.json", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) Events() ([]models.Event, error) {
	var out []models.Event
	if err := r.load("events.json", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddTask persists a new task, assigning an id when absent.
func (r *Repository) AddTask(t models.Task) (models.Task, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = models.TaskStatusTodo
	}
	stamp(&t.CreatedAt, &t.UpdatedAt)
	tasks, err := r.Tasks()
	if err != nil {
		return models.Task{}, err
	}
	return t, r.save("tasks.json", append(tasks, t))
}

// AddNote persists a new note, assigning an id when absent.
func (r *Repository) AddNote(n models.Note) (models.Note, error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	stamp(&n.CreatedAt, &n.UpdatedAt)
	notes, err := r.Notes()
	if err != nil {
		return models.Note{}, err
	}
	return n, r.save("notes.json", append(notes, n))
}

// AddEvent persists a new event, assigning an id when absent.
func (r *Repository) AddEvent(e models.Event) (models.Event, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Source == "" {
		e.Source = models.OriginInternal
	}
	stamp(&e.CreatedAt, &e.UpdatedAt)
	events, err := r.Events()
	if err != nil {
		return models.Event{}, err
	}
	return e, r.save("events.json", append(events, e))
}

// SetTaskStatus updates a task's status in place.
func (r *Repository) SetTaskStatus(id, status string) error {
	tasks, err := r.Tasks()
	if err != nil {
		return err
	}
	for i := range tasks {
		if tasks[i].ID == id {
			tasks[i].Status = status
			tasks[i].UpdatedAt = time.Now()
			return r.save("tasks.json", tasks)
		}
	}
	return fmt.Errorf("task %s not found", id)
}

func (r *Repository) load(name string, into any) error {
	data, err := os.ReadFile(filepath.Join(r.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}

func (r *Repository) save(name string, rows any) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	return os.WriteFile(filepath.Join(r.dir, name), data, 0o644)
}

func stamp(created, updated *time.Time) {
	now := time.Now()
	if created.IsZero() {
		*created = now
	}
	*updated = now
}
